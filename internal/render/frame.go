// Package render turns a per-session view of the world into terminal
// output bytes. The simulation treats rendering as a collaborator: the
// worker assembles a Scene and hands it to a FrameRenderer, and the
// resulting frame crosses the IPC boundary as opaque bytes. ANSI is the
// default implementation; anything that can produce bytes for a terminal
// can stand in.
package render

import (
	"bytes"
	"fmt"

	"github.com/mattn/go-runewidth"
)

// Sprite is one glyph placed at world coordinates.
type Sprite struct {
	X, Y  int
	Glyph rune
}

// Scene is everything needed to draw one frame for one session.
type Scene struct {
	Cols, Rows       int
	CenterX, CenterY int
	Zoom             int

	// TileGlyph maps world coordinates to a terrain glyph.
	TileGlyph func(x, y int) rune

	Sprites []Sprite
	Status  string

	// Mono suppresses attribute escapes for clients on slow links or
	// limited terminals.
	Mono bool
}

// FrameRenderer produces the output bytes for one scene.
type FrameRenderer interface {
	Render(s Scene) []byte
}

// ANSI renders plain ANSI frames: cursor home, viewport rows, a status
// line on the bottom row.
type ANSI struct{}

// Render draws the viewport centered on (CenterX, CenterY). Zoom > 1
// doubles tiles horizontally per level so zoomed views stay readable on
// narrow terminals.
func (r ANSI) Render(s Scene) []byte {
	cols, rows := s.Cols, s.Rows
	if cols <= 0 || rows <= 1 {
		return nil
	}
	zoom := s.Zoom
	if zoom < 1 {
		zoom = 1
	}
	viewW := cols / zoom
	if viewW < 1 {
		viewW = 1
	}
	viewH := rows - 1 // last row is the status line

	sprites := make(map[[2]int]rune, len(s.Sprites))
	for _, sp := range s.Sprites {
		sprites[[2]int{sp.X, sp.Y}] = sp.Glyph
	}

	var buf bytes.Buffer
	buf.Grow(cols*rows + 64)
	buf.WriteString("\x1b[H") // cursor home; full repaint each frame

	minX := s.CenterX - viewW/2
	minY := s.CenterY - viewH/2
	for vy := 0; vy < viewH; vy++ {
		for vx := 0; vx < viewW; vx++ {
			x, y := minX+vx, minY+vy
			g, ok := sprites[[2]int{x, y}]
			if !ok && s.TileGlyph != nil {
				g = s.TileGlyph(x, y)
			}
			if g == 0 {
				g = ' '
			}
			for i := 0; i < zoom; i++ {
				buf.WriteRune(g)
			}
		}
		buf.WriteString("\x1b[K\r\n")
	}

	// Truncate by display cells, not bytes; usernames in the status line
	// are arbitrary UTF-8 and glyphs may be double-width.
	status := runewidth.Truncate(s.Status, cols, "")
	if s.Mono {
		fmt.Fprintf(&buf, "%s\x1b[K", status)
	} else {
		fmt.Fprintf(&buf, "\x1b[7m%s\x1b[0m\x1b[K", status)
	}
	return buf.Bytes()
}
