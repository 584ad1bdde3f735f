package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScene() Scene {
	return Scene{
		Cols:      10,
		Rows:      4,
		CenterX:   0,
		CenterY:   0,
		Zoom:      1,
		TileGlyph: func(x, y int) rune { return '.' },
		Sprites:   []Sprite{{X: 0, Y: 0, Glyph: '@'}},
		Status:    "s",
	}
}

func TestANSIFrameShape(t *testing.T) {
	out := string(ANSI{}.Render(testScene()))

	require.True(t, strings.HasPrefix(out, "\x1b[H"), "frame repaints from home")
	// Rows minus the status line, each ended with erase-to-EOL + CRLF.
	assert.Equal(t, 3, strings.Count(out, "\r\n"))
	assert.Contains(t, out, "@")
	assert.Contains(t, out, "s")
}

func TestANSISpriteOverridesTile(t *testing.T) {
	s := testScene()
	out := string(ANSI{}.Render(s))

	// The viewport centers on (0,0); the player glyph replaces the tile.
	lines := strings.Split(out, "\r\n")
	mid := lines[len(lines)/2-1]
	assert.Contains(t, mid, "@")
}

func TestANSIZoomDoublesGlyphs(t *testing.T) {
	s := testScene()
	s.Zoom = 2
	s.Sprites = nil
	out := string(ANSI{}.Render(s))

	// Zoom 2 over 10 cols: 5 world tiles drawn twice each per row.
	firstRow := strings.Split(strings.TrimPrefix(out, "\x1b[H"), "\x1b[K")[0]
	assert.Equal(t, strings.Repeat(".", 10), firstRow)
}

func TestANSIMonoOmitsAttributes(t *testing.T) {
	s := testScene()
	s.Mono = true
	out := string(ANSI{}.Render(s))
	assert.NotContains(t, out, "\x1b[7m")
	assert.NotContains(t, out, "\x1b[0m")
}

func TestANSIStatusTruncatedToWidth(t *testing.T) {
	s := testScene()
	s.Status = strings.Repeat("z", 50)
	out := string(ANSI{}.Render(s))
	assert.Contains(t, out, strings.Repeat("z", 10))
	assert.NotContains(t, out, strings.Repeat("z", 11))
}

func TestANSIStatusTruncationKeepsRunesWhole(t *testing.T) {
	s := testScene()

	// Multibyte usernames must never be cut mid-rune.
	s.Status = strings.Repeat("é", 50)
	out := string(ANSI{}.Render(s))
	require.True(t, utf8.ValidString(out))
	assert.Contains(t, out, strings.Repeat("é", 10))
	assert.NotContains(t, out, strings.Repeat("é", 11))

	// Wide glyphs count as two cells, so only five fit in ten columns.
	s.Status = strings.Repeat("世", 50)
	out = string(ANSI{}.Render(s))
	assert.Contains(t, out, strings.Repeat("世", 5))
	assert.NotContains(t, out, strings.Repeat("世", 6))
}

func TestANSIDegenerateGeometry(t *testing.T) {
	s := testScene()
	s.Cols, s.Rows = 0, 0
	assert.Empty(t, ANSI{}.Render(s))
}
