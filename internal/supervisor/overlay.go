package supervisor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

const clearScreen = "\x1b[2J\x1b[H"

const overlayMessage = "⟳ world is updating, hang tight"

// renderOverlay paints the reload notice centered in a box. Widths come
// from runewidth so wide glyphs do not skew the border.
func renderOverlay(cols, rows int) []byte {
	msg := overlayMessage
	w := runewidth.StringWidth(msg)
	if cols > 0 && w > cols-4 {
		msg = runewidth.Truncate(msg, cols-4, "…")
		w = runewidth.StringWidth(msg)
	}

	var buf bytes.Buffer
	buf.WriteString(clearScreen)
	if cols <= 0 || rows <= 0 {
		fmt.Fprintf(&buf, "%s\r\n", msg)
		return buf.Bytes()
	}

	boxW := w + 4
	left := (cols - boxW) / 2
	if left < 0 {
		left = 0
	}
	top := rows/2 - 1
	if top < 1 {
		top = 1
	}
	pad := strings.Repeat(" ", left)

	fmt.Fprintf(&buf, "\x1b[%d;1H", top)
	fmt.Fprintf(&buf, "%s┌%s┐\r\n", pad, strings.Repeat("─", boxW-2))
	fmt.Fprintf(&buf, "%s│ %s │\r\n", pad, msg)
	fmt.Fprintf(&buf, "%s└%s┘\r\n", pad, strings.Repeat("─", boxW-2))
	return buf.Bytes()
}
