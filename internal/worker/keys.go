package worker

// Logical keys produced by decodeKeys. Movement keys double as direction
// names on the wire.
const (
	keyUp         = "up"
	keyDown       = "down"
	keyLeft       = "left"
	keyRight      = "right"
	keyZoomIn     = "zoom_in"
	keyZoomOut    = "zoom_out"
	keyRenderMode = "render_mode"
	keyCameraMode = "camera_mode"
)

// applyViewKey mutates presentation state for a non-movement key.
func applyViewKey(v *viewState, key string) {
	switch key {
	case keyZoomIn:
		if v.Zoom < 4 {
			v.Zoom++
		}
	case keyZoomOut:
		if v.Zoom > 1 {
			v.Zoom--
		}
	case keyRenderMode:
		if v.RenderMode == "color" {
			v.RenderMode = "mono"
		} else {
			v.RenderMode = "color"
		}
	case keyCameraMode:
		if v.CameraMode == "follow" {
			v.CameraMode = "fixed"
		} else {
			v.CameraMode = "follow"
		}
	}
}

// decodeKeys translates raw terminal bytes into logical keys. Arrow keys
// arrive as CSI sequences; wasd and hjkl work for clients without arrow
// key support. Unrecognized bytes are dropped.
func decodeKeys(data []byte) []string {
	var keys []string
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == 0x1b && i+2 < len(data) && data[i+1] == '[' {
			switch data[i+2] {
			case 'A':
				keys = append(keys, keyUp)
			case 'B':
				keys = append(keys, keyDown)
			case 'C':
				keys = append(keys, keyRight)
			case 'D':
				keys = append(keys, keyLeft)
			}
			i += 2
			continue
		}
		switch b {
		case 'w', 'W', 'k':
			keys = append(keys, keyUp)
		case 's', 'S', 'j':
			keys = append(keys, keyDown)
		case 'a', 'A', 'h':
			keys = append(keys, keyLeft)
		case 'd', 'D', 'l':
			keys = append(keys, keyRight)
		case '+', '=':
			keys = append(keys, keyZoomIn)
		case '-', '_':
			keys = append(keys, keyZoomOut)
		case 'm', 'M':
			keys = append(keys, keyRenderMode)
		case 'c', 'C':
			keys = append(keys, keyCameraMode)
		}
	}
	return keys
}
