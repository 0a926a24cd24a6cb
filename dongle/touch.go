package dongle

import (
	"sync"

	"github.com/ardnew/carlink/protocol"
)

// Viewport describes where the video is drawn inside a display surface.
// Pointer positions are in display pixels.
type Viewport struct {
	// Width and Height are the size of the drawn video in display pixels.
	Width, Height float64

	// OffsetX and OffsetY locate the video's top-left corner.
	OffsetX, OffsetY float64
}

// Fit returns the viewport that scales a video of the given size to fit
// within a canvas, preserving the aspect ratio and centring the result.
func Fit(videoW, videoH, canvasW, canvasH int) Viewport {
	if videoW <= 0 || videoH <= 0 || canvasW <= 0 || canvasH <= 0 {
		return Viewport{}
	}
	scale := min(float64(canvasW)/float64(videoW), float64(canvasH)/float64(videoH))
	w := float64(videoW) * scale
	h := float64(videoH) * scale
	return Viewport{
		Width:   w,
		Height:  h,
		OffsetX: float64(int((float64(canvasW) - w) / 2)),
		OffsetY: float64(int((float64(canvasH) - h) / 2)),
	}
}

// Normalize maps a display position to video coordinates in [0,1]. Points
// in the letterbox map outside that range; the encoder clamps them.
func (v Viewport) Normalize(px, py float64) (x, y float64) {
	if v.Width <= 0 || v.Height <= 0 {
		return 0, 0
	}
	return (px - v.OffsetX) / v.Width, (py - v.OffsetY) / v.Height
}

// Contains reports whether a display position lies over the video.
func (v Viewport) Contains(px, py float64) bool {
	return px >= v.OffsetX && px <= v.OffsetX+v.Width &&
		py >= v.OffsetY && py <= v.OffsetY+v.Height
}

// Touch turns single-pointer press, drag and release events in display
// space into [protocol.SendTouch] messages. A press outside the video is
// ignored along with the drag and release that follow it.
type Touch struct {
	mu       sync.Mutex
	viewport Viewport
	down     bool
}

// SetViewport updates the display geometry, typically after a resize or a
// change of video resolution.
func (t *Touch) SetViewport(v Viewport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewport = v
}

// Down handles a pointer press.
func (t *Touch) Down(px, py float64) (protocol.SendTouch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.viewport.Contains(px, py) {
		return protocol.SendTouch{}, false
	}
	t.down = true
	return t.message(px, py, protocol.TouchDown), true
}

// Move handles a pointer drag. Moves without a preceding press produce no
// message.
func (t *Touch) Move(px, py float64) (protocol.SendTouch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.down {
		return protocol.SendTouch{}, false
	}
	return t.message(px, py, protocol.TouchMove), true
}

// Up handles a pointer release.
func (t *Touch) Up(px, py float64) (protocol.SendTouch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.down {
		return protocol.SendTouch{}, false
	}
	t.down = false
	return t.message(px, py, protocol.TouchUp), true
}

func (t *Touch) message(px, py float64, action protocol.TouchAction) protocol.SendTouch {
	x, y := t.viewport.Normalize(px, py)
	return protocol.SendTouch{X: x, Y: y, Action: action}
}
