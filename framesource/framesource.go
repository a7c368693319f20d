// Package framesource defines where captured frames come from and provides
// the ffmpeg-backed window and file capture.
package framesource

import (
	"errors"
	"fmt"
	"image"

	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/options"
	"go.uber.org/zap"
)

var ErrUnknownCaptureMethod = errors.New("unknown capture method")

// UpdateState is the per-tick result of FrameSource.Update.
type UpdateState int

const (
	NoUpdate UpdateState = iota
	NewFrame
	Lost
)

func (s UpdateState) String() string {
	switch s {
	case NoUpdate:
		return "no update"
	case NewFrame:
		return "new frame"
	case Lost:
		return "lost"
	}
	return fmt.Sprintf("UpdateState(%d)", int(s))
}

// Window identifies the captured window. Either Title or ID is required for
// live capture; Size is optional and probed when zero.
type Window struct {
	Title string
	ID    uint64
	Size  image.Point
}

func (w Window) String() string {
	if w.Title != "" {
		return fmt.Sprintf("%q", w.Title)
	}
	return fmt.Sprintf("0x%x", w.ID)
}

// FrameSource produces the texture the effect chain reads. All methods are
// called on the backend thread.
type FrameSource interface {
	Initialize(src Window, out graphics.Window, opts options.ScalingOptions, dev graphics.Device) error
	// Output is valid after Initialize and keeps its size for the source's lifetime.
	Output() graphics.Texture
	Update() UpdateState
	Name() string
	Release()
}

// Notifier is implemented by sources that can signal a new frame, letting
// the backend wake before its 1ms poll.
type Notifier interface {
	Notify() <-chan struct{}
}

// New returns the frame source for method.
func New(method options.CaptureMethod, logger *zap.Logger) (FrameSource, error) {
	switch method {
	case options.CaptureFFmpeg, options.CaptureFile:
		return NewFFmpeg(method, logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCaptureMethod, method)
}
