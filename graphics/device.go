package graphics

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/richinsley/goscaler/keyedmutex"
)

var (
	ErrDeviceLost   = errors.New("graphics device lost")
	ErrUnsupported  = errors.New("operation not supported by device")
	ErrForeign      = errors.New("resource belongs to another device")
	ErrBadHandle    = errors.New("invalid shared handle")
	ErrSizeMismatch = errors.New("texture size mismatch")
	ErrTimeout      = keyedmutex.ErrTimeout
)

// Infinite disables a wait timeout.
const Infinite = keyedmutex.Infinite

// Format is a texture pixel format.
type Format int

const (
	FormatRGBA8 Format = iota
	FormatRGBA16F
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGBA16F:
		return "RGBA16F"
	}
	return "unknown"
}

// Texture is a 2D GPU texture owned by exactly one device.
type Texture interface {
	Size() image.Point
	Format() Format
	Release()
}

// Program is a linked vertex+fragment pipeline.
type Program interface {
	// Uniform returns the location of a (translated) uniform name, or -1 when the program does not use it.
	Uniform(name string) int32
	Release()
}

// Uniform is a value bound to a program location before a draw.
type Uniform struct {
	Location int32
	Float    []float32 // 1 to 4 components
	Int      int32
	IsInt    bool
}

// DrawPass is one full-screen draw of Program sampling Input into Output.
type DrawPass struct {
	Program  Program
	Input    Texture
	Sampler  int32 // location of the input sampler, or -1
	Output   Texture
	Uniforms []Uniform
}

// Caps are the capability queries a device answers.
type Caps struct {
	Renderer        string
	Version         string
	VariableRefresh bool // tearing / adaptive sync presentation
	MaxTextureSize  int
}

// Device owns one GPU context. All methods must be called from the thread
// that created the device.
type Device interface {
	Caps() Caps
	CreateTexture(size image.Point, format Format) (Texture, error)
	// UploadTexture replaces the texture contents with tightly packed RGBA8 pixels.
	UploadTexture(tex Texture, pixels []byte) error
	CreateProgram(vertex, fragment string) (Program, error)
	Draw(pass DrawPass) error
	// CopyTexture copies src into dst. When sizes differ src is centered in dst and clipped to it.
	CopyTexture(dst, src Texture) error
	ClearTexture(tex Texture, color [4]float32) error
	CreateFence(initial uint64) (Fence, error)
	CreateSharedTexture(size image.Point, format Format) (SharedTexture, SharedHandle, error)
	OpenSharedTexture(h SharedHandle) (SharedTexture, error)
	// Flush submits queued commands without waiting for them.
	Flush()
	Release()
}

// Fence is a monotonic GPU timeline. Signal enqueues a value; Completed
// reports the highest value the GPU has passed.
type Fence interface {
	Signal(value uint64) error
	Wait(ctx context.Context, value uint64) error
	Completed() uint64
	Release()
}

// SharedHandle names a texture allocation that another device may open.
type SharedHandle uint64

// SharedTexture is one device's view of a cross-device texture, guarded by
// a keyed mutex shared by every view of the same allocation.
type SharedTexture interface {
	Texture
	AcquireSync(ctx context.Context, key uint64, timeout time.Duration) error
	ReleaseSync(key uint64) error
}

// SwapChainDesc configures the presentation surface.
type SwapChainDesc struct {
	Size            image.Point
	BufferCount     int
	AllowTearing    bool
	MaxFrameLatency int
}

// SwapChain presents a back buffer to a window.
type SwapChain interface {
	BackBuffer() Texture
	// WaitFrameLatency blocks until the swap chain can accept another frame.
	// It returns false when the timeout elapsed first.
	WaitFrameLatency(timeout time.Duration) bool
	Present(syncInterval int) error
	// Discard marks the back buffer contents as undefined.
	Discard()
	Release()
}

// FitCentered returns the destination rectangle for copying a src sized
// image centered into dst, and the matching source rectangle, both clipped.
func FitCentered(dst, src image.Point) (dr, sr image.Rectangle) {
	w, h := min(dst.X, src.X), min(dst.Y, src.Y)
	dx, dy := (dst.X-w)/2, (dst.Y-h)/2
	sx, sy := (src.X-w)/2, (src.Y-h)/2
	return image.Rect(dx, dy, dx+w, dy+h), image.Rect(sx, sy, sx+w, sy+h)
}

// FlipY returns r's vertical blit bounds inside a surface of the given
// height with the origin moved to the other edge. The bounds come back
// swapped, so a blit through them mirrors the image.
func FlipY(r image.Rectangle, height int) (y0, y1 int) {
	return height - r.Min.Y, height - r.Max.Y
}
