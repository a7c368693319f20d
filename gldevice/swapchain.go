package gldevice

import (
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/goscaler/graphics"
)

// SwapChain presents the default framebuffer of the device's window. GL
// exposes no frame-latency object, so one is emulated with a fence inserted
// after every swap.
type SwapChain struct {
	dev     *Device
	desc    graphics.SwapChainDesc
	back    *Texture
	pending []uintptr
}

var _ graphics.SwapChain = (*SwapChain)(nil)

// NewSwapChain wraps the default framebuffer of dev's context. The buffer
// count is decided by the window system; it is only recorded.
func NewSwapChain(dev *Device, desc graphics.SwapChainDesc) *SwapChain {
	if desc.MaxFrameLatency < 1 {
		desc.MaxFrameLatency = 1
	}
	return &SwapChain{
		dev:  dev,
		desc: desc,
		back: &Texture{dev: dev, size: desc.Size, format: graphics.FormatRGBA8},
	}
}

func (s *SwapChain) BackBuffer() graphics.Texture { return s.back }

func (s *SwapChain) WaitFrameLatency(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for len(s.pending) >= s.desc.MaxFrameLatency {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		res := gl.ClientWaitSync(s.pending[0], gl.SYNC_FLUSH_COMMANDS_BIT, uint64(remaining.Nanoseconds()))
		if res == gl.TIMEOUT_EXPIRED {
			return false
		}
		gl.DeleteSync(s.pending[0])
		s.pending = s.pending[1:]
	}
	return true
}

// Present swaps buffers. With tearing allowed a positive interval becomes
// adaptive (late frames tear instead of waiting a full refresh).
func (s *SwapChain) Present(syncInterval int) error {
	interval := syncInterval
	if s.desc.AllowTearing && interval > 0 {
		interval = -interval
	}
	s.dev.ctx.SwapBuffers(interval)
	if fence := gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0); fence != 0 {
		s.pending = append(s.pending, fence)
	}
	return s.dev.check("present")
}

// Discard is a no-op: GL 4.1 has no framebuffer invalidation.
func (s *SwapChain) Discard() {}

func (s *SwapChain) Release() {
	for _, fence := range s.pending {
		gl.DeleteSync(fence)
	}
	s.pending = nil
}
