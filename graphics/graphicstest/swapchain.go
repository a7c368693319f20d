package graphicstest

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richinsley/goscaler/graphics"
)

// BackBuffer is the swap chain's render target.
type BackBuffer struct {
	*Texture
}

// SwapChain records the content tag of every presented back buffer.
type SwapChain struct {
	Desc graphics.SwapChainDesc
	// LatencyBlocked makes WaitFrameLatency report a timeout.
	LatencyBlocked atomic.Bool

	dev        *Device
	backBuffer *BackBuffer
	mu         sync.Mutex
	presented  []uint64
	intervals  []int
	discards   int
	latency    int
	released   bool
}

func (d *Device) NewSwapChain(desc graphics.SwapChainDesc) *SwapChain {
	alloc := &allocation{size: desc.Size, format: graphics.FormatRGBA8}
	return &SwapChain{Desc: desc, dev: d, backBuffer: &BackBuffer{Texture: d.newTexture(alloc, "backbuffer")}}
}

func (s *SwapChain) BackBuffer() graphics.Texture { return s.backBuffer }

func (s *SwapChain) WaitFrameLatency(timeout time.Duration) bool {
	s.mu.Lock()
	s.latency++
	s.mu.Unlock()
	return !s.LatencyBlocked.Load()
}

func (s *SwapChain) Present(syncInterval int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented = append(s.presented, s.backBuffer.Content())
	s.intervals = append(s.intervals, syncInterval)
	return nil
}

func (s *SwapChain) Discard() {
	s.mu.Lock()
	s.discards++
	s.mu.Unlock()
}

func (s *SwapChain) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	s.backBuffer.Release()
}

// Presented returns the content tags of all presented frames, in order.
func (s *SwapChain) Presented() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.presented...)
}

// Intervals returns the sync interval of every Present call.
func (s *SwapChain) Intervals() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.intervals...)
}

func (s *SwapChain) Discards() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discards
}

func (s *SwapChain) LatencyWaits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

func (s *SwapChain) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Window is a fixed-size output window counting wake-ups.
type Window struct {
	size  image.Point
	wakes atomic.Int64
}

func NewWindow(w, h int) *Window { return &Window{size: image.Pt(w, h)} }

func (w *Window) Size() image.Point { return w.size }
func (w *Window) Wake()             { w.wakes.Add(1) }
func (w *Window) Wakes() int64      { return w.wakes.Load() }
