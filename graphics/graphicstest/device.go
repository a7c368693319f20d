// Package graphicstest provides an instrumented in-memory graphics.Device.
//
// Textures carry a Content tag instead of pixels. Draws and copies
// propagate the tag, so tests can follow a captured frame through the
// effect chain, across the shared texture and into presented frames. Every
// GPU-visible operation is counted.
package graphicstest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/keyedmutex"
)

// Counters are updated atomically and may be read from any goroutine.
type Counters struct {
	Draws        atomic.Int64
	Copies       atomic.Int64
	Clears       atomic.Int64
	Uploads      atomic.Int64
	FenceSignals atomic.Int64
	Flushes      atomic.Int64
	Programs     atomic.Int64
	// Acquires counts successful AcquireSync calls on shared textures.
	Acquires atomic.Int64
}

// Hub plays the role of the GPU adapter: shared textures created on one
// device can be opened by another device of the same hub.
type Hub struct {
	mu      sync.Mutex
	next    graphics.SharedHandle
	handles map[graphics.SharedHandle]*allocation
}

func NewHub() *Hub {
	return &Hub{handles: make(map[graphics.SharedHandle]*allocation)}
}

type allocation struct {
	size    image.Point
	format  graphics.Format
	content atomic.Uint64
	mutex   *keyedmutex.Mutex
}

// Device is a graphics.Device that records what it is asked to do.
type Device struct {
	Name     string
	Counters Counters
	// FailCreateTexture, FailCreateProgram, FailFence and FailShared make the
	// matching calls fail, to exercise initialization error paths.
	FailCreateTexture bool
	FailCreateProgram bool
	FailFence         bool
	FailShared        bool
	// FenceDelay delays fence completion after Signal.
	FenceDelay time.Duration

	hub      *Hub
	caps     graphics.Caps
	released atomic.Bool
	live     atomic.Int64

	mu     sync.Mutex
	passes []graphics.DrawPass
}

func NewDevice(hub *Hub, name string) *Device {
	return &Device{
		Name: name,
		hub:  hub,
		caps: graphics.Caps{Renderer: "graphicstest", Version: "1.0", MaxTextureSize: 16384},
	}
}

// SetVariableRefresh changes the VariableRefresh capability.
func (d *Device) SetVariableRefresh(v bool) { d.caps.VariableRefresh = v }

func (d *Device) Caps() graphics.Caps { return d.caps }

// Released reports whether Release was called.
func (d *Device) Released() bool { return d.released.Load() }

// LiveTextures reports textures created and not yet released.
func (d *Device) LiveTextures() int64 { return d.live.Load() }

// Texture is the in-memory texture type.
type Texture struct {
	dev      *Device
	alloc    *allocation
	label    string
	released atomic.Bool
}

func (t *Texture) Size() image.Point       { return t.alloc.size }
func (t *Texture) Format() graphics.Format { return t.alloc.format }

// Content returns the tag last written into the texture.
func (t *Texture) Content() uint64 { return t.alloc.content.Load() }

// SetContent writes a tag, standing in for a capture or upload.
func (t *Texture) SetContent(v uint64) { t.alloc.content.Store(v) }

func (t *Texture) Label() string { return t.label }

func (t *Texture) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.dev.live.Add(-1)
	}
}

func (t *Texture) String() string {
	return fmt.Sprintf("%s(%s %dx%d)", t.label, t.alloc.format, t.alloc.size.X, t.alloc.size.Y)
}

func (d *Device) newTexture(alloc *allocation, label string) *Texture {
	d.live.Add(1)
	return &Texture{dev: d, alloc: alloc, label: label}
}

func (d *Device) CreateTexture(size image.Point, format graphics.Format) (graphics.Texture, error) {
	if d.FailCreateTexture {
		return nil, errors.New("graphicstest: texture creation disabled")
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("graphicstest: invalid texture size %v", size)
	}
	return d.newTexture(&allocation{size: size, format: format}, "texture"), nil
}

func (d *Device) own(tex graphics.Texture) (*Texture, error) {
	var t *Texture
	switch v := tex.(type) {
	case *Texture:
		t = v
	case *SharedTexture:
		t = v.Texture
	case *BackBuffer:
		t = v.Texture
	default:
		return nil, graphics.ErrForeign
	}
	if t.dev != d {
		return nil, graphics.ErrForeign
	}
	return t, nil
}

func (d *Device) UploadTexture(tex graphics.Texture, pixels []byte) error {
	t, err := d.own(tex)
	if err != nil {
		return err
	}
	want := t.alloc.size.X * t.alloc.size.Y * 4
	if len(pixels) != want {
		return fmt.Errorf("graphicstest: upload of %d bytes into %d byte texture", len(pixels), want)
	}
	var tag uint64
	for i := 0; i < 8 && i < len(pixels); i++ {
		tag |= uint64(pixels[i]) << (8 * i)
	}
	t.alloc.content.Store(tag)
	d.Counters.Uploads.Add(1)
	return nil
}

// Program is a no-op program with a fixed set of uniforms.
type Program struct {
	Vertex, Fragment string
	uniforms         map[string]int32
}

func (p *Program) Uniform(name string) int32 {
	if loc, ok := p.uniforms[name]; ok {
		return loc
	}
	return -1
}

func (p *Program) Release() {}

// CreateProgram assigns a location to every identifier of the form
// "uniform <type> <name>;" in the fragment source.
func (d *Device) CreateProgram(vertex, fragment string) (graphics.Program, error) {
	if d.FailCreateProgram {
		return nil, errors.New("graphicstest: program creation disabled")
	}
	d.Counters.Programs.Add(1)
	return &Program{Vertex: vertex, Fragment: fragment, uniforms: scanUniforms(fragment)}, nil
}

func (d *Device) Draw(pass graphics.DrawPass) error {
	in, err := d.own(pass.Input)
	if err != nil {
		return fmt.Errorf("draw input: %w", err)
	}
	out, err := d.own(pass.Output)
	if err != nil {
		return fmt.Errorf("draw output: %w", err)
	}
	out.alloc.content.Store(in.alloc.content.Load())
	d.Counters.Draws.Add(1)
	d.mu.Lock()
	d.passes = append(d.passes, pass)
	d.mu.Unlock()
	return nil
}

// Passes returns every pass drawn so far, oldest first.
func (d *Device) Passes() []graphics.DrawPass {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]graphics.DrawPass(nil), d.passes...)
}

func (d *Device) CopyTexture(dst, src graphics.Texture) error {
	s, err := d.own(src)
	if err != nil {
		return err
	}
	t, err := d.own(dst)
	if err != nil {
		return err
	}
	t.alloc.content.Store(s.alloc.content.Load())
	d.Counters.Copies.Add(1)
	return nil
}

func (d *Device) ClearTexture(tex graphics.Texture, _ [4]float32) error {
	t, err := d.own(tex)
	if err != nil {
		return err
	}
	t.alloc.content.Store(0)
	d.Counters.Clears.Add(1)
	return nil
}

func (d *Device) Flush() { d.Counters.Flushes.Add(1) }

func (d *Device) Release() { d.released.Store(true) }

// Fence completes signaled values after the device's FenceDelay.
type Fence struct {
	dev       *Device
	mu        sync.Mutex
	completed uint64
	signaled  uint64
	changed   chan struct{}
}

func (d *Device) CreateFence(initial uint64) (graphics.Fence, error) {
	if d.FailFence {
		return nil, errors.New("graphicstest: fence creation disabled")
	}
	return &Fence{dev: d, completed: initial, signaled: initial, changed: make(chan struct{})}, nil
}

func (f *Fence) Signal(value uint64) error {
	f.mu.Lock()
	if value <= f.signaled {
		f.mu.Unlock()
		return fmt.Errorf("graphicstest: fence value %d not above %d", value, f.signaled)
	}
	f.signaled = value
	f.mu.Unlock()
	f.dev.Counters.FenceSignals.Add(1)

	complete := func() {
		f.mu.Lock()
		if value > f.completed {
			f.completed = value
		}
		close(f.changed)
		f.changed = make(chan struct{})
		f.mu.Unlock()
	}
	if f.dev.FenceDelay > 0 {
		time.AfterFunc(f.dev.FenceDelay, complete)
	} else {
		complete()
	}
	return nil
}

func (f *Fence) Wait(ctx context.Context, value uint64) error {
	for {
		f.mu.Lock()
		if f.completed >= value {
			f.mu.Unlock()
			return nil
		}
		changed := f.changed
		f.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Fence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Signaled returns the highest value passed to Signal.
func (f *Fence) Signaled() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) Release() {}

// SharedTexture is one device's view of a hub allocation.
type SharedTexture struct {
	*Texture
}

func (s *SharedTexture) AcquireSync(ctx context.Context, key uint64, timeout time.Duration) error {
	if err := s.alloc.mutex.Acquire(ctx, key, timeout); err != nil {
		return err
	}
	s.dev.Counters.Acquires.Add(1)
	return nil
}

func (s *SharedTexture) ReleaseSync(key uint64) error {
	return s.alloc.mutex.Release(key)
}

func (d *Device) CreateSharedTexture(size image.Point, format graphics.Format) (graphics.SharedTexture, graphics.SharedHandle, error) {
	if d.FailShared {
		return nil, 0, errors.New("graphicstest: shared textures disabled")
	}
	alloc := &allocation{size: size, format: format, mutex: keyedmutex.New()}
	d.hub.mu.Lock()
	d.hub.next++
	h := d.hub.next
	d.hub.handles[h] = alloc
	d.hub.mu.Unlock()
	return &SharedTexture{Texture: d.newTexture(alloc, "shared")}, h, nil
}

func (d *Device) OpenSharedTexture(h graphics.SharedHandle) (graphics.SharedTexture, error) {
	d.hub.mu.Lock()
	alloc, ok := d.hub.handles[h]
	d.hub.mu.Unlock()
	if !ok {
		return nil, graphics.ErrBadHandle
	}
	return &SharedTexture{Texture: d.newTexture(alloc, "shared-view")}, nil
}
