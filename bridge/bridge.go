// Package bridge hands finished frames from the backend device to the
// frontend device through one shared texture.
//
// Both sides take tickets from a shared key counter: a party holding ticket
// k acquires the texture's keyed mutex at k-1 and releases it at k, so the
// two sides alternate strictly in ticket order. A generation counter, bumped
// by every successful publish while the mutex is held, tells the consumer
// whether there is anything new to take.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/richinsley/goscaler/graphics"
)

var (
	// ErrNoFrame means nothing has been published yet.
	ErrNoFrame = errors.New("no frame published")
	// ErrWouldBlock means no frame newer than the last one consumed exists.
	ErrWouldBlock = errors.New("no new frame")
)

// Slot is the state shared by a Producer and a Consumer.
type Slot struct {
	key        atomic.Uint64
	generation atomic.Uint64
	handle     atomic.Pointer[graphics.SharedHandle]
}

func NewSlot() *Slot { return &Slot{} }

// Key returns the last ticket taken by either side.
func (s *Slot) Key() uint64 { return s.key.Load() }

// Generation returns the number of completed publishes.
func (s *Slot) Generation() uint64 { return s.generation.Load() }

// Handle returns the shared texture handle once a producer exists.
func (s *Slot) Handle() (graphics.SharedHandle, bool) {
	h := s.handle.Load()
	if h == nil {
		return 0, false
	}
	return *h, true
}

// Producer is the backend end of a Slot. It must be used from the backend
// device's thread.
type Producer struct {
	slot       *Slot
	dev        graphics.Device
	tex        graphics.SharedTexture
	fence      graphics.Fence
	fenceValue uint64
}

// NewProducer creates the shared texture and the throttling fence on dev and
// advertises the texture through slot.
func NewProducer(slot *Slot, dev graphics.Device, size image.Point, format graphics.Format) (*Producer, error) {
	fence, err := dev.CreateFence(0)
	if err != nil {
		return nil, fmt.Errorf("failed to create fence: %w", err)
	}
	tex, handle, err := dev.CreateSharedTexture(size, format)
	if err != nil {
		fence.Release()
		return nil, fmt.Errorf("failed to create shared texture: %w", err)
	}
	slot.handle.Store(&handle)
	return &Producer{slot: slot, dev: dev, tex: tex, fence: fence}, nil
}

// Publish copies src into the shared texture and makes it visible to the
// consumer, then blocks until the device has finished the copy. It returns
// the new generation.
func (p *Producer) Publish(ctx context.Context, src graphics.Texture) (uint64, error) {
	k := p.slot.key.Add(1)
	if err := p.tex.AcquireSync(ctx, k-1, graphics.Infinite); err != nil {
		return 0, fmt.Errorf("failed to acquire shared texture: %w", err)
	}

	var gen uint64
	copyErr := p.dev.CopyTexture(p.tex, src)
	if copyErr == nil {
		gen = p.slot.generation.Add(1)
	}
	// the key is released even when the copy failed, otherwise the consumer's
	// next ticket would wait forever
	if err := p.tex.ReleaseSync(k); err != nil {
		return 0, fmt.Errorf("failed to release shared texture: %w", err)
	}
	if copyErr != nil {
		return 0, fmt.Errorf("failed to copy into shared texture: %w", copyErr)
	}

	p.fenceValue++
	if err := p.fence.Signal(p.fenceValue); err != nil {
		return gen, fmt.Errorf("failed to signal fence: %w", err)
	}
	p.dev.Flush()
	if p.fence.Completed() >= p.fenceValue {
		return gen, nil
	}
	if err := p.fence.Wait(ctx, p.fenceValue); err != nil {
		return gen, fmt.Errorf("failed to wait for fence: %w", err)
	}
	return gen, nil
}

// FenceValue is the last value signaled on the producer's fence.
func (p *Producer) FenceValue() uint64 { return p.fenceValue }

func (p *Producer) Release() {
	p.tex.Release()
	p.fence.Release()
}

// Consumer is the frontend end of a Slot. It must be used from the frontend
// device's thread.
type Consumer struct {
	slot *Slot
	dev  graphics.Device
	view graphics.SharedTexture
	last uint64
}

func NewConsumer(slot *Slot, dev graphics.Device) *Consumer {
	return &Consumer{slot: slot, dev: dev}
}

// Available reports whether a frame newer than the last acquired one exists,
// opening the shared texture on first use. It returns ErrNoFrame or
// ErrWouldBlock otherwise.
func (c *Consumer) Available() error {
	gen := c.slot.generation.Load()
	if gen == 0 {
		return ErrNoFrame
	}
	if c.view == nil {
		h, ok := c.slot.Handle()
		if !ok {
			return ErrNoFrame
		}
		view, err := c.dev.OpenSharedTexture(h)
		if err != nil {
			return fmt.Errorf("failed to open shared texture: %w", err)
		}
		c.view = view
	}
	if gen <= c.last {
		return ErrWouldBlock
	}
	return nil
}

// Acquire takes the next ticket and waits for the producer to hand the
// texture over. Available must have returned nil.
func (c *Consumer) Acquire(ctx context.Context) (*Lease, error) {
	if c.view == nil {
		return nil, ErrNoFrame
	}
	k := c.slot.key.Add(1)
	if err := c.view.AcquireSync(ctx, k-1, graphics.Infinite); err != nil {
		return nil, fmt.Errorf("failed to acquire shared texture: %w", err)
	}
	gen := c.slot.generation.Load()
	c.last = gen
	return &Lease{view: c.view, key: k, Generation: gen}, nil
}

// TryAcquireLatest combines Available and Acquire.
func (c *Consumer) TryAcquireLatest(ctx context.Context) (*Lease, error) {
	if err := c.Available(); err != nil {
		return nil, err
	}
	return c.Acquire(ctx)
}

// Last returns the generation of the most recently acquired frame.
func (c *Consumer) Last() uint64 { return c.last }

func (c *Consumer) Release() {
	if c.view != nil {
		c.view.Release()
		c.view = nil
	}
}

// Lease is exclusive access to the shared texture holding one generation.
// It must be released before the producer can publish again.
type Lease struct {
	view       graphics.SharedTexture
	key        uint64
	released   bool
	Generation uint64
}

func (l *Lease) Texture() graphics.Texture { return l.view }

func (l *Lease) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	return l.view.ReleaseSync(l.key)
}
