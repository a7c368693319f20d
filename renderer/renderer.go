// Package renderer runs a scaling session: a backend goroutine captures the
// source window and runs the effect chain on its own device, and the
// frontend presents the newest finished frame on the output window.
package renderer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/goscaler/bridge"
	"github.com/richinsley/goscaler/effect"
	"github.com/richinsley/goscaler/framesource"
	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/logging"
	"github.com/richinsley/goscaler/options"
	"go.uber.org/zap"
)

var (
	ErrAlreadyInitialized = errors.New("renderer already initialized")
	ErrClosed             = errors.New("renderer closed")
)

const frameLatencyTimeout = time.Second

var black = [4]float32{0, 0, 0, 1}

// Platform creates the devices and collaborators of a session. The
// frontend methods are called on the thread calling Initialize, the backend
// methods on the backend goroutine.
type Platform interface {
	NewFrontendDevice(out graphics.Window, opts options.ScalingOptions) (graphics.Device, error)
	NewSwapChain(dev graphics.Device, out graphics.Window, opts options.ScalingOptions) (graphics.SwapChain, error)
	NewBackendDevice(opts options.ScalingOptions) (graphics.Device, error)
	NewFrameSource(method options.CaptureMethod) (framesource.FrameSource, error)
	NewCompiler(opts options.ScalingOptions) (effect.Compiler, error)
}

// Renderer is driven by one frontend thread: Initialize, Render and Close
// must all be called from it. Stats and State may be called from anywhere.
type Renderer struct {
	platform Platform
	logger   *zap.Logger

	state        atomic.Int32
	backendState atomic.Int32
	published    atomic.Uint64
	presented    atomic.Uint64
	dropped      atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	slot   *bridge.Slot

	dev       graphics.Device
	swapChain graphics.SwapChain
	consumer  *bridge.Consumer

	closeOnce sync.Once
}

func New(platform Platform, logger *zap.Logger) *Renderer {
	return &Renderer{
		platform: platform,
		logger:   logging.OrNop(logger).With(zap.String("session", uuid.NewString())),
	}
}

func (r *Renderer) State() State { return State(r.state.Load()) }

// Initialize starts the backend and builds the frontend presentation
// resources on the calling thread. A frontend failure is returned without
// stopping the backend; Close tears both down.
func (r *Renderer) Initialize(src framesource.Window, out graphics.Window, opts options.ScalingOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if !r.state.CompareAndSwap(int32(Created), int32(Initializing)) {
		if r.State() == Destroyed {
			return ErrClosed
		}
		return ErrAlreadyInitialized
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.done = make(chan struct{})
	r.slot = bridge.NewSlot()

	r.logger.Info("starting renderer",
		zap.Stringer("source", src),
		zap.Int("width", out.Size().X),
		zap.Int("height", out.Size().Y),
		zap.Int("effects", len(opts.Effects)),
		zap.String("capture", string(opts.CaptureMethod)))

	go r.runBackend(r.ctx, src, out, opts.Clone())

	err := r.initFrontend(out, opts)
	r.state.Store(int32(Running))
	if err != nil {
		r.logger.Error("frontend initialization failed", zap.Error(err))
		return err
	}
	return nil
}

func (r *Renderer) initFrontend(out graphics.Window, opts options.ScalingOptions) error {
	dev, err := r.platform.NewFrontendDevice(out, opts)
	if err != nil {
		return err
	}
	swapChain, err := r.platform.NewSwapChain(dev, out, opts)
	if err != nil {
		dev.Release()
		return err
	}
	r.dev = dev
	r.swapChain = swapChain
	r.consumer = bridge.NewConsumer(r.slot, dev)
	return nil
}

// Render presents the newest published frame, at most once per frame. It
// does nothing before the first publish and drops the tick when no new
// frame exists.
func (r *Renderer) Render() {
	if r.State() != Running || r.consumer == nil {
		return
	}

	switch err := r.consumer.Available(); {
	case err == nil:
	case errors.Is(err, bridge.ErrNoFrame):
		return
	case errors.Is(err, bridge.ErrWouldBlock):
		r.dropped.Add(1)
		return
	default:
		r.logger.Warn("shared frame unavailable", zap.Error(err))
		r.dropped.Add(1)
		return
	}

	if !r.swapChain.WaitFrameLatency(frameLatencyTimeout) {
		r.logger.Debug("frame latency wait timed out")
	}
	back := r.swapChain.BackBuffer()
	if err := r.dev.ClearTexture(back, black); err != nil {
		r.logger.Warn("failed to clear back buffer", zap.Error(err))
	}

	lease, err := r.consumer.Acquire(r.ctx)
	if err != nil {
		r.logger.Warn("failed to acquire shared frame", zap.Error(err))
		r.dropped.Add(1)
		return
	}
	copyErr := r.dev.CopyTexture(back, lease.Texture())
	if err := lease.Release(); err != nil {
		r.logger.Error("failed to release shared frame", zap.Error(err))
	}
	if copyErr != nil {
		r.logger.Warn("failed to copy shared frame", zap.Error(copyErr))
		r.dropped.Add(1)
		return
	}

	if err := r.swapChain.Present(1); err != nil {
		r.logger.Warn("present failed", zap.Error(err))
		r.dropped.Add(1)
		return
	}
	r.swapChain.Discard()
	r.presented.Add(1)
}

// Close stops the backend, waits for it to release its resources and then
// releases the frontend. It is safe to call more than once and at any
// point after New.
func (r *Renderer) Close() error {
	r.closeOnce.Do(func() {
		r.state.Store(int32(ShuttingDown))
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}
		if r.consumer != nil {
			r.consumer.Release()
		}
		if r.swapChain != nil {
			r.swapChain.Release()
		}
		if r.dev != nil {
			r.dev.Release()
		}
		r.state.Store(int32(Destroyed))
		s := r.Stats()
		r.logger.Info("renderer closed",
			zap.Uint64("published", s.Published),
			zap.Uint64("presented", s.Presented),
			zap.Uint64("dropped", s.Dropped),
			zap.Stringer("backend", s.Backend))
	})
	return nil
}

func (r *Renderer) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Presented: r.presented.Load(),
		Dropped:   r.dropped.Load(),
		Backend:   BackendState(r.backendState.Load()),
	}
}
