package renderer

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/richinsley/goscaler/bridge"
	"github.com/richinsley/goscaler/effect"
	"github.com/richinsley/goscaler/framesource"
	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/options"
	"go.uber.org/zap"
)

const pollInterval = time.Millisecond

// backend owns everything on the capture side. It lives on one locked OS
// thread from creation to release.
type backend struct {
	logger    *zap.Logger
	out       graphics.Window
	published *atomic.Uint64

	dev      graphics.Device
	source   framesource.FrameSource
	chain    *effect.Chain
	producer *bridge.Producer
	notify   <-chan struct{}
	lost     bool
}

func (r *Renderer) runBackend(ctx context.Context, src framesource.Window, out graphics.Window, opts options.ScalingOptions) {
	defer close(r.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger := r.logger.With(zap.String("component", "backend"))
	b := &backend{logger: logger, out: out, published: &r.published}
	defer b.release()

	if err := b.start(ctx, r.platform, r.slot, src, opts); err != nil {
		if ctx.Err() != nil {
			logger.Info("backend cancelled during startup")
			r.backendState.Store(int32(BackendStopped))
			return
		}
		logger.Error("backend initialization failed", zap.Error(err))
		r.backendState.Store(int32(BackendFailed))
		return
	}
	r.backendState.Store(int32(BackendRunning))
	b.run(ctx)
	r.backendState.Store(int32(BackendStopped))
}

// start creates the backend resources in dependency order, checking for
// cancellation between the slow steps. Whatever was created is released by
// release even when start fails.
func (b *backend) start(ctx context.Context, p Platform, slot *bridge.Slot, src framesource.Window, opts options.ScalingOptions) error {
	var err error
	if b.dev, err = p.NewBackendDevice(opts); err != nil {
		return fmt.Errorf("failed to create backend device: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	source, err := p.NewFrameSource(opts.CaptureMethod)
	if err != nil {
		return err
	}
	if err := source.Initialize(src, b.out, opts, b.dev); err != nil {
		source.Release()
		return fmt.Errorf("failed to initialize frame source %s: %w", source.Name(), err)
	}
	b.source = source
	if n, ok := source.(framesource.Notifier); ok {
		b.notify = n.Notify()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	compiler, err := p.NewCompiler(opts)
	if err != nil {
		return fmt.Errorf("failed to create effect compiler: %w", err)
	}
	if b.chain, err = effect.BuildChain(b.dev, compiler, opts, source.Output(), b.out.Size(), b.logger); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	size := b.chain.Output().Size()
	if b.producer, err = bridge.NewProducer(slot, b.dev, size, graphics.FormatRGBA8); err != nil {
		return err
	}
	b.logger.Info("backend ready",
		zap.String("source", source.Name()),
		zap.Int("input_width", source.Output().Size().X),
		zap.Int("input_height", source.Output().Size().Y),
		zap.Int("output_width", size.X),
		zap.Int("output_height", size.Y))
	return nil
}

func (b *backend) run(ctx context.Context) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.step(ctx); err != nil && ctx.Err() == nil {
			b.logger.Warn("backend step failed", zap.Error(err))
		}
		timer.Reset(pollInterval)
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		case <-timer.C:
		}
	}
}

// step runs the chain and publishes when the source has a new frame. Any
// other update does no GPU work.
func (b *backend) step(ctx context.Context) error {
	switch state := b.source.Update(); state {
	case framesource.NewFrame:
		if b.lost {
			b.lost = false
			b.logger.Info("frame source recovered")
		}
	case framesource.Lost:
		if !b.lost {
			b.lost = true
			b.logger.Warn("frame source lost", zap.String("source", b.source.Name()))
		}
		return nil
	default:
		return nil
	}

	if err := b.chain.Draw(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := b.producer.Publish(ctx, b.chain.Output())
	if err != nil {
		return err
	}
	b.published.Store(gen)
	b.out.Wake()
	return nil
}

func (b *backend) release() {
	if b.producer != nil {
		b.producer.Release()
	}
	if b.chain != nil {
		b.chain.Release()
	}
	if b.source != nil {
		b.source.Release()
	}
	if b.dev != nil {
		b.dev.Release()
	}
}
