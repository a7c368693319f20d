package gldevice

import (
	"fmt"
	"image"
	"sync"

	"github.com/richinsley/goscaler/effect"
	"github.com/richinsley/goscaler/framesource"
	"github.com/richinsley/goscaler/glfwcontext"
	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/logging"
	"github.com/richinsley/goscaler/options"
	"github.com/richinsley/goscaler/translator"
	"go.uber.org/zap"
)

// Platform builds a session on two glfw contexts of one share group: the
// visible output window for the frontend and a hidden worker window for the
// backend.
type Platform struct {
	Output *glfwcontext.Context
	Worker *glfwcontext.Context
	Logger *zap.Logger

	once  sync.Once
	share *Share
}

func (p *Platform) shared() *Share {
	p.once.Do(func() { p.share = NewShare() })
	return p.share
}

func (p *Platform) logger() *zap.Logger {
	return logging.OrNop(p.Logger)
}

func (p *Platform) NewFrontendDevice(_ graphics.Window, opts options.ScalingOptions) (graphics.Device, error) {
	return p.newDevice(p.Output, "frontend", opts)
}

func (p *Platform) newDevice(ctx *glfwcontext.Context, name string, opts options.ScalingOptions) (graphics.Device, error) {
	d, err := NewDevice(ctx, p.shared(), opts.DebugMode, p.logger().With(zap.String("device", name)))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (p *Platform) NewSwapChain(dev graphics.Device, out graphics.Window, opts options.ScalingOptions) (graphics.SwapChain, error) {
	d, ok := dev.(*Device)
	if !ok {
		return nil, fmt.Errorf("swap chain device: %w", graphics.ErrForeign)
	}
	desc := swapChainDesc(out.Size(), d.Caps(), opts)
	p.logger().Debug("creating swap chain",
		zap.Int("buffers", desc.BufferCount),
		zap.Bool("tearing", desc.AllowTearing))
	return NewSwapChain(d, desc), nil
}

// swapChainDesc keeps a spare buffer whenever frames are not paced by
// vsync, so an unsynced present never waits on the buffer being scanned out.
func swapChainDesc(size image.Point, caps graphics.Caps, opts options.ScalingOptions) graphics.SwapChainDesc {
	desc := graphics.SwapChainDesc{
		Size:            size,
		BufferCount:     2,
		AllowTearing:    caps.VariableRefresh && !opts.VSync,
		MaxFrameLatency: 1,
	}
	if opts.TripleBuffering || !opts.VSync {
		desc.BufferCount = 3
	}
	return desc
}

func (p *Platform) NewBackendDevice(opts options.ScalingOptions) (graphics.Device, error) {
	return p.newDevice(p.Worker, "backend", opts)
}

func (p *Platform) NewFrameSource(method options.CaptureMethod) (framesource.FrameSource, error) {
	return framesource.New(method, p.logger())
}

func (p *Platform) NewCompiler(opts options.ScalingOptions) (effect.Compiler, error) {
	t, err := translator.GetTranslator()
	if err != nil {
		return nil, err
	}
	c, err := effect.NewCompiler(effect.Config{
		Library:   effect.Library{Dir: opts.EffectsDir},
		CacheDir:  opts.CacheDir,
		Translate: t.Translate,
		Logger:    p.logger(),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
