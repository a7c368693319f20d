package effect

import (
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Chain is an ordered list of drawers where each drawer reads the previous
// one's output.
type Chain struct {
	drawers []*Drawer
	input   graphics.Texture
	output  graphics.Texture
}

// CompileAll compiles every effect in parallel. It returns the descriptors
// in option order, or the first error; there are no partial results.
func CompileAll(compiler Compiler, effects []options.EffectOption, flags CompileFlags, logger *zap.Logger) ([]*Descriptor, error) {
	descs := make([]*Descriptor, len(effects))
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, opt := range effects {
		g.Go(func() error {
			t := time.Now()
			d, err := compiler.Compile(opt, flags)
			if err != nil {
				logger.Error("failed to compile effect", zap.Int("index", i), zap.String("effect", opt.Name), zap.Error(err))
				return fmt.Errorf("effect #%d (%s): %w", i, opt.Name, err)
			}
			logger.Info("compiled effect", zap.String("effect", opt.Name), zap.Duration("took", time.Since(t)))
			descs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(effects) > 1 {
		logger.Info("compiled all effects", zap.Int("count", len(effects)), zap.Duration("took", time.Since(start)))
	}
	return descs, nil
}

// BuildChain compiles opts.Effects and builds their drawers in order, the
// first reading input. Nothing is built unless every effect compiles, and a
// drawer failure releases the drawers already built.
func BuildChain(dev graphics.Device, compiler Compiler, opts options.ScalingOptions, input graphics.Texture, target image.Point, logger *zap.Logger) (*Chain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Effects) == 0 {
		return nil, options.ErrNoEffects
	}
	descs, err := CompileAll(compiler, opts.Effects, FlagsFor(opts), logger)
	if err != nil {
		return nil, err
	}

	c := &Chain{input: input}
	inOut := input
	for i, desc := range descs {
		d := &Drawer{}
		if err := d.Initialize(desc, opts.Effects[i], dev, target, &inOut); err != nil {
			c.Release()
			return nil, fmt.Errorf("failed to initialize effect #%d (%s): %w", i, desc.Name, err)
		}
		c.drawers = append(c.drawers, d)
	}
	c.output = inOut
	return c, nil
}

// Draw runs every drawer in order.
func (c *Chain) Draw() error {
	for _, d := range c.drawers {
		if err := d.Draw(); err != nil {
			return fmt.Errorf("effect %s: %w", d.Name(), err)
		}
	}
	return nil
}

func (c *Chain) Drawers() []*Drawer       { return c.drawers }
func (c *Chain) Input() graphics.Texture  { return c.input }
func (c *Chain) Output() graphics.Texture { return c.output }

func (c *Chain) Release() {
	for i := len(c.drawers) - 1; i >= 0; i-- {
		c.drawers[i].Release()
	}
	c.drawers = nil
}
