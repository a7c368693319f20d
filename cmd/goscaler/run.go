package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/richinsley/goscaler/effect"
	"github.com/richinsley/goscaler/framesource"
	"github.com/richinsley/goscaler/gldevice"
	"github.com/richinsley/goscaler/glfwcontext"
	"github.com/richinsley/goscaler/logging"
	"github.com/richinsley/goscaler/options"
	"github.com/richinsley/goscaler/renderer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// eventTimeout bounds the wait for window events. The backend wakes the
// loop early whenever it publishes a frame.
const eventTimeout = 100 * time.Millisecond

func loadConfig(cmd *cobra.Command) (*options.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := options.Load(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runScaler(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts, err := cfg.ScalingOptions()
	if err != nil {
		return err
	}
	size, err := options.ParseSize(cfg.SourceSize)
	if err != nil {
		return err
	}
	src := framesource.Window{Title: cfg.SourceTitle, ID: cfg.SourceID, Size: size}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return present(ctx, logger, cfg, src, opts)
}

func present(ctx context.Context, logger *zap.Logger, cfg *options.Config, src framesource.Window, opts options.ScalingOptions) error {
	if err := glfwcontext.InitGraphics(logger); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	defer glfwcontext.TerminateGraphics(logger)

	output, err := glfwcontext.New(glfwcontext.Config{
		Title:   "goscaler",
		Width:   cfg.Width,
		Height:  cfg.Height,
		Visible: true,
		Debug:   opts.DebugMode,
	})
	if err != nil {
		return fmt.Errorf("failed to create output window: %w", err)
	}
	defer output.Shutdown()

	worker, err := output.NewShared(opts.DebugMode)
	if err != nil {
		return fmt.Errorf("failed to create worker context: %w", err)
	}
	defer worker.Shutdown()

	r := renderer.New(&gldevice.Platform{Output: output, Worker: worker, Logger: logger}, logger)
	defer r.Close()

	output.RegisterKeyCallback(glfw.KeyS, func() {
		s := r.Stats()
		logger.Info("stats",
			zap.Uint64("published", s.Published),
			zap.Uint64("presented", s.Presented),
			zap.Uint64("dropped", s.Dropped),
			zap.Stringer("backend", s.Backend))
	})

	if err := r.Initialize(src, output, opts); err != nil {
		return err
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	defer func() {
		close(done)
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			output.Wake()
		case <-done:
		}
	}()
	for !output.ShouldClose() && ctx.Err() == nil {
		glfwcontext.WaitEvents(eventTimeout)
		r.Render()
	}
	return nil
}

func listEffects(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	names, err := effect.Library{Dir: cfg.EffectsDir}.List()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}
