package renderer

import (
	"errors"
	"image"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richinsley/goscaler/effect"
	"github.com/richinsley/goscaler/framesource"
	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/graphics/graphicstest"
	"github.com/richinsley/goscaler/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uniformRe = regexp.MustCompile(`uniform\s+\w+\s+(\w+)\s*;`)

func identity(source string) (string, map[string]string, error) {
	names := make(map[string]string)
	for _, m := range uniformRe.FindAllStringSubmatch(source, -1) {
		names[m[1]] = m[1]
	}
	return source, names, nil
}

// fakeSource hands out content tags pushed by the test.
type fakeSource struct {
	frames   chan uint64
	notify   chan struct{}
	lost     atomic.Bool
	updates  atomic.Int64
	released atomic.Bool
	initErr  error

	out *graphicstest.Texture
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan uint64, 64), notify: make(chan struct{}, 1)}
}

func (s *fakeSource) push(v uint64) {
	s.frames <- v
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *fakeSource) Initialize(_ framesource.Window, _ graphics.Window, _ options.ScalingOptions, dev graphics.Device) error {
	if s.initErr != nil {
		return s.initErr
	}
	tex, err := dev.CreateTexture(image.Pt(320, 180), graphics.FormatRGBA8)
	if err != nil {
		return err
	}
	s.out = tex.(*graphicstest.Texture)
	return nil
}

func (s *fakeSource) Output() graphics.Texture { return s.out }

func (s *fakeSource) Update() framesource.UpdateState {
	s.updates.Add(1)
	select {
	case v := <-s.frames:
		s.out.SetContent(v)
		return framesource.NewFrame
	default:
	}
	if s.lost.Load() {
		return framesource.Lost
	}
	return framesource.NoUpdate
}

func (s *fakeSource) Notify() <-chan struct{} { return s.notify }
func (s *fakeSource) Name() string            { return "fake" }

func (s *fakeSource) Release() {
	s.released.Store(true)
	if s.out != nil {
		s.out.Release()
	}
}

type fakePlatform struct {
	hub    *graphicstest.Hub
	front  *graphicstest.Device
	back   *graphicstest.Device
	source *fakeSource
	swap   *graphicstest.SwapChain

	// backendGate, when set, blocks NewBackendDevice until closed.
	backendGate    chan struct{}
	backendEntered chan struct{}
	failFrontend   bool
	failSwapChain  bool
	failBackend    bool
	sourceCreated  atomic.Bool
}

func newFakePlatform() *fakePlatform {
	hub := graphicstest.NewHub()
	return &fakePlatform{
		hub:            hub,
		front:          graphicstest.NewDevice(hub, "frontend"),
		back:           graphicstest.NewDevice(hub, "backend"),
		source:         newFakeSource(),
		backendEntered: make(chan struct{}),
	}
}

func (p *fakePlatform) NewFrontendDevice(graphics.Window, options.ScalingOptions) (graphics.Device, error) {
	if p.failFrontend {
		return nil, errors.New("no frontend")
	}
	return p.front, nil
}

func (p *fakePlatform) NewSwapChain(dev graphics.Device, out graphics.Window, opts options.ScalingOptions) (graphics.SwapChain, error) {
	if p.failSwapChain {
		return nil, errors.New("no swap chain")
	}
	p.swap = dev.(*graphicstest.Device).NewSwapChain(graphics.SwapChainDesc{Size: out.Size(), BufferCount: 2, MaxFrameLatency: 1})
	return p.swap, nil
}

func (p *fakePlatform) NewBackendDevice(options.ScalingOptions) (graphics.Device, error) {
	close(p.backendEntered)
	if p.backendGate != nil {
		<-p.backendGate
	}
	if p.failBackend {
		return nil, errors.New("no backend")
	}
	return p.back, nil
}

func (p *fakePlatform) NewFrameSource(options.CaptureMethod) (framesource.FrameSource, error) {
	p.sourceCreated.Store(true)
	return p.source, nil
}

func (p *fakePlatform) NewCompiler(options.ScalingOptions) (effect.Compiler, error) {
	return effect.NewCompiler(effect.Config{Translate: identity})
}

func testOptions() options.ScalingOptions {
	return options.ScalingOptions{
		CaptureMethod: options.CaptureFFmpeg,
		Effects: []options.EffectOption{
			{Name: "passthrough"},
			{Name: "bilinear", ScalingType: options.ScalingFit},
		},
		VSync: true,
	}
}

func startRenderer(t *testing.T, p *fakePlatform) (*Renderer, *graphicstest.Window) {
	t.Helper()
	r := New(p, nil)
	out := graphicstest.NewWindow(1280, 720)
	require.NoError(t, r.Initialize(framesource.Window{Title: "game"}, out, testOptions()))
	t.Cleanup(func() { r.Close() })
	waitBackend(t, r, BackendRunning)
	return r, out
}

func waitBackend(t *testing.T, r *Renderer, want BackendState) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Stats().Backend == want },
		2*time.Second, time.Millisecond, "backend never reached %s", want)
}

func waitPublished(t *testing.T, r *Renderer, gen uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Stats().Published >= gen },
		2*time.Second, time.Millisecond, "generation %d never published", gen)
}

func TestRenderBeforeFirstFrame(t *testing.T) {
	p := newFakePlatform()
	r, _ := startRenderer(t, p)

	for i := 0; i < 5; i++ {
		r.Render()
	}
	assert.Empty(t, p.swap.Presented())
	assert.Zero(t, p.swap.LatencyWaits())
	assert.Zero(t, p.front.Counters.Clears.Load())
	assert.Equal(t, Stats{Backend: BackendRunning}, r.Stats())
}

func TestPresentsEachFrameOnce(t *testing.T) {
	p := newFakePlatform()
	r, out := startRenderer(t, p)

	p.source.push(7)
	waitPublished(t, r, 1)
	r.Render()
	r.Render()

	assert.Equal(t, []uint64{7}, p.swap.Presented())
	assert.Equal(t, []int{1}, p.swap.Intervals())
	assert.Equal(t, 1, p.swap.Discards())
	assert.Equal(t, int64(1), p.front.Counters.Clears.Load())
	assert.Equal(t, int64(2), p.back.Counters.Draws.Load(), "one draw per effect")
	assert.GreaterOrEqual(t, out.Wakes(), int64(1))

	s := r.Stats()
	assert.Equal(t, uint64(1), s.Published)
	assert.Equal(t, uint64(1), s.Presented)
	assert.Equal(t, uint64(1), s.Dropped)

	p.source.push(8)
	waitPublished(t, r, 2)
	r.Render()
	assert.Equal(t, []uint64{7, 8}, p.swap.Presented())
}

func TestPresentsLatestFrame(t *testing.T) {
	p := newFakePlatform()
	r, _ := startRenderer(t, p)

	for v := uint64(1); v <= 3; v++ {
		p.source.push(v * 10)
	}
	waitPublished(t, r, 3)
	r.Render()
	assert.Equal(t, []uint64{30}, p.swap.Presented())
}

func TestNoPublishWithoutNewFrame(t *testing.T) {
	p := newFakePlatform()
	r, _ := startRenderer(t, p)

	require.Eventually(t, func() bool { return p.source.updates.Load() > 20 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, p.back.Counters.FenceSignals.Load())
	assert.Zero(t, p.back.Counters.Draws.Load())
	assert.Zero(t, p.back.Counters.Copies.Load())

	p.source.push(1)
	waitPublished(t, r, 1)
	signals := p.back.Counters.FenceSignals.Load()
	assert.Equal(t, int64(1), signals)

	updates := p.source.updates.Load()
	require.Eventually(t, func() bool { return p.source.updates.Load() > updates+20 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, signals, p.back.Counters.FenceSignals.Load())

	p.source.lost.Store(true)
	updates = p.source.updates.Load()
	require.Eventually(t, func() bool { return p.source.updates.Load() > updates+20 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, signals, p.back.Counters.FenceSignals.Load())
	assert.Equal(t, BackendRunning, r.Stats().Backend)
}

func TestConcurrentExactlyOnce(t *testing.T) {
	p := newFakePlatform()
	r, _ := startRenderer(t, p)

	const frames = 50
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := uint64(1); v <= frames; v++ {
			p.source.push(v)
			time.Sleep(200 * time.Microsecond)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.Render()
		if presented := p.swap.Presented(); len(presented) > 0 && presented[len(presented)-1] == frames {
			break
		}
	}
	wg.Wait()

	presented := p.swap.Presented()
	require.NotEmpty(t, presented)
	assert.Equal(t, uint64(frames), presented[len(presented)-1])
	for i := 1; i < len(presented); i++ {
		assert.Greater(t, presented[i], presented[i-1], "frame presented twice or out of order")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	p := newFakePlatform()
	r, _ := startRenderer(t, p)
	p.source.push(1)
	waitPublished(t, r, 1)
	r.Render()

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, Destroyed, r.State())
	assert.Equal(t, BackendStopped, r.Stats().Backend)
	assert.True(t, p.source.released.Load())
	assert.True(t, p.back.Released())
	assert.True(t, p.front.Released())
	assert.True(t, p.swap.Released())
	assert.Zero(t, p.back.LiveTextures())
	assert.Zero(t, p.front.LiveTextures())

	r.Render()
	assert.Len(t, p.swap.Presented(), 1)
}

func TestCloseImmediatelyAfterInitialize(t *testing.T) {
	p := newFakePlatform()
	r := New(p, nil)
	require.NoError(t, r.Initialize(framesource.Window{Title: "game"}, graphicstest.NewWindow(640, 480), testOptions()))

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, Destroyed, r.State())
	assert.True(t, p.back.Released())
}

func TestCloseBeforeBackendDevice(t *testing.T) {
	p := newFakePlatform()
	p.backendGate = make(chan struct{})
	r := New(p, nil)
	require.NoError(t, r.Initialize(framesource.Window{Title: "game"}, graphicstest.NewWindow(640, 480), testOptions()))
	<-p.backendEntered

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	close(p.backendGate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, p.sourceCreated.Load(), "backend kept starting after cancellation")
	assert.True(t, p.back.Released())
	assert.Equal(t, BackendStopped, r.Stats().Backend)
}

func TestCloseWhileBackendBlocked(t *testing.T) {
	p := newFakePlatform()
	p.back.FenceDelay = time.Hour
	r, _ := startRenderer(t, p)

	p.source.push(1)
	require.Eventually(t, func() bool { return p.back.Counters.FenceSignals.Load() == 1 }, 2*time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not interrupt the fence wait")
	}
	assert.True(t, p.source.released.Load())
}

func TestFrontendFailureLeavesBackendRunning(t *testing.T) {
	p := newFakePlatform()
	p.failSwapChain = true
	r := New(p, nil)
	err := r.Initialize(framesource.Window{Title: "game"}, graphicstest.NewWindow(640, 480), testOptions())
	require.Error(t, err)
	defer r.Close()

	waitBackend(t, r, BackendRunning)
	p.source.push(3)
	waitPublished(t, r, 1)

	r.Render()
	assert.Zero(t, r.Stats().Presented)
	assert.True(t, p.front.Released(), "frontend device released after swap chain failure")
}

func TestBackendFailureLeavesFrontendRunning(t *testing.T) {
	p := newFakePlatform()
	p.failBackend = true
	r := New(p, nil)
	require.NoError(t, r.Initialize(framesource.Window{Title: "game"}, graphicstest.NewWindow(640, 480), testOptions()))
	defer r.Close()

	waitBackend(t, r, BackendFailed)
	r.Render()
	assert.Empty(t, p.swap.Presented())
	assert.Equal(t, Running, r.State())
}

func TestBackendSourceFailure(t *testing.T) {
	p := newFakePlatform()
	p.source.initErr = errors.New("window gone")
	r := New(p, nil)
	require.NoError(t, r.Initialize(framesource.Window{Title: "game"}, graphicstest.NewWindow(640, 480), testOptions()))

	waitBackend(t, r, BackendFailed)
	require.NoError(t, r.Close())
	assert.True(t, p.source.released.Load())
	assert.True(t, p.back.Released())
}

func TestBackendMissingEffect(t *testing.T) {
	p := newFakePlatform()
	opts := testOptions()
	opts.Effects = append(opts.Effects, options.EffectOption{Name: "does-not-exist"})
	r := New(p, nil)
	require.NoError(t, r.Initialize(framesource.Window{Title: "game"}, graphicstest.NewWindow(640, 480), opts))

	waitBackend(t, r, BackendFailed)
	require.NoError(t, r.Close())
	assert.Zero(t, p.back.LiveTextures())
	assert.Zero(t, p.back.Counters.Programs.Load())
}

func TestInitializeTwice(t *testing.T) {
	p := newFakePlatform()
	r, out := startRenderer(t, p)
	err := r.Initialize(framesource.Window{Title: "game"}, out, testOptions())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	require.NoError(t, r.Close())
	err = r.Initialize(framesource.Window{Title: "game"}, out, testOptions())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInitializeValidates(t *testing.T) {
	r := New(newFakePlatform(), nil)
	opts := testOptions()
	opts.Effects = nil
	err := r.Initialize(framesource.Window{Title: "game"}, graphicstest.NewWindow(640, 480), opts)
	assert.ErrorIs(t, err, options.ErrNoEffects)
	assert.Equal(t, Created, r.State())
	require.NoError(t, r.Close())
}

func TestOutputSizeFollowsChain(t *testing.T) {
	p := newFakePlatform()
	r, _ := startRenderer(t, p)
	p.source.push(1)
	waitPublished(t, r, 1)
	r.Render()

	// 320x180 fit into 1280x720
	r.consumer.Release()
	h, ok := r.slot.Handle()
	require.True(t, ok)
	view, err := p.front.OpenSharedTexture(h)
	require.NoError(t, err)
	defer view.Release()
	assert.Equal(t, image.Pt(1280, 720), view.Size())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "failed", BackendFailed.String())
}
