package glfwcontext

import (
	"image"
	"runtime"
	"time"

	glfw "github.com/go-gl/glfw/v3.3/glfw"
	"go.uber.org/zap"
)

// Context wraps a glfw window and its GL context. The output window is
// visible; worker contexts are hidden windows sharing the output's objects.
type Context struct {
	window *glfw.Window
	size   image.Point
	// A map to store functions to be called on key presses.
	keyCallbacks map[glfw.Key]func()
}

// Config describes the window to create.
type Config struct {
	Title   string
	Width   int
	Height  int
	Visible bool
	// Share is the context whose objects the new context shares, or nil.
	Share *Context
	// Debug requests a debug GL context.
	Debug bool
}

// New creates a window and its OpenGL 4.1 core context. Must be called from
// the main thread.
func New(cfg Config) (*Context, error) {
	var share *glfw.Window
	if cfg.Share != nil {
		share = cfg.Share.window
	}

	glfw.DefaultWindowHints()
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	// no resize handling; the swap chain is sized once
	glfw.WindowHint(glfw.Resizable, glfw.False)
	if cfg.Debug {
		glfw.WindowHint(glfw.OpenGLDebugContext, glfw.True)
	}
	if !cfg.Visible {
		glfw.WindowHint(glfw.Visible, glfw.False)
	}

	title := cfg.Title
	if title == "" {
		title = "goscaler"
	}
	win, err := glfw.CreateWindow(cfg.Width, cfg.Height, title, nil, share)
	if err != nil {
		return nil, err
	}

	c := &Context{
		window:       win,
		keyCallbacks: make(map[glfw.Key]func()),
	}
	w, h := win.GetFramebufferSize()
	c.size = image.Pt(w, h)

	win.SetKeyCallback(c.glfwKeyCallback)
	return c, nil
}

// NewShared creates a hidden 1x1 window whose context shares objects with c.
// The returned context may be made current on another locked thread.
func (c *Context) NewShared(debug bool) (*Context, error) {
	return New(Config{Title: "goscaler worker", Width: 1, Height: 1, Share: c, Debug: debug})
}

// RegisterKeyCallback registers a function run when key is pressed.
func (c *Context) RegisterKeyCallback(key glfw.Key, f func()) {
	c.keyCallbacks[key] = f
}

func (c *Context) glfwKeyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
	}
	if action == glfw.Press {
		if callback, ok := c.keyCallbacks[key]; ok {
			callback()
		}
	}
}

// MakeCurrent makes the context current on the calling thread.
func (c *Context) MakeCurrent() {
	c.window.MakeContextCurrent()
}

// DetachCurrent makes no context current on the calling thread.
func (c *Context) DetachCurrent() {
	glfw.DetachCurrentContext()
}

func (c *Context) Shutdown() {
	c.window.Destroy()
}

func (c *Context) ShouldClose() bool {
	return c.window.ShouldClose()
}

// SwapBuffers presents the default framebuffer. The context must be current.
func (c *Context) SwapBuffers(interval int) {
	glfw.SwapInterval(interval)
	c.window.SwapBuffers()
}

// ExtensionSupported checks both the GL and the window system extension
// strings. The context must be current.
func (c *Context) ExtensionSupported(name string) bool {
	return glfw.ExtensionSupported(name)
}

// Size is the framebuffer size at creation time. Safe from any goroutine.
func (c *Context) Size() image.Point {
	return c.size
}

// Wake posts an empty event so a thread blocked in WaitEvents returns.
// Safe from any goroutine.
func (c *Context) Wake() {
	glfw.PostEmptyEvent()
}

// Window returns the underlying *glfw.Window.
func (c *Context) Window() *glfw.Window {
	return c.window
}

// WaitEvents processes pending events, blocking up to timeout for one to
// arrive. Must be called from the main thread.
func WaitEvents(timeout time.Duration) {
	if timeout <= 0 {
		glfw.PollEvents()
		return
	}
	glfw.WaitEventsTimeout(timeout.Seconds())
}

// InitGraphics initializes GLFW. Must be called from the main thread.
func InitGraphics(logger *zap.Logger) error {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return err
	}
	logger.Info("GLFW initialized", zap.String("version", glfw.GetVersionString()))
	return nil
}

// TerminateGraphics shuts GLFW down. Must be called from the main thread.
func TerminateGraphics(logger *zap.Logger) {
	glfw.Terminate()
	logger.Info("GLFW terminated")
}
