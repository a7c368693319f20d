package graphics

import "image"

// Context is the OpenGL context a device renders with.
type Context interface {
	MakeCurrent()
	DetachCurrent()
	// SwapBuffers presents the default framebuffer with the given swap interval.
	SwapBuffers(interval int)
	// ExtensionSupported reports whether the context's window system or GL exposes an extension.
	ExtensionSupported(name string) bool
}

// Window is the output window as seen by the renderer. Its methods may be
// called from any goroutine.
type Window interface {
	// Size is the window's framebuffer size in pixels.
	Size() image.Point
	// Wake nudges the thread pumping the window's events.
	Wake()
}
