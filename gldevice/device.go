// Package gldevice implements the graphics contracts on OpenGL 4.1 core.
//
// A Device wraps one GL context. The frontend and backend devices are two
// contexts of one share group, so textures, programs and sync objects
// created by one are visible to the other; framebuffers and vertex arrays
// are per-context and are created by each device for itself.
//
// Every method of a Device must be called on the OS thread its context is
// current on.
package gldevice

import (
	"fmt"
	"image"
	"sync"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/goscaler/graphics"
	"go.uber.org/zap"
)

var (
	glInitOnce sync.Once
	glInitErr  error
)

var quadVertices = []float32{
	-1.0, 1.0, -1.0, -1.0, 1.0, -1.0,
	-1.0, 1.0, 1.0, -1.0, 1.0, 1.0,
}

// Device is a graphics.Device backed by a GL context.
type Device struct {
	ctx    graphics.Context
	share  *Share
	debug  bool
	logger *zap.Logger

	quadVAO uint32
	quadVBO uint32
	caps    graphics.Caps

	released bool
}

var _ graphics.Device = (*Device)(nil)

// NewDevice makes ctx current on the calling thread and prepares the
// per-context objects. The caller must keep the thread locked for the
// device's lifetime.
func NewDevice(ctx graphics.Context, share *Share, debug bool, logger *zap.Logger) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx.MakeCurrent()

	glInitOnce.Do(func() {
		glInitErr = gl.Init()
	})
	if glInitErr != nil {
		ctx.DetachCurrent()
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", glInitErr)
	}

	d := &Device{
		ctx:    ctx,
		share:  share,
		debug:  debug,
		logger: logger,
	}

	gl.GenVertexArrays(1, &d.quadVAO)
	gl.GenBuffers(1, &d.quadVBO)
	gl.BindVertexArray(d.quadVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, d.quadVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(quadVertices)*4, gl.Ptr(quadVertices), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 2*4, gl.PtrOffset(0))
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	gl.BindVertexArray(0)

	var maxSize int32
	gl.GetIntegerv(gl.MAX_TEXTURE_SIZE, &maxSize)
	d.caps = graphics.Caps{
		Renderer:       gl.GoStr(gl.GetString(gl.RENDERER)),
		Version:        gl.GoStr(gl.GetString(gl.VERSION)),
		MaxTextureSize: int(maxSize),
		VariableRefresh: ctx.ExtensionSupported("GLX_EXT_swap_control_tear") ||
			ctx.ExtensionSupported("WGL_EXT_swap_control_tear"),
	}
	if err := d.check("device setup"); err != nil {
		d.Release()
		return nil, err
	}

	logger.Info("OpenGL device created",
		zap.String("renderer", d.caps.Renderer),
		zap.String("version", d.caps.Version),
		zap.Bool("variable_refresh", d.caps.VariableRefresh))
	return d, nil
}

func (d *Device) Caps() graphics.Caps { return d.caps }

// check drains pending GL errors in debug mode and is a no-op otherwise.
func (d *Device) check(op string) error {
	if !d.debug {
		return nil
	}
	var first uint32
	for code := gl.GetError(); code != gl.NO_ERROR; code = gl.GetError() {
		if first == 0 {
			first = code
		}
	}
	switch first {
	case 0:
		return nil
	case gl.OUT_OF_MEMORY:
		return fmt.Errorf("%s: %w (GL_OUT_OF_MEMORY)", op, graphics.ErrDeviceLost)
	default:
		return fmt.Errorf("%s: GL error 0x%x", op, first)
	}
}

func (d *Device) CreateTexture(size image.Point, format graphics.Format) (graphics.Texture, error) {
	t, err := d.newTexture(size, format)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Device) UploadTexture(tex graphics.Texture, pixels []byte) error {
	t, err := d.own(tex)
	if err != nil {
		return err
	}
	if t.id == 0 {
		return fmt.Errorf("upload into back buffer: %w", graphics.ErrUnsupported)
	}
	if want := t.size.X * t.size.Y * 4; len(pixels) != want {
		return fmt.Errorf("upload of %d bytes into %dx%d texture: %w", len(pixels), t.size.X, t.size.Y, graphics.ErrSizeMismatch)
	}
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(t.size.X), int32(t.size.Y), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return d.check("upload texture")
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
	prog, ok := pass.Program.(*Program)
	if !ok || prog.dev != d {
		return fmt.Errorf("draw program: %w", graphics.ErrForeign)
	}
	if in.id == 0 {
		return fmt.Errorf("sample back buffer: %w", graphics.ErrUnsupported)
	}

	gl.BindFramebuffer(gl.FRAMEBUFFER, out.fbo)
	gl.Viewport(0, 0, int32(out.size.X), int32(out.size.Y))
	gl.UseProgram(prog.id)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, in.id)
	if pass.Sampler >= 0 {
		gl.Uniform1i(pass.Sampler, 0)
	}
	for _, u := range pass.Uniforms {
		setUniform(u)
	}
	gl.BindVertexArray(d.quadVAO)
	gl.DrawArrays(gl.TRIANGLES, 0, 6)
	gl.BindVertexArray(0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.UseProgram(0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return d.check("draw")
}

func setUniform(u graphics.Uniform) {
	if u.Location < 0 {
		return
	}
	if u.IsInt {
		gl.Uniform1i(u.Location, u.Int)
		return
	}
	switch len(u.Float) {
	case 1:
		gl.Uniform1f(u.Location, u.Float[0])
	case 2:
		gl.Uniform2f(u.Location, u.Float[0], u.Float[1])
	case 3:
		gl.Uniform3f(u.Location, u.Float[0], u.Float[1], u.Float[2])
	case 4:
		gl.Uniform4f(u.Location, u.Float[0], u.Float[1], u.Float[2], u.Float[3])
	}
}

// CopyTexture blits src into dst. Texture rows are stored top row first, so
// a copy into the window's default framebuffer is flipped vertically.
func (d *Device) CopyTexture(dst, src graphics.Texture) error {
	s, err := d.own(src)
	if err != nil {
		return err
	}
	t, err := d.own(dst)
	if err != nil {
		return err
	}
	if s.id == 0 {
		return fmt.Errorf("copy from back buffer: %w", graphics.ErrUnsupported)
	}

	dr, sr := graphics.FitCentered(t.size, s.size)
	dy0, dy1 := dr.Min.Y, dr.Max.Y
	if t.fbo == 0 {
		dy0, dy1 = graphics.FlipY(dr, t.size.Y)
	}

	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, s.fbo)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, t.fbo)
	gl.BlitFramebuffer(
		int32(sr.Min.X), int32(sr.Min.Y), int32(sr.Max.X), int32(sr.Max.Y),
		int32(dr.Min.X), int32(dy0), int32(dr.Max.X), int32(dy1),
		gl.COLOR_BUFFER_BIT, gl.NEAREST)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	return d.check("copy texture")
}

func (d *Device) ClearTexture(tex graphics.Texture, color [4]float32) error {
	t, err := d.own(tex)
	if err != nil {
		return err
	}
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, t.fbo)
	gl.Viewport(0, 0, int32(t.size.X), int32(t.size.Y))
	gl.ClearColor(color[0], color[1], color[2], color[3])
	gl.Clear(gl.COLOR_BUFFER_BIT)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	return d.check("clear texture")
}

func (d *Device) Flush() { gl.Flush() }

// Release deletes the per-context objects and detaches the context from the
// calling thread. Textures and programs are released by their owners.
func (d *Device) Release() {
	if d.released {
		return
	}
	d.released = true
	gl.DeleteVertexArrays(1, &d.quadVAO)
	gl.DeleteBuffers(1, &d.quadVBO)
	d.ctx.DetachCurrent()
}
