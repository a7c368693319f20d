package gldevice

import (
	"fmt"
	"image"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/goscaler/graphics"
)

// Texture is a GL texture with a framebuffer attached for rendering into it.
// The default framebuffer is represented by id 0 and fbo 0.
type Texture struct {
	dev    *Device
	id     uint32
	fbo    uint32
	size   image.Point
	format graphics.Format
	// owned textures delete the GL texture on Release; views only delete
	// their framebuffer.
	owned    bool
	released bool
}

func (t *Texture) Size() image.Point       { return t.size }
func (t *Texture) Format() graphics.Format { return t.format }

func (t *Texture) Release() {
	if t.released {
		return
	}
	t.released = true
	if t.fbo != 0 {
		gl.DeleteFramebuffers(1, &t.fbo)
	}
	if t.owned && t.id != 0 {
		gl.DeleteTextures(1, &t.id)
	}
}

func glFormat(f graphics.Format) (internal int32, xtype uint32, err error) {
	switch f {
	case graphics.FormatRGBA8:
		return gl.RGBA8, gl.UNSIGNED_BYTE, nil
	case graphics.FormatRGBA16F:
		return gl.RGBA16F, gl.HALF_FLOAT, nil
	}
	return 0, 0, fmt.Errorf("texture format %s: %w", f, graphics.ErrUnsupported)
}

func (d *Device) newTexture(size image.Point, format graphics.Format) (*Texture, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid texture size %dx%d", size.X, size.Y)
	}
	if size.X > d.caps.MaxTextureSize || size.Y > d.caps.MaxTextureSize {
		return nil, fmt.Errorf("texture size %dx%d exceeds %d: %w", size.X, size.Y, d.caps.MaxTextureSize, graphics.ErrUnsupported)
	}
	internal, xtype, err := glFormat(format)
	if err != nil {
		return nil, err
	}

	t := &Texture{dev: d, size: size, format: format, owned: true}
	gl.GenTextures(1, &t.id)
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(size.X), int32(size.Y), 0, gl.RGBA, xtype, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	if err := d.attach(t); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// attach creates this context's framebuffer for t.
func (d *Device) attach(t *Texture) error {
	gl.GenFramebuffers(1, &t.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, t.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, t.id, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("framebuffer incomplete: 0x%x", status)
	}
	return d.check("create texture")
}

// reattach rebinds t in the current context so writes made by another
// context of the share group become visible to it.
func (t *Texture) reattach() {
	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, t.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, t.id, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}

// own resolves tex to this device's texture.
func (d *Device) own(tex graphics.Texture) (*Texture, error) {
	var t *Texture
	switch v := tex.(type) {
	case *Texture:
		t = v
	case *SharedTexture:
		t = v.Texture
	default:
		return nil, graphics.ErrForeign
	}
	if t.dev != d {
		return nil, graphics.ErrForeign
	}
	return t, nil
}
