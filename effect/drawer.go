package effect

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/options"
	"github.com/richinsley/goscaler/shader"
)

// OutputSize computes the size of an effect's output texture from its input
// size and the target window size.
func OutputSize(scalable bool, st options.ScalingType, scale [2]float32, in, target image.Point) image.Point {
	if !scalable {
		return in
	}
	var out image.Point
	switch st {
	case options.ScalingFit:
		r := math.Min(float64(target.X)/float64(in.X), float64(target.Y)/float64(in.Y))
		out = image.Pt(int(math.Round(float64(in.X)*r)), int(math.Round(float64(in.Y)*r)))
	case options.ScalingFill:
		out = target
	case options.ScalingAbsolute:
		if scale[0] <= 0 || scale[1] <= 0 {
			return in
		}
		out = image.Pt(int(math.Round(float64(scale[0]))), int(math.Round(float64(scale[1]))))
	default:
		sx, sy := scale[0], scale[1]
		if sx <= 0 || sy <= 0 {
			sx, sy = 1, 1
		}
		out = image.Pt(int(math.Round(float64(in.X)*float64(sx))), int(math.Round(float64(in.Y)*float64(sy))))
	}
	return image.Pt(max(out.X, 1), max(out.Y, 1))
}

// Drawer runs one compiled effect as a full-screen pass.
type Drawer struct {
	desc    *Descriptor
	dev     graphics.Device
	program graphics.Program
	input   graphics.Texture
	output  graphics.Texture

	sampler  int32
	uniforms []graphics.Uniform
	frameLoc int32
	frame    int32
}

// Initialize creates the drawer's program and output texture. On entry
// *inOut is the input texture; on success it is replaced by the output.
func (d *Drawer) Initialize(desc *Descriptor, opt options.EffectOption, dev graphics.Device, target image.Point, inOut *graphics.Texture) error {
	if inOut == nil || *inOut == nil {
		return errors.New("effect drawer needs an input texture")
	}
	d.desc = desc
	d.dev = dev
	d.input = *inOut

	format := graphics.FormatRGBA8
	if desc.Flags.Has(options.FP16) {
		format = graphics.FormatRGBA16F
	}
	inSize := d.input.Size()
	outSize := OutputSize(desc.Scalable, opt.ScalingType, opt.Scale, inSize, target)

	var err error
	d.program, err = dev.CreateProgram(shader.GenerateVertexShader(), desc.Code)
	if err != nil {
		return fmt.Errorf("failed to create program for %s: %w", desc.Name, err)
	}
	d.output, err = dev.CreateTexture(outSize, format)
	if err != nil {
		d.program.Release()
		d.program = nil
		return fmt.Errorf("failed to create output texture for %s: %w", desc.Name, err)
	}

	d.sampler = d.location(shader.Input)
	d.frameLoc = d.location(shader.FrameCount)
	d.uniforms = []graphics.Uniform{
		{Location: d.location(shader.InputSize), Float: []float32{float32(inSize.X), float32(inSize.Y)}},
		{Location: d.location(shader.OutputSize), Float: []float32{float32(outSize.X), float32(outSize.Y)}},
	}
	if !desc.Flags.Has(options.InlineParams) {
		for _, p := range desc.Params {
			if loc := d.location(p.Name); loc >= 0 {
				d.uniforms = append(d.uniforms, graphics.Uniform{Location: loc, Float: []float32{desc.Values[p.Name]}})
			}
		}
	}

	*inOut = d.output
	return nil
}

func (d *Drawer) location(name string) int32 {
	mapped, ok := d.desc.Uniforms[name]
	if !ok {
		return -1
	}
	return d.program.Uniform(mapped)
}

// Draw issues the effect's pass.
func (d *Drawer) Draw() error {
	uniforms := d.uniforms
	if d.frameLoc >= 0 {
		uniforms = append(uniforms[:len(uniforms):len(uniforms)], graphics.Uniform{Location: d.frameLoc, Int: d.frame, IsInt: true})
	}
	d.frame++
	return d.dev.Draw(graphics.DrawPass{
		Program:  d.program,
		Input:    d.input,
		Sampler:  d.sampler,
		Output:   d.output,
		Uniforms: uniforms,
	})
}

func (d *Drawer) Name() string             { return d.desc.Name }
func (d *Drawer) Input() graphics.Texture  { return d.input }
func (d *Drawer) Output() graphics.Texture { return d.output }

// Release frees the program and output texture. The input belongs to the
// previous stage.
func (d *Drawer) Release() {
	if d.output != nil {
		d.output.Release()
		d.output = nil
	}
	if d.program != nil {
		d.program.Release()
		d.program = nil
	}
}
