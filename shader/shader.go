package shader

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Uniform names every effect may use. They are the logical names; the
// translator maps them to the names in the generated GLSL.
const (
	Input      = "INPUT"
	InputSize  = "INPUT_SIZE"
	OutputSize = "OUTPUT_SIZE"
	FrameCount = "FRAME_COUNT"
)

const vertexShaderSourceGL = `#version 410 core
layout (location = 0) in vec2 in_vert;
out vec2 frag_uv;
void main() {
    frag_uv = in_vert * 0.5 + 0.5;
    gl_Position = vec4(in_vert, 0.0, 1.0);
}
`

// GenerateVertexShader returns the full-screen quad vertex shader every
// effect program links against.
func GenerateVertexShader() string {
	return vertexShaderSourceGL
}

// Param is a float parameter emitted into the preamble.
type Param struct {
	Name  string
	Value float32
}

// GeneratePreamble emits the WebGL2 header for an effect. With inline set,
// parameters become constants; otherwise they are uniforms.
func GeneratePreamble(params []Param, inline, fp16 bool) string {
	var b strings.Builder
	b.WriteString("#version 300 es\n")
	if fp16 {
		b.WriteString("precision mediump float;\n")
	} else {
		b.WriteString("precision highp float;\n")
	}
	b.WriteString("precision highp int;\n\n")

	fmt.Fprintf(&b, "uniform sampler2D %s;\n", Input)
	fmt.Fprintf(&b, "uniform vec2 %s;\n", InputSize)
	fmt.Fprintf(&b, "uniform vec2 %s;\n", OutputSize)
	fmt.Fprintf(&b, "uniform int %s;\n", FrameCount)

	sorted := append([]Param(nil), params...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, p := range sorted {
		if inline {
			fmt.Fprintf(&b, "const float %s = %s;\n", p.Name, formatFloat(p.Value))
		} else {
			fmt.Fprintf(&b, "uniform float %s;\n", p.Name)
		}
	}

	b.WriteString(`
out vec4 fragColor;

vec4 SAMPLE(vec2 pos) { return texture(INPUT, pos); }
`)
	return b.String()
}

// formatFloat always yields a GLSL float literal.
func formatFloat(v float32) string {
	s := strconv.FormatFloat(float64(v), 'g', -1, 32)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func GetMain() string {
	return `
void main(void)
{
    fragColor = effect(gl_FragCoord.xy / OUTPUT_SIZE);
}
`
}

// GetFragmentShader combines preamble, effect body and the main wrapper.
func GetFragmentShader(preamble, body string) string {
	return preamble + "\n" + body + "\n" + GetMain()
}
