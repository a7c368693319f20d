// Package effect compiles effect files into GLSL programs and runs them as
// a chain of full-screen passes.
//
// An effect file is a WebGL2 fragment snippet defining
//
//	vec4 effect(vec2 pos)
//
// preceded by directives:
//
//	//!PARAMETER <name> <default> <min> <max>
//	//!SCALABLE
//
// The body samples its input with SAMPLE(pos) and may read INPUT_SIZE,
// OUTPUT_SIZE and FRAME_COUNT.
package effect

import (
	"errors"

	"github.com/richinsley/goscaler/options"
)

var (
	ErrEffectNotFound   = errors.New("effect not found")
	ErrInvalidParameter = errors.New("invalid effect parameter")
	ErrInvalidSource    = errors.New("invalid effect source")
	ErrWarnings         = errors.New("effect compiled with warnings")
)

// CompileFlags alter how Compile treats caches and diagnostics.
type CompileFlags uint32

const (
	NoCache CompileFlags = 1 << iota
	SaveSources
	WarningsAreErrors
)

func (f CompileFlags) Has(flag CompileFlags) bool { return f&flag != 0 }

// FlagsFor derives compile flags from the session options.
func FlagsFor(opts options.ScalingOptions) CompileFlags {
	var f CompileFlags
	if opts.DisableEffectCache {
		f |= NoCache
	}
	if opts.SaveEffectSources {
		f |= SaveSources
	}
	if opts.WarningsAreErrors {
		f |= WarningsAreErrors
	}
	return f
}

// Parameter is a tunable float declared by an effect.
type Parameter struct {
	Name    string  `yaml:"name"`
	Default float32 `yaml:"default"`
	Min     float32 `yaml:"min"`
	Max     float32 `yaml:"max"`
}

// Descriptor is the compiled form of one EffectOption. It holds no GPU
// objects and may be shared between drawers.
type Descriptor struct {
	Name string `yaml:"name"`
	// Code is the translated GLSL 4.10 fragment shader.
	Code string `yaml:"code"`
	// Uniforms maps logical uniform names to their names in Code. Uniforms
	// the translator optimized away are absent.
	Uniforms map[string]string `yaml:"uniforms"`
	Params   []Parameter       `yaml:"params"`
	// Values holds the effective value of every parameter. It is resolved
	// per compile and never cached.
	Values   map[string]float32  `yaml:"-"`
	Flags    options.EffectFlags `yaml:"flags"`
	Scalable bool                `yaml:"scalable"`
}

// withValues returns a copy of d carrying values. The cached descriptor is
// shared, so it is never mutated.
func (d *Descriptor) withValues(values map[string]float32) *Descriptor {
	cp := *d
	cp.Values = values
	return &cp
}

// Compiler turns an EffectOption into a Descriptor. Implementations must be
// safe for concurrent use.
type Compiler interface {
	Compile(opt options.EffectOption, flags CompileFlags) (*Descriptor, error)
}
