package options

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CaptureMethod selects the FrameSource implementation used by the backend.
type CaptureMethod string

const (
	// CaptureFFmpeg grabs a live window through the platform's ffmpeg grab device.
	CaptureFFmpeg CaptureMethod = "ffmpeg"
	// CaptureFile loops a video file through ffmpeg. Mostly useful for demos and benchmarking effects.
	CaptureFile CaptureMethod = "file"
)

// ScalingType controls how a scalable effect derives its output size.
type ScalingType string

const (
	ScalingNormal   ScalingType = "normal"   // input size multiplied by Scale
	ScalingFit      ScalingType = "fit"      // largest aspect-preserving size that fits the target
	ScalingFill     ScalingType = "fill"     // exactly the target size
	ScalingAbsolute ScalingType = "absolute" // Scale interpreted as pixels
)

// EffectFlags are per-effect compile options.
type EffectFlags uint32

const (
	// InlineParams bakes parameter values into the shader as constants.
	InlineParams EffectFlags = 1 << iota
	// FP16 requests half precision arithmetic and an RGBA16F output texture.
	FP16
)

func (f EffectFlags) Has(flag EffectFlags) bool { return f&flag != 0 }

var (
	ErrNoEffects          = errors.New("at least one effect is required")
	ErrInvalidCapture     = errors.New("invalid capture method")
	ErrInvalidScalingType = errors.New("invalid scaling type")
)

// EffectOption describes one stage of the effect chain.
type EffectOption struct {
	Name        string             `mapstructure:"name" yaml:"name"`
	Parameters  map[string]float32 `mapstructure:"parameters" yaml:"parameters,omitempty"`
	ScalingType ScalingType        `mapstructure:"scaling_type" yaml:"scaling_type,omitempty"`
	Scale       [2]float32         `mapstructure:"scale" yaml:"scale,omitempty"`
	Inline      bool               `mapstructure:"inline_params" yaml:"inline_params,omitempty"`
	HalfFloat   bool               `mapstructure:"fp16" yaml:"fp16,omitempty"`
}

// Flags folds the boolean switches into EffectFlags.
func (e EffectOption) Flags() EffectFlags {
	var f EffectFlags
	if e.Inline {
		f |= InlineParams
	}
	if e.HalfFloat {
		f |= FP16
	}
	return f
}

// ScalingOptions is the immutable per-session configuration handed to the renderer.
// It is copied into the backend goroutine and never modified after Initialize.
type ScalingOptions struct {
	CaptureMethod      CaptureMethod
	Effects            []EffectOption
	VSync              bool
	TripleBuffering    bool
	DisableEffectCache bool
	SaveEffectSources  bool
	WarningsAreErrors  bool
	DebugMode          bool

	EffectsDir       string
	CacheDir         string
	FFmpegPath       string
	InputFile        string
	CaptureFrameRate int
	LogLevel         string
}

// Clone returns a deep copy so the backend owns its own effect slice and parameter maps.
func (o ScalingOptions) Clone() ScalingOptions {
	c := o
	c.Effects = make([]EffectOption, len(o.Effects))
	for i, e := range o.Effects {
		c.Effects[i] = e.clone()
	}
	return c
}

func (e EffectOption) clone() EffectOption {
	c := e
	if e.Parameters != nil {
		c.Parameters = make(map[string]float32, len(e.Parameters))
		for k, v := range e.Parameters {
			c.Parameters[k] = v
		}
	}
	return c
}

// Validate checks the options for values the renderer cannot work with.
func (o *ScalingOptions) Validate() error {
	switch o.CaptureMethod {
	case CaptureFFmpeg:
	case CaptureFile:
		if o.InputFile == "" {
			return fmt.Errorf("%w: %q requires an input file", ErrInvalidCapture, o.CaptureMethod)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCapture, o.CaptureMethod)
	}
	if len(o.Effects) == 0 {
		return ErrNoEffects
	}
	for i, e := range o.Effects {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("effect #%d has no name", i)
		}
		switch e.ScalingType {
		case "", ScalingNormal, ScalingFit, ScalingFill, ScalingAbsolute:
		default:
			return fmt.Errorf("%w: effect #%d (%s): %q", ErrInvalidScalingType, i, e.Name, e.ScalingType)
		}
		for k, v := range e.Parameters {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("effect #%d (%s): parameter %s is not finite", i, e.Name, k)
			}
		}
	}
	if o.CaptureFrameRate < 0 {
		return fmt.Errorf("capture frame rate must not be negative")
	}
	return nil
}

// ParseEffect parses the command line form "name[:key=value,key=value]".
// The special keys "scaling", "scale", "inline" and "fp16" set the matching EffectOption fields.
func ParseEffect(s string) (EffectOption, error) {
	name, rest, _ := strings.Cut(s, ":")
	e := EffectOption{Name: strings.TrimSpace(name)}
	if e.Name == "" {
		return e, fmt.Errorf("effect %q has no name", s)
	}
	if rest == "" {
		return e, nil
	}
	for _, kv := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if !ok || k == "" {
			return e, fmt.Errorf("effect %s: malformed option %q", e.Name, kv)
		}
		switch k {
		case "scaling":
			e.ScalingType = ScalingType(v)
		case "scale":
			x, y, found := strings.Cut(v, "x")
			sx, err := parseFloat(x)
			if err != nil {
				return e, fmt.Errorf("effect %s: scale: %w", e.Name, err)
			}
			sy := sx
			if found {
				if sy, err = parseFloat(y); err != nil {
					return e, fmt.Errorf("effect %s: scale: %w", e.Name, err)
				}
			}
			e.Scale = [2]float32{sx, sy}
		case "inline":
			e.Inline = v == "true" || v == "1"
		case "fp16":
			e.HalfFloat = v == "true" || v == "1"
		default:
			f, err := parseFloat(v)
			if err != nil {
				return e, fmt.Errorf("effect %s: parameter %s: %w", e.Name, k, err)
			}
			if e.Parameters == nil {
				e.Parameters = make(map[string]float32)
			}
			e.Parameters[k] = f
		}
	}
	return e, nil
}

func parseFloat(s string) (float32, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0, err
	}
	return float32(f), nil
}
