package effect

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/richinsley/goscaler/options"
	"github.com/richinsley/goscaler/shader"
	"go.uber.org/zap"
)

// TranslateFunc translates a WebGL2 fragment shader to GLSL 4.10 and
// returns the source to output name mapping of its variables.
type TranslateFunc func(source string) (code string, names map[string]string, err error)

// Config configures a ShaderCompiler.
type Config struct {
	Library Library
	// CacheDir holds the disk cache and, with SaveSources, the generated
	// sources. Empty disables both.
	CacheDir  string
	Translate TranslateFunc
	Logger    *zap.Logger
}

// ShaderCompiler is the Compiler used by the renderer.
type ShaderCompiler struct {
	lib       Library
	cacheDir  string
	translate TranslateFunc
	cache     *cache
	logger    *zap.Logger
}

var _ Compiler = (*ShaderCompiler)(nil)

func NewCompiler(cfg Config) (*ShaderCompiler, error) {
	if cfg.Translate == nil {
		return nil, errors.New("effect compiler needs a translator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShaderCompiler{
		lib:       cfg.Library,
		cacheDir:  cfg.CacheDir,
		translate: cfg.Translate,
		cache:     newCache(cfg.CacheDir),
		logger:    logger.With(zap.String("component", "effect-compiler")),
	}, nil
}

// Compile loads, validates, generates and translates one effect. The result
// depends only on opt, flags and the effect file.
func (c *ShaderCompiler) Compile(opt options.EffectOption, flags CompileFlags) (*Descriptor, error) {
	text, err := c.lib.Load(opt.Name)
	if err != nil {
		return nil, err
	}
	src, err := Parse(opt.Name, text)
	if err != nil {
		return nil, err
	}
	values, err := src.Values(opt.Parameters)
	if err != nil {
		return nil, err
	}

	if unused := src.Unused(); len(unused) > 0 {
		msg := fmt.Sprintf("parameters declared but never used: %s", strings.Join(unused, ", "))
		if flags.Has(WarningsAreErrors) {
			return nil, fmt.Errorf("%w: %s: %s", ErrWarnings, opt.Name, msg)
		}
		c.logger.Warn(msg, zap.String("effect", opt.Name))
	}

	effFlags := opt.Flags()
	params := make([]shader.Param, 0, len(src.Params))
	for _, p := range src.Params {
		params = append(params, shader.Param{Name: p.Name, Value: values[p.Name]})
	}
	preamble := shader.GeneratePreamble(params, effFlags.Has(options.InlineParams), effFlags.Has(options.FP16))
	generated := shader.GetFragmentShader(preamble, src.Body)

	if flags.Has(SaveSources) && c.cacheDir != "" {
		path := filepath.Join(c.cacheDir, "sources", opt.Name+ext)
		if err := writeFileAtomic(path, []byte(generated)); err != nil {
			c.logger.Warn("failed to save effect source", zap.String("path", path), zap.Error(err))
		}
	}

	key := cacheKey(opt.Name, generated)
	if !flags.Has(NoCache) {
		if d, ok := c.cache.get(key); ok {
			c.logger.Debug("effect cache hit", zap.String("effect", opt.Name), zap.String("key", key))
			return d.withValues(values), nil
		}
	}

	code, names, err := c.translate(generated)
	if err != nil {
		return nil, fmt.Errorf("failed to compile effect %s: %w", opt.Name, err)
	}

	d := &Descriptor{
		Name:     opt.Name,
		Code:     code,
		Uniforms: make(map[string]string),
		Params:   src.Params,
		Flags:    effFlags,
		Scalable: src.Scalable,
	}
	for _, u := range []string{shader.Input, shader.InputSize, shader.OutputSize, shader.FrameCount} {
		if mapped, ok := names[u]; ok {
			d.Uniforms[u] = mapped
		}
	}
	if !effFlags.Has(options.InlineParams) {
		for _, p := range src.Params {
			if mapped, ok := names[p.Name]; ok {
				d.Uniforms[p.Name] = mapped
			}
		}
	}

	if !flags.Has(NoCache) {
		if err := c.cache.put(key, d); err != nil {
			c.logger.Warn("failed to write effect cache", zap.String("effect", opt.Name), zap.Error(err))
		}
	}
	return d.withValues(values), nil
}
