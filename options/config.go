package options

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the on-disk / command line form of a scaling session. It is
// decoded by viper and frozen into ScalingOptions before the renderer starts.
type Config struct {
	Capture          string         `mapstructure:"capture"`
	Input            string         `mapstructure:"input"`
	Effects          []EffectOption `mapstructure:"effects"`
	EffectSpecs      []string       `mapstructure:"effect"`
	VSync            bool           `mapstructure:"vsync"`
	TripleBuffering  bool           `mapstructure:"triple_buffering"`
	NoCache          bool           `mapstructure:"no_cache"`
	SaveSources      bool           `mapstructure:"save_sources"`
	WarningsAsErrors bool           `mapstructure:"warnings_as_errors"`
	Debug            bool           `mapstructure:"debug"`
	EffectsDir       string         `mapstructure:"effects_dir"`
	CacheDir         string         `mapstructure:"cache_dir"`
	FFmpegPath       string         `mapstructure:"ffmpeg"`
	FPS              int            `mapstructure:"fps"`
	LogLevel         string         `mapstructure:"log_level"`

	// Window selection, consumed by the command rather than the renderer.
	SourceTitle string `mapstructure:"source_title"`
	SourceID    uint64 `mapstructure:"source_id"`
	SourceSize  string `mapstructure:"source_size"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Capture:  string(CaptureFFmpeg),
		VSync:    true,
		CacheDir: defaultCacheDir(),
		FPS:      60,
		Width:    1920,
		Height:   1080,
	}
}

// SetDefaults registers every key with v so AutomaticEnv can resolve them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("capture", d.Capture)
	v.SetDefault("input", d.Input)
	v.SetDefault("effects", []map[string]any{})
	v.SetDefault("effect", []string{})
	v.SetDefault("vsync", d.VSync)
	v.SetDefault("triple_buffering", d.TripleBuffering)
	v.SetDefault("no_cache", d.NoCache)
	v.SetDefault("save_sources", d.SaveSources)
	v.SetDefault("warnings_as_errors", d.WarningsAsErrors)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("effects_dir", d.EffectsDir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("ffmpeg", d.FFmpegPath)
	v.SetDefault("fps", d.FPS)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("source_title", d.SourceTitle)
	v.SetDefault("source_id", d.SourceID)
	v.SetDefault("source_size", d.SourceSize)
	v.SetDefault("width", d.Width)
	v.SetDefault("height", d.Height)
}

// Load reads configuration from the given file (or goscaler.yaml in the
// usual places when empty) and the GOSCALER_* environment.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("goscaler")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "goscaler"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GOSCALER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// ScalingOptions freezes the configuration into the renderer's options.
// Effects given on the command line are appended after the ones from the file.
func (c *Config) ScalingOptions() (ScalingOptions, error) {
	opts := ScalingOptions{
		CaptureMethod:      CaptureMethod(c.Capture),
		VSync:              c.VSync,
		TripleBuffering:    c.TripleBuffering,
		DisableEffectCache: c.NoCache,
		SaveEffectSources:  c.SaveSources,
		WarningsAreErrors:  c.WarningsAsErrors,
		DebugMode:          c.Debug,
		EffectsDir:         c.EffectsDir,
		CacheDir:           c.CacheDir,
		FFmpegPath:         c.FFmpegPath,
		InputFile:          c.Input,
		CaptureFrameRate:   c.FPS,
		LogLevel:           c.LogLevel,
	}
	opts.Effects = append(opts.Effects, c.Effects...)
	for _, spec := range c.EffectSpecs {
		e, err := ParseEffect(spec)
		if err != nil {
			return ScalingOptions{}, err
		}
		opts.Effects = append(opts.Effects, e)
	}
	if err := opts.Validate(); err != nil {
		return ScalingOptions{}, err
	}
	return opts.Clone(), nil
}

// ParseSize parses "WIDTHxHEIGHT". The empty string is the zero size.
func ParseSize(s string) (image.Point, error) {
	if s == "" {
		return image.Point{}, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("malformed size %q", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return image.Point{}, fmt.Errorf("malformed size %q: %w", s, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return image.Point{}, fmt.Errorf("malformed size %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return image.Point{}, fmt.Errorf("size %q must be positive", s)
	}
	return image.Pt(w, h), nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "goscaler")
	}
	return filepath.Join(dir, "goscaler")
}
