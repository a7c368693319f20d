package options

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEffect(t *testing.T) {
	tests := []struct {
		in      string
		want    EffectOption
		wantErr bool
	}{
		{in: "sharpen", want: EffectOption{Name: "sharpen"}},
		{
			in: "sharpen:strength=0.5,inline=true",
			want: EffectOption{
				Name:       "sharpen",
				Parameters: map[string]float32{"strength": 0.5},
				Inline:     true,
			},
		},
		{
			in:   "lanczos:scaling=normal,scale=2x1.5,fp16=1",
			want: EffectOption{Name: "lanczos", ScalingType: ScalingNormal, Scale: [2]float32{2, 1.5}, HalfFloat: true},
		},
		{in: "bilinear:scale=3", want: EffectOption{Name: "bilinear", Scale: [2]float32{3, 3}}},
		{in: ":strength=1", wantErr: true},
		{in: "sharpen:strength", wantErr: true},
		{in: "sharpen:strength=abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEffect(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectFlags(t *testing.T) {
	e := EffectOption{Inline: true, HalfFloat: true}
	assert.True(t, e.Flags().Has(InlineParams))
	assert.True(t, e.Flags().Has(FP16))
	assert.False(t, EffectOption{}.Flags().Has(InlineParams))
}

func TestValidate(t *testing.T) {
	valid := ScalingOptions{CaptureMethod: CaptureFFmpeg, Effects: []EffectOption{{Name: "bilinear"}}}
	require.NoError(t, valid.Validate())

	noEffects := valid
	noEffects.Effects = nil
	assert.ErrorIs(t, noEffects.Validate(), ErrNoEffects)

	badCapture := valid
	badCapture.CaptureMethod = "dxgi"
	assert.ErrorIs(t, badCapture.Validate(), ErrInvalidCapture)

	fileWithoutInput := valid
	fileWithoutInput.CaptureMethod = CaptureFile
	assert.ErrorIs(t, fileWithoutInput.Validate(), ErrInvalidCapture)

	badScaling := valid.Clone()
	badScaling.Effects[0].ScalingType = "stretch"
	assert.ErrorIs(t, badScaling.Validate(), ErrInvalidScalingType)
}

func TestCloneIsDeep(t *testing.T) {
	orig := ScalingOptions{Effects: []EffectOption{{Name: "sharpen", Parameters: map[string]float32{"strength": 1}}}}
	c := orig.Clone()
	c.Effects[0].Parameters["strength"] = 2
	c.Effects[0].Name = "other"
	assert.Equal(t, float32(1), orig.Effects[0].Parameters["strength"])
	assert.Equal(t, "sharpen", orig.Effects[0].Name)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goscaler.yaml")
	content := `
capture: file
input: /tmp/clip.mp4
vsync: false
triple_buffering: true
no_cache: true
effects:
  - name: lanczos
    scaling_type: fit
    parameters:
      sharpness: 0.25
  - name: sharpen
    inline_params: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.Set("effect", []string{"bilinear:scaling=fill"})
	cfg, err := Load(v, path)
	require.NoError(t, err)

	opts, err := cfg.ScalingOptions()
	require.NoError(t, err)
	assert.Equal(t, CaptureFile, opts.CaptureMethod)
	assert.Equal(t, "/tmp/clip.mp4", opts.InputFile)
	assert.False(t, opts.VSync)
	assert.True(t, opts.TripleBuffering)
	assert.True(t, opts.DisableEffectCache)
	require.Len(t, opts.Effects, 3)
	assert.Equal(t, "lanczos", opts.Effects[0].Name)
	assert.Equal(t, ScalingFit, opts.Effects[0].ScalingType)
	assert.Equal(t, float32(0.25), opts.Effects[0].Parameters["sharpness"])
	assert.True(t, opts.Effects[1].Flags().Has(InlineParams))
	assert.Equal(t, ScalingFill, opts.Effects[2].ScalingType)
}

func TestLoadLeavesLogLevelToDebug(t *testing.T) {
	assert.Empty(t, DefaultConfig().LogLevel)

	path := filepath.Join(t.TempDir(), "goscaler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: true\n"), 0o644))
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Empty(t, cfg.LogLevel, "an unset level lets debug pick its own")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultsRejectEmptyChain(t *testing.T) {
	_, err := DefaultConfig().ScalingOptions()
	assert.ErrorIs(t, err, ErrNoEffects)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    image.Point
		wantErr bool
	}{
		{"", image.Point{}, false},
		{"1920x1080", image.Pt(1920, 1080), false},
		{"640X480", image.Pt(640, 480), false},
		{"640", image.Point{}, true},
		{"0x480", image.Point{}, true},
		{"axb", image.Point{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
