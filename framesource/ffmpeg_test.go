package framesource

import (
	"image"
	"io"
	"testing"
	"time"

	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/graphics/graphicstest"
	"github.com/richinsley/goscaler/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

func TestCaptureInput(t *testing.T) {
	live := options.ScalingOptions{CaptureMethod: options.CaptureFFmpeg, CaptureFrameRate: 30}
	tests := []struct {
		name     string
		goos     string
		method   options.CaptureMethod
		src      Window
		opts     options.ScalingOptions
		filename string
		args     ffmpeg.KwArgs
		wantErr  error
	}{
		{
			name: "windows by title", goos: "windows", method: options.CaptureFFmpeg,
			src: Window{Title: "Game"}, opts: live,
			filename: "title=Game",
			args:     ffmpeg.KwArgs{"f": "gdigrab", "framerate": "30", "draw_mouse": "0"},
		},
		{
			name: "windows by handle", goos: "windows", method: options.CaptureFFmpeg,
			src: Window{ID: 0x1f2}, opts: live,
			filename: "hwnd=0x1f2",
			args:     ffmpeg.KwArgs{"f": "gdigrab", "framerate": "30", "draw_mouse": "0"},
		},
		{
			name: "linux by window id", goos: "linux", method: options.CaptureFFmpeg,
			src: Window{ID: 0x3a00007}, opts: live,
			args: ffmpeg.KwArgs{"f": "x11grab", "framerate": "30", "window_id": "0x3a00007", "draw_mouse": "0"},
		},
		{
			name: "linux needs an id", goos: "linux", method: options.CaptureFFmpeg,
			src: Window{Title: "Game"}, opts: live,
			wantErr: options.ErrInvalidCapture,
		},
		{
			name: "darwin screen", goos: "darwin", method: options.CaptureFFmpeg,
			src: Window{ID: 1}, opts: live,
			filename: "1:none",
			args:     ffmpeg.KwArgs{"f": "avfoundation", "framerate": "30", "capture_cursor": "0"},
		},
		{
			name: "file loops", goos: "linux", method: options.CaptureFile,
			opts:     options.ScalingOptions{CaptureMethod: options.CaptureFile, InputFile: "clip.mp4"},
			filename: "clip.mp4",
			args:     ffmpeg.KwArgs{"stream_loop": "-1", "re": ""},
		},
		{
			name: "file without input", goos: "linux", method: options.CaptureFile,
			opts:    options.ScalingOptions{CaptureMethod: options.CaptureFile},
			wantErr: options.ErrInvalidCapture,
		},
		{
			name: "unknown method", goos: "linux", method: "dxgi",
			wantErr: ErrUnknownCaptureMethod,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filename, args, err := captureInput(tt.goos, tt.method, tt.src, tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.filename != "" {
				assert.Equal(t, tt.filename, filename)
			}
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestCaptureInputDefaultFrameRate(t *testing.T) {
	_, args, err := captureInput("windows", options.CaptureFFmpeg, Window{Title: "x"}, options.ScalingOptions{})
	require.NoError(t, err)
	assert.Equal(t, "60", args["framerate"])
}

func TestOutputArgs(t *testing.T) {
	args := outputArgs(image.Pt(640, 360))
	assert.Equal(t, "rawvideo", args["format"])
	assert.Equal(t, "rgba", args["pix_fmt"])
	assert.Equal(t, "640x360", args["s"])
}

func TestParseProbe(t *testing.T) {
	size, err := parseProbe(`{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":1280,"height":720}]}`)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1280, 720), size)

	_, err = parseProbe(`{"streams":[{"codec_type":"audio"}]}`)
	assert.Error(t, err)

	_, err = parseProbe(`not json`)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	src, err := New(options.CaptureFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg file", src.Name())

	_, err = New("dxgi", nil)
	assert.ErrorIs(t, err, ErrUnknownCaptureMethod)
}

func TestFrameBufferLatestWins(t *testing.T) {
	b := newFrameBuffer(1)
	for i := byte(1); i <= 3; i++ {
		b.writeBuffer()[0] = i
		b.commit()
	}
	dst := make([]byte, 1)
	require.True(t, b.take(dst))
	assert.Equal(t, byte(3), dst[0])
	assert.False(t, b.take(dst))

	frames, dropped := b.stats()
	assert.Equal(t, uint64(3), frames)
	assert.Equal(t, uint64(2), dropped)
}

func newPipedSource(t *testing.T, size image.Point) (*FFmpeg, *graphicstest.Device, *io.PipeWriter) {
	t.Helper()
	dev := graphicstest.NewDevice(graphicstest.NewHub(), "backend")
	tex, err := dev.CreateTexture(size, graphics.FormatRGBA8)
	require.NoError(t, err)

	f := NewFFmpeg(options.CaptureFile, nil)
	f.dev = dev
	f.output = tex
	f.frame = make([]byte, size.X*size.Y*4)
	pr, pw := io.Pipe()
	f.start(pr)
	return f, dev, pw
}

func waitNotify(t *testing.T, f *FFmpeg) {
	t.Helper()
	select {
	case <-f.Notify():
	case <-time.After(time.Second):
		t.Fatal("no frame notification")
	}
}

func TestUpdateUploadsLatestFrame(t *testing.T) {
	f, dev, pw := newPipedSource(t, image.Pt(2, 1))

	assert.Equal(t, NoUpdate, f.Update())

	_, err := pw.Write([]byte{7, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	waitNotify(t, f)

	assert.Equal(t, NewFrame, f.Update())
	assert.Equal(t, uint64(7), f.Output().(*graphicstest.Texture).Content())
	assert.Equal(t, int64(1), dev.Counters.Uploads.Load())
	assert.Equal(t, NoUpdate, f.Update())

	require.NoError(t, pw.Close())
	assert.Eventually(t, func() bool { return f.Update() == Lost }, time.Second, time.Millisecond)
	f.Release()
}

func TestUpdateBeforeInitializeIsLost(t *testing.T) {
	assert.Equal(t, Lost, NewFFmpeg(options.CaptureFFmpeg, nil).Update())
}
