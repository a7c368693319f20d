package framesource

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/richinsley/goscaler/graphics"
	"github.com/richinsley/goscaler/options"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// FFmpeg captures a window through the platform's ffmpeg grab device, or
// loops a video file, and reads raw RGBA frames from ffmpeg's stdout.
type FFmpeg struct {
	method options.CaptureMethod
	logger *zap.Logger

	dev    graphics.Device
	output graphics.Texture
	size   image.Point
	frame  []byte
	buffer *frameBuffer

	cmd    *exec.Cmd
	stdout io.ReadCloser
	lost   atomic.Bool
	done   chan struct{}
	once   sync.Once

	// probe is replaced in tests.
	probe func(filename string, args ffmpeg.KwArgs) (image.Point, error)
}

var _ Notifier = (*FFmpeg)(nil)

func NewFFmpeg(method options.CaptureMethod, logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{
		method: method,
		logger: logger.With(zap.String("source", "ffmpeg"), zap.String("method", string(method))),
		done:   make(chan struct{}),
		probe:  probeSize,
	}
}

func (f *FFmpeg) Name() string {
	if f.method == options.CaptureFile {
		return "ffmpeg file"
	}
	return "ffmpeg " + grabDevice(runtime.GOOS)
}

func (f *FFmpeg) Initialize(src Window, out graphics.Window, opts options.ScalingOptions, dev graphics.Device) error {
	filename, inputArgs, err := captureInput(runtime.GOOS, f.method, src, opts)
	if err != nil {
		return err
	}

	size := src.Size
	if f.method == options.CaptureFile || size.X <= 0 || size.Y <= 0 {
		if size, err = f.probe(filename, inputArgs); err != nil {
			return fmt.Errorf("failed to probe %s: %w", filename, err)
		}
	}
	f.size = size

	f.dev = dev
	f.output, err = dev.CreateTexture(size, graphics.FormatRGBA8)
	if err != nil {
		return fmt.Errorf("failed to create capture texture: %w", err)
	}
	f.frame = make([]byte, size.X*size.Y*4)

	stream := ffmpeg.Input(filename, inputArgs).
		Output("pipe:", outputArgs(size)).
		GlobalArgs("-nostdin", "-loglevel", "error")
	if opts.FFmpegPath != "" {
		stream = stream.SetFfmpegPath(opts.FFmpegPath)
	}
	f.cmd = stream.Compile()
	f.cmd.Stderr = os.Stderr
	f.stdout, err = f.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := f.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	f.logger.Info("capture started",
		zap.Stringer("window", src),
		zap.Int("width", size.X),
		zap.Int("height", size.Y),
		zap.Strings("args", f.cmd.Args))

	f.start(f.stdout)
	return nil
}

// start launches the reader goroutine over r.
func (f *FFmpeg) start(r io.Reader) {
	f.buffer = newFrameBuffer(len(f.frame))
	go f.read(r)
}

func (f *FFmpeg) read(r io.Reader) {
	defer close(f.done)
	for {
		buf := f.buffer.writeBuffer()
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				f.logger.Warn("capture read failed", zap.Error(err))
			}
			f.lost.Store(true)
			// wake the backend so it observes Lost promptly
			select {
			case f.buffer.notify <- struct{}{}:
			default:
			}
			return
		}
		f.buffer.commit()
	}
}

func (f *FFmpeg) Output() graphics.Texture { return f.output }

func (f *FFmpeg) Notify() <-chan struct{} {
	if f.buffer == nil {
		return nil
	}
	return f.buffer.notify
}

func (f *FFmpeg) Update() UpdateState {
	if f.buffer == nil {
		return Lost
	}
	if f.buffer.take(f.frame) {
		if err := f.dev.UploadTexture(f.output, f.frame); err != nil {
			f.logger.Error("failed to upload frame", zap.Error(err))
			return NoUpdate
		}
		return NewFrame
	}
	if f.lost.Load() {
		return Lost
	}
	return NoUpdate
}

func (f *FFmpeg) Release() {
	f.once.Do(func() {
		if f.cmd != nil && f.cmd.Process != nil {
			if err := f.cmd.Process.Kill(); err != nil {
				f.logger.Debug("failed to kill ffmpeg", zap.Error(err))
			}
			_ = f.cmd.Wait()
		}
		if f.buffer != nil {
			<-f.done
			frames, dropped := f.buffer.stats()
			f.logger.Info("capture stopped", zap.Uint64("frames", frames), zap.Uint64("dropped", dropped))
		}
		if f.output != nil {
			f.output.Release()
		}
	})
}

func grabDevice(goos string) string {
	switch goos {
	case "windows":
		return "gdigrab"
	case "darwin":
		return "avfoundation"
	default:
		return "x11grab"
	}
}

// captureInput returns the ffmpeg input name and options for a capture.
func captureInput(goos string, method options.CaptureMethod, src Window, opts options.ScalingOptions) (string, ffmpeg.KwArgs, error) {
	args := ffmpeg.KwArgs{}
	fps := opts.CaptureFrameRate
	if fps <= 0 {
		fps = 60
	}

	switch method {
	case options.CaptureFile:
		if opts.InputFile == "" {
			return "", nil, fmt.Errorf("%w: no input file", options.ErrInvalidCapture)
		}
		args["stream_loop"] = "-1"
		args["re"] = ""
		return opts.InputFile, args, nil
	case options.CaptureFFmpeg:
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCaptureMethod, method)
	}

	args["f"] = grabDevice(goos)
	args["framerate"] = strconv.Itoa(fps)
	switch goos {
	case "windows":
		args["draw_mouse"] = "0"
		switch {
		case src.Title != "":
			return "title=" + src.Title, args, nil
		case src.ID != 0:
			return fmt.Sprintf("hwnd=0x%x", src.ID), args, nil
		}
	case "darwin":
		args["capture_cursor"] = "0"
		// avfoundation grabs screens, not windows; the ID selects the screen device.
		return fmt.Sprintf("%d:none", src.ID), args, nil
	default:
		if src.ID != 0 {
			display := os.Getenv("DISPLAY")
			if display == "" {
				display = ":0"
			}
			args["window_id"] = fmt.Sprintf("0x%x", src.ID)
			args["draw_mouse"] = "0"
			return display, args, nil
		}
	}
	return "", nil, fmt.Errorf("%w: window %s cannot be captured with %s", options.ErrInvalidCapture, src, grabDevice(goos))
}

func outputArgs(size image.Point) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", size.X, size.Y),
	}
}

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func probeSize(filename string, args ffmpeg.KwArgs) (image.Point, error) {
	probeArgs := ffmpeg.KwArgs{}
	if f, ok := args["f"]; ok {
		probeArgs["f"] = f
	}
	if id, ok := args["window_id"]; ok {
		probeArgs["window_id"] = id
	}
	out, err := ffmpeg.Probe(filename, probeArgs)
	if err != nil {
		return image.Point{}, err
	}
	return parseProbe(out)
}

func parseProbe(out string) (image.Point, error) {
	var res probeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return image.Point{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	for _, s := range res.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return image.Pt(s.Width, s.Height), nil
		}
	}
	return image.Point{}, errors.New("no video stream found")
}
