package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const maxFrameBytes = 16 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}

	ErrOpenTimeout = errors.New("timed out waiting for the first frame")
)

type FFmpegConfig struct {
	// URL is a stream URL, a file path or a numeric device index.
	URL           string
	Width         int
	Height        int
	FPS           int
	RTSPTransport string
	OpenTimeout   time.Duration
}

// FFmpegSource decodes a video feed by running ffmpeg and reading the MJPEG
// frames it writes to a pipe.
type FFmpegSource struct {
	cfg    FFmpegConfig
	logger *slog.Logger

	mu      sync.Mutex
	session *ffmpegSession
}

var _ VideoSource = (*FFmpegSource)(nil)

func NewFFmpegSource(cfg FFmpegConfig, logger *slog.Logger) *FFmpegSource {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	return &FFmpegSource{cfg: cfg, logger: logger}
}

type ffmpegSession struct {
	cancel context.CancelFunc
	reader *io.PipeReader
	frames chan image.Image
	done   chan struct{}

	mu      sync.Mutex
	pending image.Image
	err     error
}

func (s *ffmpegSession) setErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *ffmpegSession) exitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("ffmpeg stopped: %w", s.err)
	}
	return fmt.Errorf("ffmpeg stopped: %w", io.EOF)
}

func (s *ffmpegSession) takePending() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.pending
	s.pending = nil
	return img
}

func (s *ffmpegSession) stop() {
	close(s.done)
	s.cancel()
	_ = s.reader.Close()
}

// Open starts ffmpeg and waits up to OpenTimeout for the first decoded frame.
func (f *FFmpegSource) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pr, pw := io.Pipe()

	s := &ffmpegSession{
		cancel: cancel,
		reader: pr,
		frames: make(chan image.Image, 1),
		done:   make(chan struct{}),
	}

	input, inArgs := ffmpegInput(f.cfg)
	f.logger.Info("starting ffmpeg", "input", input, "width", f.cfg.Width, "height", f.cfg.Height, "fps", f.cfg.FPS)

	go func() {
		stream := ffmpeg.Input(input, inArgs).Output("pipe:", ffmpegOutput(f.cfg))
		stream.Context = runCtx
		err := stream.WithOutput(pw).Run()
		s.setErr(err)
		if err == nil {
			err = io.EOF
		}
		_ = pw.CloseWithError(err)
	}()

	go f.decode(s)

	timer := time.NewTimer(f.cfg.OpenTimeout)
	defer timer.Stop()

	select {
	case img, ok := <-s.frames:
		if !ok {
			s.stop()
			return s.exitErr()
		}
		s.pending = img
	case <-timer.C:
		s.stop()
		return fmt.Errorf("open %s: %w", input, ErrOpenTimeout)
	case <-ctx.Done():
		s.stop()
		return ctx.Err()
	}

	f.session = s
	return nil
}

func (f *FFmpegSource) decode(s *ffmpegSession) {
	defer close(s.frames)

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(SplitJPEG)

	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			f.logger.Debug("skipping undecodable frame", "error", err)
			continue
		}

		select {
		case s.frames <- img:
		case <-s.done:
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.setErr(err)
	}
}

func (f *FFmpegSource) Read() (image.Image, error) {
	f.mu.Lock()
	s := f.session
	f.mu.Unlock()

	if s == nil {
		return nil, ErrSourceClosed
	}

	if img := s.takePending(); img != nil {
		return img, nil
	}

	select {
	case img, ok := <-s.frames:
		if !ok {
			return nil, s.exitErr()
		}
		return img, nil
	case <-s.done:
		return nil, ErrSourceClosed
	}
}

func (f *FFmpegSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil {
		return nil
	}

	f.session.stop()
	f.session = nil
	return nil
}

// ffmpegInput maps a source descriptor to an ffmpeg input. rtsp URLs are
// forced onto the configured transport and a bare device index becomes a
// v4l2 device node.
func ffmpegInput(cfg FFmpegConfig) (string, ffmpeg.KwArgs) {
	args := ffmpeg.KwArgs{}

	if strings.HasPrefix(cfg.URL, "rtsp://") || strings.HasPrefix(cfg.URL, "rtsps://") {
		if cfg.RTSPTransport != "" {
			args["rtsp_transport"] = cfg.RTSPTransport
		}
		return cfg.URL, args
	}

	if index, err := strconv.Atoi(cfg.URL); err == nil && index >= 0 {
		args["f"] = "v4l2"
		if cfg.FPS > 0 {
			args["framerate"] = cfg.FPS
		}
		if cfg.Width > 0 && cfg.Height > 0 {
			args["video_size"] = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
		}
		return fmt.Sprintf("/dev/video%d", index), args
	}

	return cfg.URL, args
}

func ffmpegOutput(cfg FFmpegConfig) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"format": "image2pipe",
		"vcodec": "mjpeg",
		"map":    "0:v:0",
		"q:v":    3,
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		args["s"] = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS > 0 {
		args["r"] = cfg.FPS
	}
	return args
}

// SplitJPEG is a bufio.SplitFunc yielding one JPEG image per token,
// delimited by the SOI and EOI markers. Bytes before an SOI are discarded.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF in case it begins the next SOI.
		if n := len(data) - 1; n > 0 {
			return n, nil, nil
		}
		return 0, nil, nil
	}
	if start > 0 {
		return start, nil, nil
	}

	end := bytes.Index(data[len(jpegSOI):], jpegEOI)
	if end == -1 {
		return 0, nil, nil
	}

	n := len(jpegSOI) + end + len(jpegEOI)
	return n, data[:n], nil
}
