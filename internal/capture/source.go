// Package capture acquires frames from a video source on a background
// goroutine and hands them to consumers through a bounded queue and a
// latest-frame slot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

var ErrSourceClosed = errors.New("video source closed")

// VideoSource is a device or network feed. Read blocks until a frame is
// available and must return an error promptly once the source is closed.
type VideoSource interface {
	Open(ctx context.Context) error
	Read() (image.Image, error)
	Close() error
}

type Config struct {
	QueueSize        int
	MaxReadFailures  int
	ReconnectBackoff time.Duration
	JoinTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:        10,
		MaxReadFailures:  30,
		ReconnectBackoff: 2 * time.Second,
		JoinTimeout:      2 * time.Second,
	}
}

type Stats struct {
	Running       bool   `json:"running"`
	FramesRead    uint64 `json:"frames_read"`
	FramesDropped uint64 `json:"frames_dropped"`
	ReadFailures  uint64 `json:"read_failures"`
	Reconnects    uint64 `json:"reconnects"`
}

type Source struct {
	video  VideoSource
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	frames chan domain.Frame

	mu        sync.RWMutex
	latest    domain.Frame
	annotated domain.Frame

	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	seq           atomic.Uint64
	framesRead    atomic.Uint64
	framesDropped atomic.Uint64
	readFailures  atomic.Uint64
	reconnects    atomic.Uint64
}

type Option func(*Source)

func WithClock(c clock.Clock) Option {
	return func(s *Source) { s.clock = c }
}

func NewSource(video VideoSource, cfg Config, logger *slog.Logger, opts ...Option) *Source {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxReadFailures < 1 {
		cfg.MaxReadFailures = 1
	}

	s := &Source{
		video:  video,
		cfg:    cfg,
		clock:  clock.New(),
		logger: logger,
		frames: make(chan domain.Frame, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the video source and launches the acquisition loop. Calling
// Start on a running source does nothing. An open failure is returned and
// leaves the source stopped.
func (s *Source) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() {
		return nil
	}

	if err := s.video.Open(ctx); err != nil {
		return fmt.Errorf("open video source: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.run(loopCtx, s.done)

	s.logger.Info("frame capture started", "queue_size", s.cfg.QueueSize)
	return nil
}

func (s *Source) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	for ctx.Err() == nil {
		img, err := s.video.Read()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			s.readFailures.Add(1)
			failures++
			s.logger.Debug("frame read failed", "consecutive", failures, "error", err)

			if failures >= s.cfg.MaxReadFailures {
				s.reconnect(ctx)
				failures = 0
			}
			continue
		}

		failures = 0
		s.publish(img)
	}
}

func (s *Source) reconnect(ctx context.Context) {
	s.logger.Warn("too many consecutive read failures, reconnecting",
		"max_failures", s.cfg.MaxReadFailures,
		"backoff", s.cfg.ReconnectBackoff,
	)

	if err := s.video.Close(); err != nil {
		s.logger.Warn("failed to close video source", "error", err)
	}

	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(s.cfg.ReconnectBackoff):
	}

	if err := s.video.Open(ctx); err != nil {
		s.logger.Error("failed to reopen video source", "error", err)
		return
	}

	s.reconnects.Add(1)
	s.logger.Info("video source reconnected")
}

func (s *Source) publish(img image.Image) {
	frame := domain.Frame{
		Image:      imaging.Clone(img),
		Seq:        s.seq.Add(1),
		CapturedAt: s.clock.Now(),
	}

	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()

	select {
	case s.frames <- frame.Clone():
	default:
		s.framesDropped.Add(1)
	}

	s.framesRead.Add(1)
}

// TryGetFrame pops the oldest queued frame without blocking.
func (s *Source) TryGetFrame() (domain.Frame, bool) {
	select {
	case frame := <-s.frames:
		return frame, true
	default:
		return domain.Frame{}, false
	}
}

// GetFrame waits for the next queued frame until ctx is done.
func (s *Source) GetFrame(ctx context.Context) (domain.Frame, bool) {
	select {
	case frame := <-s.frames:
		return frame, true
	case <-ctx.Done():
		return domain.Frame{}, false
	}
}

// LatestFrame returns a copy of the most recently read frame.
func (s *Source) LatestFrame() (domain.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest.Empty() {
		return domain.Frame{}, false
	}
	return s.latest.Clone(), true
}

// LatestAnnotated returns a copy of the last frame published with
// SetAnnotatedFrame.
func (s *Source) LatestAnnotated() (domain.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.annotated.Empty() {
		return domain.Frame{}, false
	}
	return s.annotated.Clone(), true
}

func (s *Source) SetAnnotatedFrame(frame domain.Frame) {
	if frame.Empty() {
		return
	}
	copied := frame.Clone()

	s.mu.Lock()
	s.annotated = copied
	s.mu.Unlock()
}

func (s *Source) Running() bool {
	return s.running.Load()
}

func (s *Source) Stats() Stats {
	return Stats{
		Running:       s.running.Load(),
		FramesRead:    s.framesRead.Load(),
		FramesDropped: s.framesDropped.Load(),
		ReadFailures:  s.readFailures.Load(),
		Reconnects:    s.reconnects.Load(),
	}
}

// Release stops the acquisition loop, waiting at most JoinTimeout for it,
// and closes the video source.
func (s *Source) Release() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.Load() {
		return nil
	}

	s.cancel()

	timer := time.NewTimer(s.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("capture loop did not stop in time", "timeout", s.cfg.JoinTimeout)
	}

	s.running.Store(false)

	if err := s.video.Close(); err != nil {
		return fmt.Errorf("close video source: %w", err)
	}

	s.logger.Info("frame capture released")
	return nil
}
