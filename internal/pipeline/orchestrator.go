// Package pipeline drives frames from the capture source through
// detection, quality gating, identity matching and notification, and
// publishes annotated frames back to the source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/metrics"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider"
)

var ErrAlreadyStarted = errors.New("pipeline already started")

// FrameSource is the capture side the orchestrator pulls from and
// publishes to.
type FrameSource interface {
	TryGetFrame() (domain.Frame, bool)
	SetAnnotatedFrame(frame domain.Frame)
}

type QualityGate interface {
	Evaluate(crop image.Image, face domain.DetectedFace) domain.QualityVerdict
}

type Matcher interface {
	Match(ctx context.Context, embedding []float64) (domain.MatchResult, error)
}

type Notifier interface {
	Notify(ctx context.Context, id string, confidence float64, bbox domain.BoundingBox) bool
}

type Config struct {
	// DecimationFactor N forwards every Nth pulled frame to the detector.
	DecimationFactor int
	// IdleDelay is the pause when no frame is ready or a frame is skipped.
	IdleDelay time.Duration
	// ErrorBackoff is the pause after a frame fails.
	ErrorBackoff time.Duration
	MinFaceSize  int
	MinCropSize  int
	AcceptScore  float64
}

func DefaultConfig() Config {
	return Config{
		DecimationFactor: 3,
		IdleDelay:        10 * time.Millisecond,
		ErrorBackoff:     100 * time.Millisecond,
		MinFaceSize:      40,
		MinCropSize:      10,
		AcceptScore:      0.5,
	}
}

type Dependencies struct {
	Source   FrameSource
	Detector provider.Detector
	Gate     QualityGate
	Matcher  Matcher
	Notifier Notifier
	// Metrics is optional.
	Metrics *metrics.Pipeline
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Orchestrator struct {
	cfg     Config
	deps    Dependencies
	metrics *metrics.Pipeline
	logger  *slog.Logger

	state  atomic.Int32
	pulled uint64
}

func New(cfg Config, deps Dependencies, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: frame source is required")
	case deps.Detector == nil:
		return nil, errors.New("pipeline: detector is required")
	case deps.Gate == nil:
		return nil, errors.New("pipeline: quality gate is required")
	case deps.Matcher == nil:
		return nil, errors.New("pipeline: matcher is required")
	case deps.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	}
	if cfg.DecimationFactor < 1 {
		return nil, fmt.Errorf("pipeline: decimation factor must be >= 1, got %d", cfg.DecimationFactor)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.NewPipeline()
	}

	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		logger:  logger,
	}, nil
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) Metrics() *metrics.Pipeline {
	return o.metrics
}

// Run pulls frames until ctx is cancelled. It may be called once. Frame
// and face failures are logged and never end the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer o.state.Store(int32(StateStopped))

	o.logger.Info("pipeline started",
		"decimation_factor", o.cfg.DecimationFactor,
		"detector", o.deps.Detector.Name(),
	)

	for {
		if ctx.Err() != nil {
			o.logger.Info("pipeline stopped")
			return nil
		}

		frame, ok := o.deps.Source.TryGetFrame()
		if !ok {
			o.sleep(ctx, o.cfg.IdleDelay)
			continue
		}

		o.metrics.FramePulled()
		o.pulled++
		if o.pulled%uint64(o.cfg.DecimationFactor) != 0 {
			o.metrics.FrameSkipped()
			o.sleep(ctx, o.cfg.IdleDelay)
			continue
		}

		annotated, err := o.ProcessFrame(ctx, frame)
		if err != nil {
			o.deps.Source.SetAnnotatedFrame(frame)
			if ctx.Err() != nil {
				continue
			}

			o.metrics.FrameError()
			o.logger.Error("frame processing failed",
				"seq", frame.Seq,
				"error", err,
			)
			o.sleep(ctx, o.cfg.ErrorBackoff)
			continue
		}

		o.deps.Source.SetAnnotatedFrame(annotated)
	}
}

// ProcessFrame analyses one frame and returns its annotated copy. A
// detector failure is returned as an error; failures local to one face
// only skip that face. A panic in any stage is returned as an error
// together with the unmodified frame.
func (o *Orchestrator) ProcessFrame(ctx context.Context, frame domain.Frame) (out domain.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while processing frame",
				"seq", frame.Seq,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out, err = frame, fmt.Errorf("process frame: panic: %v", r)
		}
	}()

	if frame.Empty() {
		return frame, nil
	}
	o.metrics.FrameAnalyzed()

	faces, err := o.deps.Detector.Detect(ctx, frame.Image)
	if err != nil {
		return frame, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return frame, nil
	}

	o.metrics.FacesDetected(len(faces))
	o.logger.Debug("faces detected", "seq", frame.Seq, "count", len(faces))

	anns := make([]Annotation, 0, len(faces))
	for _, face := range faces {
		if ann, ok := o.processFace(ctx, frame, face); ok {
			anns = append(anns, ann)
		}
	}

	return frame.WithImage(Render(frame.Image, anns)), nil
}

// processFace runs one detection through the gate, matcher and
// dispatcher. It reports false when nothing is to be drawn.
func (o *Orchestrator) processFace(ctx context.Context, frame domain.Frame, face domain.DetectedFace) (Annotation, bool) {
	box := face.Box.Clamp(frame.Width(), frame.Height())

	if box.Width() < o.cfg.MinFaceSize || box.Height() < o.cfg.MinFaceSize {
		o.metrics.FaceTooSmall()
		o.logger.Debug("face too small", "width", box.Width(), "height", box.Height())
		return tooSmallAnnotation(box), true
	}

	if box.Empty() || box.Width() < o.cfg.MinCropSize || box.Height() < o.cfg.MinCropSize {
		o.metrics.FaceBadCrop()
		o.logger.Warn("invalid face crop", "bbox", box)
		return Annotation{}, false
	}

	crop := imaging.Crop(frame.Image, box.Rect())
	verdict := o.deps.Gate.Evaluate(crop, face)
	if !verdict.Accepted(o.cfg.AcceptScore) {
		o.metrics.FaceLowQuality()
		o.logger.Debug("face rejected by quality gate",
			"score", verdict.Score,
			"issues", verdict.IssueStrings(),
		)
		return rejectedAnnotation(box, verdict), true
	}

	if !face.HasEmbedding() {
		o.metrics.EmbeddingMissing()
		return Annotation{}, false
	}

	result, err := o.deps.Matcher.Match(ctx, face.Embedding)
	if err != nil || !result.Valid {
		o.metrics.MatchError()
		o.logger.Warn("face match failed", "bbox", box, "error", err)
		return Annotation{}, false
	}

	o.metrics.Matched(!result.Matched)

	var ann Annotation
	if result.Matched {
		ann = matchedAnnotation(box, result)
		o.logger.Info("identity matched",
			"identity_id", result.IdentityID,
			"confidence", result.Confidence,
			"new_detection", result.IsNewDetection,
		)
	} else {
		ann = newIdentityAnnotation(box, result)
		o.logger.Info("identity registered", "identity_id", result.IdentityID)
	}

	// Notify blocks for at most the dispatcher's DeliveryTimeout.
	if result.IsNewDetection && o.deps.Notifier.Notify(ctx, result.IdentityID, result.Confidence, box) {
		o.metrics.Notification()
	}

	return ann, true
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
