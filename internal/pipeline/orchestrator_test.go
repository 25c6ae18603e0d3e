package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/matcher"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/repository"
)

type fakeSource struct {
	mu        sync.Mutex
	queue     []domain.Frame
	annotated []domain.Frame
}

func (s *fakeSource) TryGetFrame() (domain.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return domain.Frame{}, false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	return f, true
}

func (s *fakeSource) SetAnnotatedFrame(frame domain.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotated = append(s.annotated, frame)
}

func (s *fakeSource) published() []domain.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Frame(nil), s.annotated...)
}

type fakeDetector struct {
	mu    sync.Mutex
	faces []domain.DetectedFace
	errs  []error
	calls atomic.Int32
	// panics makes the next n calls panic.
	panics atomic.Int32
}

func (d *fakeDetector) Name() string { return "fake" }

func (d *fakeDetector) Detect(_ context.Context, _ image.Image) ([]domain.DetectedFace, error) {
	d.calls.Add(1)
	if d.panics.Add(-1) >= 0 {
		panic("detector blew up")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return d.faces, nil
}

type fakeGate struct {
	verdict domain.QualityVerdict
	calls   atomic.Int32
}

func (g *fakeGate) Evaluate(_ image.Image, _ domain.DetectedFace) domain.QualityVerdict {
	g.calls.Add(1)
	return g.verdict
}

type notification struct {
	id         string
	confidence float64
	bbox       domain.BoundingBox
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *fakeNotifier) Notify(_ context.Context, id string, confidence float64, bbox domain.BoundingBox) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{id: id, confidence: confidence, bbox: bbox})
	return true
}

func (n *fakeNotifier) sent() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

type harness struct {
	orch     *Orchestrator
	source   *fakeSource
	detector *fakeDetector
	gate     *fakeGate
	notifier *fakeNotifier
	store    *repository.MemoryIdentityRepository
	clock    *clock.Mock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	h := &harness{
		source:   &fakeSource{},
		detector: &fakeDetector{},
		gate:     &fakeGate{verdict: domain.QualityVerdict{Score: 0.9}},
		notifier: &fakeNotifier{},
		store:    repository.NewMemoryIdentityRepository(),
		clock:    clk,
	}

	m := matcher.New(h.store, matcher.DefaultConfig(), nil, matcher.WithClock(clk))

	orch, err := New(cfg, Dependencies{
		Source:   h.source,
		Detector: h.detector,
		Gate:     h.gate,
		Matcher:  m,
		Notifier: h.notifier,
	}, nil)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func testFrame(seq uint64) domain.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return domain.Frame{Image: img, Seq: seq, CapturedAt: time.Unix(1700000000, 0)}
}

func unit(dim, hot int) []float64 {
	v := make([]float64, dim)
	v[hot] = 1
	return v
}

var faceBox = domain.BoundingBox{X1: 40, Y1: 40, X2: 140, Y2: 150}

func pixel(f domain.Frame, x, y int) color.NRGBA {
	return f.Image.NRGBAAt(x, y)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleDelay = time.Millisecond
	cfg.ErrorBackoff = time.Millisecond
	return cfg
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t, testConfig())
	deps := h.orch.deps

	tests := []struct {
		name   string
		mutate func(*Dependencies, *Config)
	}{
		{"missing source", func(d *Dependencies, _ *Config) { d.Source = nil }},
		{"missing detector", func(d *Dependencies, _ *Config) { d.Detector = nil }},
		{"missing gate", func(d *Dependencies, _ *Config) { d.Gate = nil }},
		{"missing matcher", func(d *Dependencies, _ *Config) { d.Matcher = nil }},
		{"missing notifier", func(d *Dependencies, _ *Config) { d.Notifier = nil }},
		{"zero decimation", func(_ *Dependencies, c *Config) { c.DecimationFactor = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := deps
			c := testConfig()
			tt.mutate(&d, &c)
			_, err := New(c, d, nil)
			assert.Error(t, err)
		})
	}
}

func TestProcessFrame_RegisterThenMatch(t *testing.T) {
	h := newHarness(t, testConfig())
	h.detector.faces = []domain.DetectedFace{{Box: faceBox, Embedding: unit(8, 0), Confidence: 0.99}}
	ctx := context.Background()

	out, err := h.orch.ProcessFrame(ctx, testFrame(1))
	require.NoError(t, err)

	sent := h.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, faceBox, sent[0].bbox)
	assert.Zero(t, sent[0].confidence)

	ids, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, ids[0].ID, sent[0].id)

	// New identities are outlined in orange.
	assert.Equal(t, color.NRGBA{R: 255, G: 165, B: 0, A: 255}, pixel(out, faceBox.X1, 100))

	// Same face within the matcher cooldown: matched but not re-notified.
	h.clock.Add(10 * time.Second)
	out, err = h.orch.ProcessFrame(ctx, testFrame(2))
	require.NoError(t, err)
	assert.Len(t, h.notifier.sent(), 1)
	assert.Equal(t, color.NRGBA{R: 0, G: 255, B: 0, A: 255}, pixel(out, faceBox.X1, 100))

	// Past the cooldown the match is a new detection again.
	h.clock.Add(61 * time.Second)
	_, err = h.orch.ProcessFrame(ctx, testFrame(3))
	require.NoError(t, err)

	sent = h.notifier.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, ids[0].ID, sent[1].id)
	assert.InDelta(t, 1.0, sent[1].confidence, 1e-5)

	snap := h.orch.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.FramesAnalyzed)
	assert.Equal(t, int64(1), snap.Registrations)
	assert.Equal(t, int64(2), snap.Matches)
	assert.Equal(t, int64(2), snap.Notifications)
}

func TestProcessFrame_DoesNotModifyInput(t *testing.T) {
	h := newHarness(t, testConfig())
	h.detector.faces = []domain.DetectedFace{{Box: faceBox, Embedding: unit(8, 0)}}

	in := testFrame(1)
	out, err := h.orch.ProcessFrame(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), out.Seq)
	assert.Equal(t, color.NRGBA{A: 255}, pixel(in, faceBox.X1, 100))
	assert.NotEqual(t, color.NRGBA{A: 255}, pixel(out, faceBox.X1, 100))
}

func TestProcessFrame_TooSmallFace(t *testing.T) {
	h := newHarness(t, testConfig())
	small := domain.BoundingBox{X1: 10, Y1: 10, X2: 40, Y2: 90}
	h.detector.faces = []domain.DetectedFace{{Box: small, Embedding: unit(8, 0)}}

	out, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)

	assert.Equal(t, color.NRGBA{R: 128, G: 128, B: 128, A: 255}, pixel(out, small.X1, 50))
	assert.Zero(t, h.gate.calls.Load())
	assert.Empty(t, h.notifier.sent())
	assert.Equal(t, int64(1), h.orch.Metrics().Snapshot().FacesTooSmall)
}

func TestProcessFrame_ClampsToFrame(t *testing.T) {
	h := newHarness(t, testConfig())
	h.detector.faces = []domain.DetectedFace{{
		Box:       domain.BoundingBox{X1: -30, Y1: 120, X2: 60, Y2: 260},
		Embedding: unit(8, 1),
	}}

	_, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)

	sent := h.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.BoundingBox{X1: 0, Y1: 120, X2: 60, Y2: 200}, sent[0].bbox)
}

func TestProcessFrame_ClampedBelowMinimum(t *testing.T) {
	h := newHarness(t, testConfig())
	// Large box that is mostly outside the frame.
	h.detector.faces = []domain.DetectedFace{{
		Box:       domain.BoundingBox{X1: 180, Y1: 0, X2: 400, Y2: 150},
		Embedding: unit(8, 1),
	}}

	_, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)

	assert.Empty(t, h.notifier.sent())
	assert.Equal(t, int64(1), h.orch.Metrics().Snapshot().FacesTooSmall)
}

func TestProcessFrame_DegenerateCrop(t *testing.T) {
	cfg := testConfig()
	cfg.MinFaceSize = 0
	h := newHarness(t, cfg)
	h.detector.faces = []domain.DetectedFace{{
		Box:       domain.BoundingBox{X1: 50, Y1: 50, X2: 55, Y2: 120},
		Embedding: unit(8, 1),
	}}

	_, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)

	assert.Zero(t, h.gate.calls.Load())
	assert.Equal(t, int64(1), h.orch.Metrics().Snapshot().FacesBadCrop)
}

func TestProcessFrame_QualityRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gate.verdict = domain.QualityVerdict{
		Score:  0.25,
		Issues: []domain.QualityIssue{domain.IssueBlurry, domain.IssueTooDark},
	}
	h.detector.faces = []domain.DetectedFace{{Box: faceBox, Embedding: unit(8, 0)}}

	out, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)

	assert.Equal(t, color.NRGBA{R: 255, A: 255}, pixel(out, faceBox.X1, 100))
	assert.Empty(t, h.notifier.sent())

	ids, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProcessFrame_AcceptanceCutoffInclusive(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gate.verdict = domain.QualityVerdict{Score: 0.5}
	h.detector.faces = []domain.DetectedFace{{Box: faceBox, Embedding: unit(8, 0)}}

	_, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)
	assert.Len(t, h.notifier.sent(), 1)
}

func TestProcessFrame_MissingEmbeddingSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.detector.faces = []domain.DetectedFace{
		{Box: faceBox},
		{Box: domain.BoundingBox{X1: 150, Y1: 10, X2: 199, Y2: 70}, Embedding: unit(8, 3)},
	}

	out, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)

	assert.Len(t, h.notifier.sent(), 1)
	assert.Equal(t, color.NRGBA{A: 255}, pixel(out, faceBox.X1, 100))
	assert.Equal(t, int64(1), h.orch.Metrics().Snapshot().EmbeddingsMissing)
}

func TestProcessFrame_InvalidEmbeddingSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.detector.faces = []domain.DetectedFace{{Box: faceBox, Embedding: []float64{math.NaN(), 0, 1}}}

	_, err := h.orch.ProcessFrame(context.Background(), testFrame(1))
	require.NoError(t, err)

	assert.Empty(t, h.notifier.sent())
	assert.Equal(t, int64(1), h.orch.Metrics().Snapshot().MatchErrors)
}

func TestProcessFrame_NoFaces(t *testing.T) {
	h := newHarness(t, testConfig())

	in := testFrame(7)
	out, err := h.orch.ProcessFrame(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestProcessFrame_DetectorError(t *testing.T) {
	h := newHarness(t, testConfig())
	h.detector.errs = []error{errors.New("service down")}

	in := testFrame(1)
	out, err := h.orch.ProcessFrame(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, in, out)
}

func TestProcessFrame_PanicBecomesError(t *testing.T) {
	h := newHarness(t, testConfig())
	h.detector.panics.Store(1)

	in := testFrame(4)
	out, err := h.orch.ProcessFrame(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detector blew up")
	assert.Equal(t, in, out)
}

func runUntil(t *testing.T, h *harness, cond func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.orch.State() == StateRunning
	}, time.Second, time.Millisecond)

	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Equal(t, StateStopped, h.orch.State())
}

func TestRun_Decimation(t *testing.T) {
	h := newHarness(t, testConfig())
	h.source.queue = []domain.Frame{testFrame(1), testFrame(2), testFrame(3)}

	assert.Equal(t, StateIdle, h.orch.State())

	runUntil(t, h, func() bool {
		return h.orch.Metrics().Snapshot().FramesPulled == 3 && len(h.source.published()) == 1
	})

	assert.Equal(t, int32(1), h.detector.calls.Load())
	published := h.source.published()
	require.Len(t, published, 1)
	assert.Equal(t, uint64(3), published[0].Seq)

	snap := h.orch.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.FramesSkipped)
	assert.Equal(t, int64(1), snap.FramesAnalyzed)
}

func TestRun_DetectorFailureContinues(t *testing.T) {
	cfg := testConfig()
	cfg.DecimationFactor = 1
	h := newHarness(t, cfg)
	h.detector.errs = []error{errors.New("timeout"), nil}
	h.detector.faces = []domain.DetectedFace{{Box: faceBox, Embedding: unit(8, 0)}}
	h.source.queue = []domain.Frame{testFrame(1), testFrame(2)}

	runUntil(t, h, func() bool {
		return len(h.source.published()) == 2
	})

	assert.Equal(t, int32(2), h.detector.calls.Load())

	published := h.source.published()
	assert.Equal(t, uint64(1), published[0].Seq)
	assert.Equal(t, color.NRGBA{A: 255}, pixel(published[0], faceBox.X1, 100))
	assert.Equal(t, uint64(2), published[1].Seq)
	assert.Equal(t, color.NRGBA{R: 255, G: 165, B: 0, A: 255}, pixel(published[1], faceBox.X1, 100))

	assert.Equal(t, int64(1), h.orch.Metrics().Snapshot().FrameErrors)
	assert.Len(t, h.notifier.sent(), 1)
}

func TestRun_SurvivesDetectorPanic(t *testing.T) {
	cfg := testConfig()
	cfg.DecimationFactor = 1
	h := newHarness(t, cfg)
	h.detector.panics.Store(1)
	h.detector.faces = []domain.DetectedFace{{Box: faceBox, Embedding: unit(8, 0)}}
	h.source.queue = []domain.Frame{testFrame(1), testFrame(2)}

	runUntil(t, h, func() bool {
		return len(h.source.published()) == 2
	})

	published := h.source.published()
	assert.Equal(t, uint64(1), published[0].Seq)
	assert.Equal(t, color.NRGBA{A: 255}, pixel(published[0], faceBox.X1, 100))
	assert.Equal(t, uint64(2), published[1].Seq)
	assert.Equal(t, color.NRGBA{R: 255, G: 165, B: 0, A: 255}, pixel(published[1], faceBox.X1, 100))

	assert.Equal(t, int64(1), h.orch.Metrics().Snapshot().FrameErrors)
	assert.Len(t, h.notifier.sent(), 1)
}

func TestRun_OnlyOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	runUntil(t, h, func() bool { return true })

	assert.ErrorIs(t, h.orch.Run(context.Background()), ErrAlreadyStarted)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(9).String())
}
