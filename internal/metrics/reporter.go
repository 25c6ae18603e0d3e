package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Reporter periodically logs pipeline throughput since the previous report.
type Reporter struct {
	pipeline *Pipeline
	logger   *slog.Logger
	interval time.Duration
	clock    clock.Clock

	last     Snapshot
	lastTime time.Time
}

// NewReporter creates a new throughput reporter worker
func NewReporter(p *Pipeline, logger *slog.Logger, interval time.Duration, clk clock.Clock) *Reporter {
	if interval == 0 {
		interval = 1 * time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Reporter{
		pipeline: p,
		logger:   logger,
		interval: interval,
		clock:    clk,
	}
}

// Start runs the reporter until ctx is cancelled.
func (r *Reporter) Start(ctx context.Context) {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.last = r.pipeline.Snapshot()
	r.lastTime = r.clock.Now()

	r.logger.Info("metrics reporter started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("metrics reporter stopped")
			return
		case <-ticker.C:
			r.report()
		}
	}
}

// Throughput is the per-interval rate derived from two snapshots.
type Throughput struct {
	PulledFPS   float64
	AnalyzedFPS float64
	Faces       int64
	Matches     int64
	New         int64
	Errors      int64
}

func computeThroughput(prev, cur Snapshot, elapsed time.Duration) Throughput {
	var pulled, analyzed float64
	if secs := elapsed.Seconds(); secs > 0 {
		pulled = float64(cur.FramesPulled-prev.FramesPulled) / secs
		analyzed = float64(cur.FramesAnalyzed-prev.FramesAnalyzed) / secs
	}
	return Throughput{
		PulledFPS:   pulled,
		AnalyzedFPS: analyzed,
		Faces:       cur.FacesDetected - prev.FacesDetected,
		Matches:     cur.Matches - prev.Matches,
		New:         cur.Registrations - prev.Registrations,
		Errors:      cur.FrameErrors - prev.FrameErrors,
	}
}

func (r *Reporter) report() {
	now := r.clock.Now()
	cur := r.pipeline.Snapshot()
	tp := computeThroughput(r.last, cur, now.Sub(r.lastTime))

	r.logger.Info("pipeline throughput",
		"pulled_fps", tp.PulledFPS,
		"analyzed_fps", tp.AnalyzedFPS,
		"faces", tp.Faces,
		"matches", tp.Matches,
		"new_identities", tp.New,
		"frame_errors", tp.Errors,
	)

	r.last = cur
	r.lastTime = now
}
