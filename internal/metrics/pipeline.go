// Package metrics keeps in-process pipeline counters and logs throughput.
package metrics

import "sync/atomic"

// Pipeline counts what the orchestrator does with frames and faces. All
// methods are safe for concurrent use.
type Pipeline struct {
	framesPulled      atomic.Int64
	framesAnalyzed    atomic.Int64
	framesSkipped     atomic.Int64
	frameErrors       atomic.Int64
	facesDetected     atomic.Int64
	facesTooSmall     atomic.Int64
	facesBadCrop      atomic.Int64
	facesLowQuality   atomic.Int64
	embeddingsMissing atomic.Int64
	matchErrors       atomic.Int64
	matches           atomic.Int64
	registrations     atomic.Int64
	notifications     atomic.Int64
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

func (p *Pipeline) FramePulled()      { p.framesPulled.Add(1) }
func (p *Pipeline) FrameAnalyzed()    { p.framesAnalyzed.Add(1) }
func (p *Pipeline) FrameSkipped()     { p.framesSkipped.Add(1) }
func (p *Pipeline) FrameError()       { p.frameErrors.Add(1) }
func (p *Pipeline) FaceTooSmall()     { p.facesTooSmall.Add(1) }
func (p *Pipeline) FaceBadCrop()      { p.facesBadCrop.Add(1) }
func (p *Pipeline) FaceLowQuality()   { p.facesLowQuality.Add(1) }
func (p *Pipeline) EmbeddingMissing() { p.embeddingsMissing.Add(1) }
func (p *Pipeline) MatchError()       { p.matchErrors.Add(1) }
func (p *Pipeline) Notification()     { p.notifications.Add(1) }

func (p *Pipeline) FacesDetected(n int) {
	p.facesDetected.Add(int64(n))
}

// Matched records a resolved face, either an existing identity or a new
// registration.
func (p *Pipeline) Matched(registered bool) {
	if registered {
		p.registrations.Add(1)
		return
	}
	p.matches.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesPulled      int64 `json:"frames_pulled"`
	FramesAnalyzed    int64 `json:"frames_analyzed"`
	FramesSkipped     int64 `json:"frames_skipped"`
	FrameErrors       int64 `json:"frame_errors"`
	FacesDetected     int64 `json:"faces_detected"`
	FacesTooSmall     int64 `json:"faces_too_small"`
	FacesBadCrop      int64 `json:"faces_bad_crop"`
	FacesLowQuality   int64 `json:"faces_low_quality"`
	EmbeddingsMissing int64 `json:"embeddings_missing"`
	MatchErrors       int64 `json:"match_errors"`
	Matches           int64 `json:"matches"`
	Registrations     int64 `json:"registrations"`
	Notifications     int64 `json:"notifications"`
}

func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		FramesPulled:      p.framesPulled.Load(),
		FramesAnalyzed:    p.framesAnalyzed.Load(),
		FramesSkipped:     p.framesSkipped.Load(),
		FrameErrors:       p.frameErrors.Load(),
		FacesDetected:     p.facesDetected.Load(),
		FacesTooSmall:     p.facesTooSmall.Load(),
		FacesBadCrop:      p.facesBadCrop.Load(),
		FacesLowQuality:   p.facesLowQuality.Load(),
		EmbeddingsMissing: p.embeddingsMissing.Load(),
		MatchErrors:       p.matchErrors.Load(),
		Matches:           p.matches.Load(),
		Registrations:     p.registrations.Load(),
		Notifications:     p.notifications.Load(),
	}
}
