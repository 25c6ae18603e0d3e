// Package matcher resolves face embeddings to persistent identities by
// exhaustive cosine similarity against the identity catalog.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/audit"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

var (
	ErrInvalidEmbedding   = errors.New("invalid embedding")
	ErrRegistrationFailed = errors.New("identity registration failed")
)

// Store is the part of the identity repository the matcher needs.
type Store interface {
	Insert(ctx context.Context, identity *domain.Identity) error
	UpdateLastSeen(ctx context.Context, id string, lastSeen time.Time) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	List(ctx context.Context) ([]domain.Identity, error)
}

type Config struct {
	// Threshold is the minimum similarity for a match.
	Threshold float64
	// Cooldown is the minimum time since an identity was last seen before
	// a match counts as a new detection.
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold: 0.6,
		Cooldown:  60 * time.Second,
	}
}

type Matcher struct {
	store  Store
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	audit  audit.Logger
	newID  func(time.Time) string
}

type Option func(*Matcher)

func WithClock(c clock.Clock) Option {
	return func(m *Matcher) { m.clock = c }
}

// WithAudit records every registration in the audit trail.
func WithAudit(l audit.Logger) Option {
	return func(m *Matcher) { m.audit = l }
}

// WithIDGenerator replaces NewIdentityID.
func WithIDGenerator(fn func(time.Time) string) Option {
	return func(m *Matcher) { m.newID = fn }
}

func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		store:  store,
		cfg:    cfg,
		clock:  clock.New(),
		logger: logger,
		audit:  audit.NoOpLogger{},
		newID:  NewIdentityID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the stored identity most similar to embedding when the
// similarity reaches the threshold, and registers a new identity otherwise.
// On error the returned result has Valid set to false.
func (m *Matcher) Match(ctx context.Context, embedding []float64) (domain.MatchResult, error) {
	if !validEmbedding(embedding) {
		return domain.MatchResult{}, ErrInvalidEmbedding
	}

	now := m.clock.Now().UTC()

	identities, err := m.store.List(ctx)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("list identities: %w", err)
	}

	best := -1
	bestScore := math.Inf(-1)
	for i := range identities {
		stored := identities[i].Embedding
		if len(stored) != len(embedding) {
			m.logger.Warn("skipping identity with mismatched embedding",
				"identity_id", identities[i].ID,
				"stored_dim", len(stored),
				"query_dim", len(embedding),
			)
			continue
		}

		// Strictly greater keeps the earliest registered identity on ties.
		if score := CosineSimilarity(embedding, stored); score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best < 0 {
		return m.register(ctx, embedding, now, 0)
	}
	if bestScore < m.cfg.Threshold {
		return m.register(ctx, embedding, now, bestScore)
	}

	return m.touch(ctx, identities[best], bestScore, now), nil
}

func (m *Matcher) touch(ctx context.Context, identity domain.Identity, score float64, now time.Time) domain.MatchResult {
	result := domain.MatchResult{
		Valid:          true,
		Matched:        true,
		IdentityID:     identity.ID,
		Confidence:     score,
		IsNewDetection: now.Sub(identity.LastSeen) >= m.cfg.Cooldown,
		FirstSeen:      identity.FirstSeen,
		LastSeen:       identity.LastSeen,
		DetectionCount: identity.DetectionCount,
	}

	if err := m.store.UpdateLastSeen(ctx, identity.ID, now); err != nil {
		m.logger.Warn("failed to update identity", "identity_id", identity.ID, "error", err)
		return result
	}

	result.LastSeen = now
	result.DetectionCount++

	updated, err := m.store.GetByID(ctx, identity.ID)
	if err != nil {
		m.logger.Warn("failed to reload identity", "identity_id", identity.ID, "error", err)
		return result
	}

	result.FirstSeen = updated.FirstSeen
	result.LastSeen = updated.LastSeen
	result.DetectionCount = updated.DetectionCount
	return result
}

func (m *Matcher) register(ctx context.Context, embedding []float64, now time.Time, score float64) (domain.MatchResult, error) {
	identity := &domain.Identity{
		ID:             m.newID(now),
		Embedding:      slices.Clone(embedding),
		FirstSeen:      now,
		LastSeen:       now,
		DetectionCount: 1,
	}

	if err := m.store.Insert(ctx, identity); err != nil {
		return domain.MatchResult{}, fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, identity.ID, err)
	}

	m.logger.Info("registered new identity", "identity_id", identity.ID, "best_score", score)
	_ = m.audit.Log(ctx, audit.Event{
		Timestamp:  now,
		EventType:  audit.EventIdentityRegistered,
		IdentityID: identity.ID,
		Actor:      "pipeline",
		Success:    true,
		Metadata:   map[string]string{"best_score": strconv.FormatFloat(score, 'f', 4, 64)},
	})

	return domain.MatchResult{
		Valid:          true,
		IdentityID:     identity.ID,
		Confidence:     score,
		IsNewDetection: true,
		FirstSeen:      now,
		LastSeen:       now,
		DetectionCount: 1,
	}, nil
}
