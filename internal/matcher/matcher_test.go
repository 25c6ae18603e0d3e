package matcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/audit"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/repository"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, identity *domain.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *MockStore) UpdateLastSeen(ctx context.Context, id string, lastSeen time.Time) error {
	args := m.Called(ctx, id, lastSeen)
	return args.Error(0)
}

func (m *MockStore) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *MockStore) List(ctx context.Context) ([]domain.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Identity), args.Error(1)
}

func newTestMatcher(store Store, clk clock.Clock) *Matcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, DefaultConfig(), logger, WithClock(clk))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1},
		{name: "scaled", a: []float64{1, 2, 3}, b: []float64{2, 4, 6}, want: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "opposite", a: []float64{1, 0}, b: []float64{-1, 0}, want: -1},
		{name: "zero vector", a: []float64{0, 0}, b: []float64{1, 0}, want: 0},
		{name: "different lengths", a: []float64{1, 0}, b: []float64{1, 0, 0}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-5)
		})
	}
}

func TestCosineSimilarity_SymmetricAndReflexive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		a := make([]float64, 128)
		b := make([]float64, 128)
		for j := range a {
			a[j] = rng.NormFloat64()
			b[j] = rng.NormFloat64()
		}

		ab := CosineSimilarity(a, b)
		assert.Equal(t, ab, CosineSimilarity(b, a))
		assert.GreaterOrEqual(t, ab, -1.0)
		assert.LessOrEqual(t, ab, 1.0)
		assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-6)
	}
}

func TestCosineSimilarity_SmallNorm(t *testing.T) {
	a := []float64{1e-4, 1e-4}

	// |a| is about 1.414e-4, so the epsilon term costs roughly 1.4%.
	assert.InDelta(t, 0.986006, CosineSimilarity(a, a), 1e-5)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{0, 0}))
}

func TestNewIdentityID(t *testing.T) {
	now := time.Now()
	id := NewIdentityID(now)

	assert.True(t, strings.HasPrefix(id, "PERSON_"))
	assert.Len(t, id, len("PERSON_")+12)
	assert.Equal(t, strings.ToUpper(id), id)
	assert.NotEqual(t, id, NewIdentityID(now))
}

func TestMatcher_EmptyCatalogRegisters(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	clk := clock.NewMock()
	m := newTestMatcher(store, clk)

	result, err := m.Match(context.Background(), []float64{0.6, 0.8})

	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.Matched)
	assert.True(t, result.IsNewDetection)
	assert.Equal(t, int64(1), result.DetectionCount)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, result.FirstSeen, result.LastSeen)

	stored, err := store.GetByID(context.Background(), result.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.8}, stored.Embedding)
	assert.Equal(t, int64(1), stored.DetectionCount)
}

func TestMatcher_ExactMatch(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	clk := clock.NewMock()
	m := newTestMatcher(store, clk)
	ctx := context.Background()
	embedding := []float64{0.1, 0.7, -0.3, 0.2}

	first, err := m.Match(ctx, embedding)
	require.NoError(t, err)

	clk.Add(time.Second)
	second, err := m.Match(ctx, embedding)

	require.NoError(t, err)
	assert.True(t, second.Valid)
	assert.True(t, second.Matched)
	assert.Equal(t, first.IdentityID, second.IdentityID)
	assert.InDelta(t, 1.0, second.Confidence, 1e-5)
	assert.False(t, second.IsNewDetection)
	assert.Equal(t, int64(2), second.DetectionCount)
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.Equal(t, clk.Now().UTC(), second.LastSeen)
}

func TestMatcher_Cooldown(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	clk := clock.NewMock()
	m := newTestMatcher(store, clk)
	ctx := context.Background()
	embedding := []float64{1, 0, 0}

	_, err := m.Match(ctx, embedding)
	require.NoError(t, err)

	clk.Add(59 * time.Second)
	result, err := m.Match(ctx, embedding)
	require.NoError(t, err)
	assert.False(t, result.IsNewDetection, "seen 59s ago")

	// The cooldown runs from the previous sighting, not from registration.
	clk.Add(59 * time.Second)
	result, err = m.Match(ctx, embedding)
	require.NoError(t, err)
	assert.False(t, result.IsNewDetection, "seen 59s ago again")

	clk.Add(60 * time.Second)
	result, err = m.Match(ctx, embedding)
	require.NoError(t, err)
	assert.True(t, result.IsNewDetection, "cooldown elapsed")
	assert.Equal(t, int64(4), result.DetectionCount)
}

func TestMatcher_BelowThresholdRegistersNewIdentity(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	m := newTestMatcher(store, clock.NewMock())
	ctx := context.Background()

	first, err := m.Match(ctx, []float64{1, 0})
	require.NoError(t, err)

	second, err := m.Match(ctx, []float64{0.5, math.Sqrt(3) / 2})
	require.NoError(t, err)

	assert.False(t, second.Matched)
	assert.NotEqual(t, first.IdentityID, second.IdentityID)
	assert.InDelta(t, 0.5, second.Confidence, 1e-5)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMatcher_ThresholdIsInclusive(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stored := []float64{0.3, -0.2, 0.9, 0.11}
	query := []float64{0.35, -0.1, 0.8, 0.2}
	threshold := CosineSimilarity(query, stored)
	m := New(store, Config{Threshold: threshold, Cooldown: time.Minute}, logger, WithClock(clock.NewMock()))
	ctx := context.Background()

	first, err := m.Match(ctx, stored)
	require.NoError(t, err)

	second, err := m.Match(ctx, query)
	require.NoError(t, err)
	assert.True(t, second.Matched)
	assert.Equal(t, first.IdentityID, second.IdentityID)
}

func TestMatcher_TieKeepsEarliestIdentity(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	ctx := context.Background()
	seen := time.Unix(0, 0).UTC()

	for _, id := range []string{"PERSON_FIRST", "PERSON_SECOND"} {
		require.NoError(t, store.Insert(ctx, &domain.Identity{
			ID: id, Embedding: []float64{0, 1}, FirstSeen: seen, LastSeen: seen, DetectionCount: 1,
		}))
	}

	m := newTestMatcher(store, clock.NewMock())
	result, err := m.Match(ctx, []float64{0, 1})

	require.NoError(t, err)
	assert.Equal(t, "PERSON_FIRST", result.IdentityID)
}

func TestMatcher_DeletedIdentityIsReRegistered(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	m := newTestMatcher(store, clock.NewMock())
	ctx := context.Background()
	embedding := []float64{0.2, 0.4, 0.4}

	first, err := m.Match(ctx, embedding)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, first.IdentityID))

	second, err := m.Match(ctx, embedding)
	require.NoError(t, err)

	assert.False(t, second.Matched)
	assert.True(t, second.IsNewDetection)
	assert.NotEqual(t, first.IdentityID, second.IdentityID)
}

func TestMatcher_SkipsMismatchedDimensions(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	ctx := context.Background()
	seen := time.Unix(0, 0).UTC()

	require.NoError(t, store.Insert(ctx, &domain.Identity{
		ID: "PERSON_OLDMODEL", Embedding: []float64{1, 0, 0}, FirstSeen: seen, LastSeen: seen, DetectionCount: 1,
	}))

	m := newTestMatcher(store, clock.NewMock())
	result, err := m.Match(ctx, []float64{1, 0})

	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.NotEqual(t, "PERSON_OLDMODEL", result.IdentityID)
}

func TestMatcher_InvalidEmbedding(t *testing.T) {
	tests := []struct {
		name      string
		embedding []float64
	}{
		{name: "nil", embedding: nil},
		{name: "empty", embedding: []float64{}},
		{name: "NaN", embedding: []float64{0.5, math.NaN()}},
		{name: "Inf", embedding: []float64{math.Inf(1), 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			m := newTestMatcher(store, clock.NewMock())

			result, err := m.Match(context.Background(), tt.embedding)

			assert.ErrorIs(t, err, ErrInvalidEmbedding)
			assert.False(t, result.Valid)
			store.AssertNotCalled(t, "List", mock.Anything)
		})
	}
}

func TestMatcher_StoreFailures(t *testing.T) {
	storeErr := errors.New("connection refused")
	seen := time.Unix(0, 0).UTC()
	known := domain.Identity{ID: "PERSON_KNOWN", Embedding: []float64{1, 0}, FirstSeen: seen, LastSeen: seen, DetectionCount: 3}

	t.Run("list fails", func(t *testing.T) {
		store := new(MockStore)
		store.On("List", mock.Anything).Return(nil, storeErr)

		result, err := newTestMatcher(store, clock.NewMock()).Match(context.Background(), []float64{1, 0})

		assert.ErrorIs(t, err, storeErr)
		assert.False(t, result.Valid)
		store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("insert fails", func(t *testing.T) {
		store := new(MockStore)
		store.On("List", mock.Anything).Return([]domain.Identity{}, nil)
		store.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Identity")).Return(storeErr)

		result, err := newTestMatcher(store, clock.NewMock()).Match(context.Background(), []float64{1, 0})

		assert.ErrorIs(t, err, ErrRegistrationFailed)
		assert.ErrorIs(t, err, storeErr)
		assert.False(t, result.Valid)
		assert.Empty(t, result.IdentityID)
		store.AssertExpectations(t)
	})

	t.Run("update fails keeps the match", func(t *testing.T) {
		store := new(MockStore)
		store.On("List", mock.Anything).Return([]domain.Identity{known}, nil)
		store.On("UpdateLastSeen", mock.Anything, "PERSON_KNOWN", mock.Anything).Return(storeErr)

		result, err := newTestMatcher(store, clock.NewMock()).Match(context.Background(), []float64{1, 0})

		require.NoError(t, err)
		assert.True(t, result.Matched)
		assert.Equal(t, int64(3), result.DetectionCount)
		store.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("reload fails falls back to computed values", func(t *testing.T) {
		clk := clock.NewMock()
		clk.Add(2 * time.Minute)

		store := new(MockStore)
		store.On("List", mock.Anything).Return([]domain.Identity{known}, nil)
		store.On("UpdateLastSeen", mock.Anything, "PERSON_KNOWN", clk.Now().UTC()).Return(nil)
		store.On("GetByID", mock.Anything, "PERSON_KNOWN").Return(nil, storeErr)

		result, err := newTestMatcher(store, clk).Match(context.Background(), []float64{1, 0})

		require.NoError(t, err)
		assert.True(t, result.Matched)
		assert.True(t, result.IsNewDetection)
		assert.Equal(t, int64(4), result.DetectionCount)
		assert.Equal(t, clk.Now().UTC(), result.LastSeen)
		assert.Equal(t, seen, result.FirstSeen)
		store.AssertExpectations(t)
	})
}

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, event audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestMatcher_RegistrationIsAudited(t *testing.T) {
	store := repository.NewMemoryIdentityRepository()
	clk := clock.NewMock()
	rec := &recordingAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(store, DefaultConfig(), logger, WithClock(clk), WithAudit(rec))
	ctx := context.Background()

	first, err := m.Match(ctx, []float64{1, 0})
	require.NoError(t, err)

	clk.Add(time.Second)
	_, err = m.Match(ctx, []float64{1, 0})
	require.NoError(t, err)

	require.Len(t, rec.events, 1, "only registrations are audited")
	event := rec.events[0]
	assert.Equal(t, audit.EventIdentityRegistered, event.EventType)
	assert.Equal(t, first.IdentityID, event.IdentityID)
	assert.Equal(t, "pipeline", event.Actor)
	assert.True(t, event.Success)
	assert.Equal(t, "0.0000", event.Metadata["best_score"])
	assert.Equal(t, clk.Now().Add(-time.Second).UTC(), event.Timestamp)
}
