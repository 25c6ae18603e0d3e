package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/capture"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// MockStore is a mock implementation of the identity store surface the
// handlers use.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) List(ctx context.Context) ([]domain.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Identity), args.Error(1)
}

func (m *MockStore) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) Stats(ctx context.Context, recentLimit int) (*domain.IdentityStats, error) {
	args := m.Called(ctx, recentLimit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IdentityStats), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type fakeCapture struct {
	mu        sync.Mutex
	running   bool
	stats     capture.Stats
	raw       domain.Frame
	hasRaw    bool
	annotated domain.Frame
	hasAnn    bool
}

func (f *fakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCapture) Stats() capture.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeCapture) LatestFrame() (domain.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw, f.hasRaw
}

func (f *fakeCapture) LatestAnnotated() (domain.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.annotated, f.hasAnn
}

type fakeSubscribers int

func (f fakeSubscribers) SubscriberCount() int { return int(f) }

// testLogger returns a logger that discards all output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
