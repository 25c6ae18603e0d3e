package handler

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/capture"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/metrics"
)

func TestStatsHandler_Get(t *testing.T) {
	store := new(MockStore)
	store.On("Stats", mock.Anything, domain.RecentIdentitiesLimit).Return(&domain.IdentityStats{
		TotalIdentities:  2,
		TotalDetections:  9,
		RecentIdentities: []domain.Identity{sampleIdentity("a1")},
	}, nil)

	pipeline := metrics.NewPipeline()
	pipeline.FramePulled()
	pipeline.FrameAnalyzed()
	pipeline.Matched(true)

	cam := &fakeCapture{running: true, stats: capture.Stats{Running: true, FramesRead: 42}}

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(testLogger())})
	app.Get("/v1/stats", NewStatsHandler(store, pipeline, cam, fakeSubscribers(3)).Get)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/stats", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, int64(2), result.Identities.TotalIdentities)
	assert.Equal(t, int64(9), result.Identities.TotalDetections)
	assert.Len(t, result.Identities.RecentIdentities, 1)
	assert.Equal(t, int64(1), result.Pipeline.FramesPulled)
	assert.Equal(t, int64(1), result.Pipeline.Registrations)
	assert.Equal(t, uint64(42), result.Capture.FramesRead)
	assert.True(t, result.Capture.Running)
	assert.Equal(t, 3, result.Subscribers)
	store.AssertExpectations(t)
}

func TestStatsHandler_StoreError(t *testing.T) {
	store := new(MockStore)
	store.On("Stats", mock.Anything, domain.RecentIdentitiesLimit).Return(nil, domain.ErrStoreUnavailable.WithError(errors.New("down")))

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(testLogger())})
	app.Get("/v1/stats", NewStatsHandler(store, metrics.NewPipeline(), &fakeCapture{}, fakeSubscribers(0)).Get)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/stats", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
