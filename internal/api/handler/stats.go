package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/capture"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/metrics"
)

type StatsProvider interface {
	Stats(ctx context.Context, recentLimit int) (*domain.IdentityStats, error)
}

type CaptureStats interface {
	Stats() capture.Stats
}

type SubscriberCounter interface {
	SubscriberCount() int
}

type StatsHandler struct {
	store       StatsProvider
	pipeline    *metrics.Pipeline
	capture     CaptureStats
	subscribers SubscriberCounter
}

func NewStatsHandler(store StatsProvider, pipeline *metrics.Pipeline, capture CaptureStats, subscribers SubscriberCounter) *StatsHandler {
	return &StatsHandler{
		store:       store,
		pipeline:    pipeline,
		capture:     capture,
		subscribers: subscribers,
	}
}

type StatsResponse struct {
	Identities  *domain.IdentityStats `json:"identities"`
	Pipeline    metrics.Snapshot      `json:"pipeline"`
	Capture     capture.Stats         `json:"capture"`
	Subscribers int                   `json:"subscribers"`
}

func (h *StatsHandler) Get(c *fiber.Ctx) error {
	stats, err := h.store.Stats(c.UserContext(), domain.RecentIdentitiesLimit)
	if err != nil {
		return err
	}

	return c.JSON(StatsResponse{
		Identities:  stats,
		Pipeline:    h.pipeline.Snapshot(),
		Capture:     h.capture.Stats(),
		Subscribers: h.subscribers.SubscriberCount(),
	})
}
