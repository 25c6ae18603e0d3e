package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

func testEvent() domain.NotificationEvent {
	return domain.NotificationEvent{
		Type:        domain.EventIdentityDetected,
		IdentityID:  "PERSON_0123456789AB",
		Confidence:  0.87,
		BoundingBox: domain.BoundingBox{X1: 5, Y1: 6, X2: 70, Y2: 80},
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url, "s3cret")
	cfg.RetryDelay = 5 * time.Millisecond
	return cfg
}

func TestSubscriber_DeliverSigned(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, domain.EventIdentityDetected, r.Header.Get(EventHeader))
		assert.True(t, Verify("s3cret", r.Header.Get(TimestampHeader), body, r.Header.Get(SignatureHeader)))

		var event domain.NotificationEvent
		require.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, "PERSON_0123456789AB", event.IdentityID)
		assert.Equal(t, domain.BoundingBox{X1: 5, Y1: 6, X2: 70, Y2: 80}, event.BoundingBox)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sub := NewSubscriber(testConfig(server.URL), nil)
	require.NoError(t, sub.Deliver(context.Background(), testEvent()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Stats{Delivered: 1}, sub.Stats())
}

func TestSubscriber_UnsignedWithoutSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		assert.Empty(t, r.Header.Get(TimestampHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Secret = ""
	require.NoError(t, NewSubscriber(cfg, nil).Deliver(context.Background(), testEvent()))
}

func TestSubscriber_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := NewSubscriber(testConfig(server.URL), nil)
	require.NoError(t, sub.Deliver(context.Background(), testEvent()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, Stats{Delivered: 1}, sub.Stats())
}

func TestSubscriber_ExhaustedRetriesStaySubscribed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sub := NewSubscriber(testConfig(server.URL), nil)
	require.NoError(t, sub.Deliver(context.Background(), testEvent()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, Stats{Failed: 1}, sub.Stats())
}

func TestSubscriber_RejectedIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	sub := NewSubscriber(testConfig(server.URL), nil)
	err := sub.Deliver(context.Background(), testEvent())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubscriber_ContextCanceledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, NewSubscriber(cfg, nil).Deliver(ctx, testEvent()))
	assert.Less(t, time.Since(start), time.Second)
}
