package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/notify"
)

// ErrRejected means the receiver refused the event in a way retrying
// cannot fix. The dispatcher drops the subscriber on it.
var ErrRejected = errors.New("webhook rejected")

type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	// RetryDelay is the first retry delay; it doubles per attempt.
	RetryDelay time.Duration
}

func DefaultConfig(url, secret string) Config {
	return Config{
		URL:         url,
		Secret:      secret,
		Timeout:     3 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  200 * time.Millisecond,
	}
}

// Subscriber POSTs signed notification events to a single endpoint.
type Subscriber struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	delivered uint64
	failed    uint64
}

var _ notify.Subscriber = (*Subscriber)(nil)

func NewSubscriber(cfg Config, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Subscriber{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Deliver sends event, retrying transport errors and 5xx/408/429 answers
// with exponential delay. Exhausted retries are logged and counted but not
// returned, so a flapping receiver stays subscribed. Other 4xx answers
// return ErrRejected.
func (s *Subscriber) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * s.cfg.RetryDelay
			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = s.send(ctx, event.Type, payload)
		if lastErr == nil {
			s.mu.Lock()
			s.delivered++
			s.mu.Unlock()
			return nil
		}
		if errors.Is(lastErr, ErrRejected) {
			return lastErr
		}
	}

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()

	s.logger.Warn("webhook delivery failed",
		"url", s.cfg.URL,
		"identity_id", event.IdentityID,
		"attempts", s.cfg.MaxAttempts,
		"error", lastErr,
	)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Subscriber) send(ctx context.Context, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrRejected, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	req.Header.Set("User-Agent", "Facewatch-Webhook/1.0")
	if s.cfg.Secret != "" {
		now := time.Now()
		req.Header.Set(TimestampHeader, strconv.FormatInt(now.Unix(), 10))
		req.Header.Set(SignatureHeader, Sign(s.cfg.Secret, now, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	}
}

func (s *Subscriber) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type Stats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

func (s *Subscriber) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Delivered: s.delivered, Failed: s.failed}
}
