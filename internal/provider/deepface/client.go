package deepface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SkipDetection is the detector backend that embeds the whole image as one face.
const SkipDetection = "skip"

const (
	maxBackoff      = 30 * time.Second
	maxReplyBytes   = 16 << 20
	maxErrBodyBytes = 256
)

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Model    string
	Detector string
	// RetryCount is the number of extra attempts after a retryable failure.
	RetryCount int
	// RetryBackoff is the first retry delay; later retries double it.
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:5005",
		Timeout:      10 * time.Second,
		Model:        "ArcFace",
		Detector:     "retinaface",
		RetryCount:   2,
		RetryBackoff: time.Second,
	}
}

// Client talks JSON to a DeepFace REST server.
type Client struct {
	http *http.Client
	cfg  Config
}

func NewClient(cfg Config) *Client {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Client{http: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

// Represent calls POST /represent. img is a data URI; a non-empty backend
// overrides the configured detector backend.
func (c *Client) Represent(ctx context.Context, img, backend string) (*RepresentResponse, error) {
	if backend == "" {
		backend = c.cfg.Detector
	}

	var out RepresentResponse
	err := c.post(ctx, "/represent", RepresentRequest{
		Img:      img,
		Model:    c.cfg.Model,
		Detector: backend,
		Align:    true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// statusError is a non-2xx answer. Body is truncated.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("deepface: status %d: %s", e.Code, e.Body)
}

// permanent reports failures another attempt cannot fix: 4xx answers and
// replies that do not decode.
func permanent(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500
	}
	return errors.Is(err, ErrMalformedReply)
}

// backoffFor returns the delay before retry n (1-based).
func backoffFor(base time.Duration, n int) time.Duration {
	d := base
	for ; n > 1 && d < maxBackoff; n-- {
		d *= 2
	}
	return min(d, maxBackoff)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("deepface: encode %s: %w", path, err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(backoffFor(c.cfg.RetryBackoff, attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		lastErr = c.roundTrip(ctx, path, body, out)
		switch {
		case lastErr == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case permanent(lastErr):
			return lastErr
		case attempt >= c.cfg.RetryCount:
			return fmt.Errorf("%w: %w", ErrServiceDown, lastErr)
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deepface: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("deepface: read reply: %w", err)
	}

	if resp.StatusCode >= 400 {
		if len(reply) > maxErrBodyBytes {
			reply = reply[:maxErrBodyBytes]
		}
		return &statusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(reply))}
	}

	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}
