// Package audit records changes to the identity catalog. Biometric data
// never appears in an audit record.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type EventType string

const (
	EventIdentityRegistered EventType = "IDENTITY_REGISTERED"
	EventIdentityDeleted    EventType = "IDENTITY_DELETED"
)

// Event is one catalog change. ID and Timestamp are filled in by the
// logger when left zero.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  EventType         `json:"event_type"`
	IdentityID string            `json:"identity_id"`
	Actor      string            `json:"actor"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
}

// Outcome returns a copy of e marked successful when err is nil and
// failed with err's message otherwise.
func (e Event) Outcome(err error) Event {
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

type Logger interface {
	Log(ctx context.Context, event Event) error
}

// SlogLogger writes each event as a single structured record.
type SlogLogger struct {
	logger *slog.Logger
	clock  clock.Clock
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return NewSlogLoggerWithClock(logger, clock.New())
}

func NewSlogLoggerWithClock(logger *slog.Logger, clk clock.Clock) *SlogLogger {
	return &SlogLogger{logger: logger.With("component", "audit"), clock: clk}
}

// Log never fails; failed operations are written at warn level.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now().UTC()
	}

	attrs := []slog.Attr{
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", string(event.EventType)),
		slog.Time("at", event.Timestamp),
		slog.String("identity_id", event.IdentityID),
		slog.String("actor", event.Actor),
		slog.Bool("success", event.Success),
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.IPAddress != "" || event.UserAgent != "" {
		attrs = append(attrs, slog.Group("client",
			slog.String("ip", event.IPAddress),
			slog.String("user_agent", event.UserAgent),
		))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", metadataGroup(event.Metadata)))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

func metadataGroup(m map[string]string) slog.Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, m[k]))
	}
	return slog.GroupValue(attrs...)
}

// NoOpLogger discards events.
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, Event) error {
	return nil
}
