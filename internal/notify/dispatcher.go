// Package notify throttles identity notifications per identity and fans
// them out to registered subscribers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// Subscriber receives notification events. A Deliver error unregisters and
// closes the subscriber.
type Subscriber interface {
	Deliver(ctx context.Context, event domain.NotificationEvent) error
	Close() error
}

type Config struct {
	Enabled bool
	// Cooldown is the minimum interval between two notifications for the
	// same identity. It is independent of the matcher cooldown.
	Cooldown time.Duration
	// EvictInterval is how often Run drops expired cooldown entries.
	EvictInterval time.Duration
	// DeliveryTimeout bounds one fan-out.
	DeliveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Cooldown:        60 * time.Second,
		EvictInterval:   5 * time.Minute,
		DeliveryTimeout: 5 * time.Second,
	}
}

type Dispatcher struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	lastNotified map[string]time.Time

	subsMu      sync.RWMutex
	subscribers []Subscriber
}

type Option func(*Dispatcher)

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultConfig().DeliveryTimeout
	}

	d := &Dispatcher{
		cfg:          cfg,
		clock:        clock.New(),
		logger:       logger,
		lastNotified: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) AddSubscriber(s Subscriber) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	if slices.Contains(d.subscribers, s) {
		return
	}
	d.subscribers = append(d.subscribers, s)
	d.logger.Debug("subscriber added", "subscriber", fmt.Sprintf("%T", s), "total", len(d.subscribers))
}

// RemoveSubscriber unregisters s. It reports whether s was registered and
// does not close it.
func (d *Dispatcher) RemoveSubscriber(s Subscriber) bool {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	idx := slices.Index(d.subscribers, s)
	if idx < 0 {
		return false
	}
	d.subscribers = slices.Delete(d.subscribers, idx, idx+1)
	d.logger.Debug("subscriber removed", "subscriber", fmt.Sprintf("%T", s), "total", len(d.subscribers))
	return true
}

func (d *Dispatcher) SubscriberCount() int {
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()
	return len(d.subscribers)
}

// ShouldNotify reports whether a notification for id would be sent now.
// It does not reserve the slot; Notify does.
func (d *Dispatcher) ShouldNotify(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allowedLocked(id, d.clock.Now())
}

func (d *Dispatcher) allowedLocked(id string, now time.Time) bool {
	if !d.cfg.Enabled {
		return false
	}
	last, ok := d.lastNotified[id]
	return !ok || now.Sub(last) >= d.cfg.Cooldown
}

// Notify sends an identity.detected event to every subscriber unless id
// is within its cooldown window. The cooldown timestamp is recorded before
// any delivery, so concurrent calls for one identity produce one fan-out.
// Subscribers that fail delivery are removed and closed. The return value
// reports whether the event was dispatched.
func (d *Dispatcher) Notify(ctx context.Context, id string, confidence float64, bbox domain.BoundingBox) bool {
	now := d.clock.Now()

	d.mu.Lock()
	if !d.allowedLocked(id, now) {
		d.mu.Unlock()
		return false
	}
	d.lastNotified[id] = now
	d.mu.Unlock()

	event := domain.NotificationEvent{
		Type:        domain.EventIdentityDetected,
		IdentityID:  id,
		Confidence:  confidence,
		BoundingBox: bbox,
		Timestamp:   now,
	}

	d.subsMu.RLock()
	subs := slices.Clone(d.subscribers)
	d.subsMu.RUnlock()

	if len(subs) == 0 {
		return true
	}

	deliverCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("subscriber panicked: %v", r)
				}
			}()
			errs[i] = s.Deliver(deliverCtx, event)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		d.logger.Warn("notification delivery failed, dropping subscriber",
			"identity_id", id,
			"subscriber", fmt.Sprintf("%T", subs[i]),
			"error", err,
		)
		if d.RemoveSubscriber(subs[i]) {
			if cerr := subs[i].Close(); cerr != nil {
				d.logger.Debug("close subscriber", "error", cerr)
			}
		}
	}

	return true
}

// Evict drops cooldown entries that no longer suppress anything and
// returns how many were removed.
func (d *Dispatcher) Evict() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, last := range d.lastNotified {
		if now.Sub(last) >= d.cfg.Cooldown {
			delete(d.lastNotified, id)
			removed++
		}
	}
	return removed
}

// Run evicts expired cooldown entries every EvictInterval until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.cfg.EvictInterval
	if interval <= 0 {
		interval = DefaultConfig().EvictInterval
	}

	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	d.logger.Info("notification janitor started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification janitor stopped")
			return
		case <-ticker.C:
			if n := d.Evict(); n > 0 {
				d.logger.Debug("evicted notification cooldowns", "count", n)
			}
		}
	}
}

// Close unregisters and closes every subscriber.
func (d *Dispatcher) Close() error {
	d.subsMu.Lock()
	subs := d.subscribers
	d.subscribers = nil
	d.subsMu.Unlock()

	var err error
	for _, s := range subs {
		err = multierr.Append(err, s.Close())
	}
	return err
}
