// Package mqtt publishes identity notifications to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/notify"
)

const (
	detectionsTopic = "detections"
	qosAtLeastOnce  = 1
	publishTimeout  = 2 * time.Second
	connectTimeout  = 5 * time.Second
	disconnectQuiet = 250 // ms grace period
)

var ErrNotConnected = errors.New("mqtt not connected")

type Config struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://).
	Broker   string
	ClientID string
	// Topic is the prefix; events go to <Topic>/detections.
	Topic string
}

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher is a notify.Subscriber that forwards events to the broker.
// Broker outages are counted and logged; they never unregister the
// publisher because paho reconnects on its own.
type Publisher struct {
	client client
	topic  string
	logger *slog.Logger

	mu        sync.RWMutex
	published uint64
	errors    uint64
}

var _ notify.Subscriber = (*Publisher)(nil)

// Connect dials the broker with auto-reconnect enabled.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c paho.Client) {
		logger.Info("mqtt connection established",
			"broker", broker,
			"client_id", cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect",
			"broker", broker,
			"error", err,
		)
	}

	c := paho.NewClient(opts)

	logger.Info("connecting to mqtt broker", "broker", broker)

	token := c.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.Disconnect(disconnectQuiet)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		// SetConnectRetry keeps trying in the background.
		logger.Warn("mqtt broker not reachable yet, continuing", "broker", broker)
		return NewPublisher(c, cfg.Topic, logger), nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return NewPublisher(c, cfg.Topic, logger), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(c client, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: c,
		topic:  strings.TrimSuffix(topic, "/") + "/" + detectionsTopic,
		logger: logger,
	}
}

// Topic is the topic events are published to.
func (p *Publisher) Topic() string {
	return p.topic
}

// Deliver publishes event with QoS 1. Only a payload that cannot be
// encoded is reported as an error.
func (p *Publisher) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.publish(ctx, payload); err != nil {
		p.mu.Lock()
		p.errors++
		p.mu.Unlock()

		p.logger.Warn("mqtt publish failed",
			"topic", p.topic,
			"identity_id", event.IdentityID,
			"error", err,
		)
		return nil
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debug("notification published",
		"topic", p.topic,
		"identity_id", event.IdentityID,
		"size", len(payload),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := p.client.Publish(p.topic, qosAtLeastOnce, false, payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("publish timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Close() error {
	p.client.Disconnect(disconnectQuiet)
	p.logger.Info("mqtt disconnected")
	return nil
}

type Stats struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Published: p.published, Errors: p.errors}
}
