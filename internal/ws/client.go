package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/notify"
)

const (
	sendBuffer = 64
	writeWait  = 5 * time.Second
)

var (
	ErrClientClosed = errors.New("websocket client closed")
	ErrSlowConsumer = errors.New("websocket client send buffer full")
)

// Client is one open WebSocket connection subscribed to notifications.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
	// stopped is closed once WritePump has returned and no longer
	// touches conn.
	stopped chan struct{}
}

var _ notify.Subscriber = (*Client)(nil)

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Deliver queues event for the write pump. A client that is closed or
// has fallen a full buffer behind fails delivery.
func (c *Client) Deliver(_ context.Context, event domain.NotificationEvent) error {
	message, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// ReadPump drains inbound frames until the peer goes away.
func (c *Client) ReadPump() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump sends queued events until Close is called or a write fails.
// The connection must stay valid until Stopped is closed.
func (c *Client) WritePump() {
	defer close(c.stopped)
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// Stopped is closed when WritePump has returned.
func (c *Client) Stopped() <-chan struct{} {
	return c.stopped
}
