package ws

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/notify"
)

// Registry is where connections register as notification subscribers.
type Registry interface {
	AddSubscriber(s notify.Subscriber)
	RemoveSubscriber(s notify.Subscriber) bool
}

// Handler subscribes every accepted connection to reg until the peer
// disconnects or delivery to it fails. The handler does not return before
// the write pump has stopped: gofiber/websocket recycles the Conn as soon
// as it does.
func Handler(reg Registry) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		client := newClient(c)
		reg.AddSubscriber(client)

		go client.WritePump()
		client.ReadPump()

		reg.RemoveSubscriber(client)
		_ = client.Close()
		<-client.Stopped()
	})
}

func UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}
