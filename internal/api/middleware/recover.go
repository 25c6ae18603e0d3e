package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// Recover turns a handler panic into domain.ErrInternal so the error
// handler renders it like any other failure. Mount it inside Logger.
func Recover(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("handler panicked",
				slog.String("route", c.Method()+" "+c.Path()),
				slog.String("request_id", requestID(c)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = domain.ErrInternal.WithError(fmt.Errorf("panic: %v", r))
		}()
		return c.Next()
	}
}
