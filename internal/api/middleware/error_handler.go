package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler renders domain.AppError with its own status and code,
// fiber errors as HTTP_ERROR, and anything else as INTERNAL_ERROR. Only
// server-side failures are logged; the cause never reaches the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, body := classify(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("code", body.Code),
				slog.String("path", c.Path()),
				slog.String("request_id", requestID(c)),
				slog.Any("error", err),
			)
		}
		return c.Status(status).JSON(ErrorResponse{Error: body})
	}
}

func classify(err error) (int, ErrorBody) {
	var fiberErr *fiber.Error
	var appErr *domain.AppError
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code, ErrorBody{Code: "HTTP_ERROR", Message: fiberErr.Message}
	case errors.As(err, &appErr):
		return appErr.StatusCode, ErrorBody{Code: appErr.Code, Message: appErr.Message}
	default:
		return domain.ErrInternal.StatusCode, ErrorBody{Code: domain.ErrInternal.Code, Message: domain.ErrInternal.Message}
	}
}
