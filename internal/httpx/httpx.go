package httpx

import (
	"errors"
	"fmt"
	"log"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/gofiber/fiber/v2"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
	})
}

func BadRequest(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func NotFound(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusNotFound, code, "Not found")
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

// FromError renders a service error. Validation failures carry their field;
// store outages become 503 so clients know to retry.
func FromError(c *fiber.Ctx, err error) error {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:     verr.Reason,
			Code:      "validation_failed",
			Field:     verr.Field,
			RequestID: requestID(c),
		})
	case errors.Is(err, apperr.ErrValidation):
		return BadRequest(c, "validation_failed", err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return NotFound(c, "not_found")
	case errors.Is(err, apperr.ErrForbidden):
		return Forbidden(c, "forbidden", "Insufficient permissions")
	case errors.Is(err, apperr.ErrInvalidTransition):
		return Error(c, fiber.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, apperr.ErrStoreUnavailable), errors.Is(err, apperr.ErrTransientDelivery):
		log.Printf("[http] %s %s: %v", c.Method(), c.Path(), err)
		return Error(c, fiber.StatusServiceUnavailable, "store_unavailable", "Temporarily unavailable, retry")
	}
	log.Printf("[http] %s %s: %v", c.Method(), c.Path(), err)
	return Internal(c, "internal_error")
}

func LocalString(c *fiber.Ctx, key string) (string, error) {
	v := c.Locals(key)
	if v == nil {
		return "", fmt.Errorf("missing local %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("invalid local %s", key)
	}
	return s, nil
}
