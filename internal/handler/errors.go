package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/ledger"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/service"
	"go-inventory-ledger/pkg/jwt"
	"go-inventory-ledger/pkg/validator"
)

// statusOf maps an error from the service layer to an HTTP status.
func statusOf(err error) int {
	var ve *validator.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, service.ErrWrongPassword),
		errors.Is(err, service.ErrCannotDeleteSelf):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrSessionRevoked),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, jwt.ErrInvalidToken),
		errors.Is(err, jwt.ErrMissingToken):
		return fiber.StatusUnauthorized
	case errors.Is(err, repository.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ledger.ErrPartialFailure):
		return fiber.StatusBadGateway
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrConcurrentUpdate),
		errors.Is(err, ledger.ErrIdempotencyKeyReused),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, service.ErrEmailExists),
		errors.Is(err, service.ErrSKUExists),
		errors.Is(err, service.ErrCategoryExists):
		return fiber.StatusConflict
	case errors.Is(err, repository.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes the {"error": ...} body for err. Server-side failures
// are logged and their details withheld.
func respondError(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	body := fiber.Map{"error": err.Error()}

	var ve *validator.ValidationError
	switch {
	case errors.As(err, &ve):
		body = fiber.Map{"error": "Validation failed", "details": ve.Errors}
	case status == fiber.StatusNotFound:
		body = fiber.Map{"error": "Resource not found"}
	case status == fiber.StatusServiceUnavailable:
		zap.L().Warn("store unavailable", zap.String("path", c.Path()), zap.Error(err))
		body = fiber.Map{"error": "Store unavailable, try again later"}
	case status == fiber.StatusBadGateway:
		body = fiber.Map{"error": "Stock was updated but the transaction could not be recorded; retry with the same Idempotency-Key"}
	case status == fiber.StatusInternalServerError:
		zap.L().Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		body = fiber.Map{"error": "Internal server error"}
	}
	return c.Status(status).JSON(body)
}

func badJSON(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON"})
}

// paramID reads a positive :id route parameter.
func paramID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, validator.Invalid("id", "gt", "0")
	}
	return uint(id), nil
}
