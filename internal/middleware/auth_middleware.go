package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"go-inventory-ledger/internal/authz"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/service"
	"go-inventory-ledger/internal/session"
)

// Authenticator turns a bearer token into a session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Session, error)
}

// RequireAuth validates the bearer token against the stored user and puts
// the session on the request. Websocket upgrades may pass the token as the
// "token" query parameter instead.
func RequireAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Get Authorization header
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" && websocket.IsWebSocketUpgrade(c) {
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization token"})
		}

		// Extract token from "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid authorization format. Use: Bearer <token>"})
		}

		// Validate token and check strict session against the store
		sess, err := auth.Authenticate(c.UserContext(), parts[1])
		switch {
		case err == nil:
		case errors.Is(err, service.ErrSessionRevoked):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Session expired (logged out or logged in on another device)"})
		case errors.Is(err, service.ErrUserNotFound):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User not found"})
		case errors.Is(err, repository.ErrUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Store unavailable"})
		default:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
		}

		session.Set(c, sess)
		return c.Next()
	}
}

// RequireAccess lets the request through when the session may use resource:
// 401 without a live session, 403 with one that lacks the role.
func RequireAccess(resource authz.Resource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess := session.From(c)
		if authz.CanAccess(sess, resource) {
			return c.Next()
		}
		if !sess.IsAuthenticated() {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Forbidden: requires access to '" + string(resource) + "'",
		})
	}
}
