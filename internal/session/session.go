// Package session is the authenticated caller of a request: created at
// login, carried by a signed token, ended by logout or expiry.
package session

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/pkg/jwt"
)

const localsKey = "session"

type Session struct {
	UserID       uint       `json:"userId"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         model.Role `json:"role"`
	TokenVersion string     `json:"-"`
	IssuedAt     time.Time  `json:"issuedAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
}

// FromClaims builds the session a verified token describes.
func FromClaims(c *jwt.Claims) *Session {
	s := &Session{
		UserID:       c.UserID,
		Email:        c.Email,
		Name:         c.Name,
		Role:         model.Role(c.Role),
		TokenVersion: c.TokenVersion,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// ActiveAt reports whether the session identifies a user and has not expired
// at now. A nil session is never active.
func (s *Session) ActiveAt(now time.Time) bool {
	if s == nil || s.UserID == 0 {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

func (s *Session) IsAuthenticated() bool {
	return s.ActiveAt(time.Now())
}

func (s *Session) IsAdmin() bool {
	return s.IsAuthenticated() && s.Role == model.RoleAdmin
}

// Set stores s on the request.
func Set(c *fiber.Ctx, s *Session) {
	c.Locals(localsKey, s)
}

// From returns the request's session, or nil for anonymous requests.
func From(c *fiber.Ctx) *Session {
	s, _ := c.Locals(localsKey).(*Session)
	return s
}
