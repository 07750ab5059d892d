package handler

import (
	"github.com/gofiber/fiber/v2"

	"go-inventory-ledger/internal/model"
)

type RoleHandler struct {
	roles []model.RoleInfo
}

func NewRoleHandler(roles []model.RoleInfo) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// GetRoles returns all available roles
// GET /api/v1/roles
func (h *RoleHandler) GetRoles(c *fiber.Ctx) error {
	return c.JSON(h.roles)
}
