package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"go-inventory-ledger/internal/ledger"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/service"
)

type DashboardHandler struct {
	service service.DashboardService
	now     func() time.Time
}

func NewDashboardHandler(s service.DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s, now: time.Now}
}

// GetDaily returns one bucket per day of the month for the chart
// Query params: month (1-12), year, type (sale|purchase); month and year
// default to the current ones
func (h *DashboardHandler) GetDaily(c *fiber.Ctx) error {
	month, year, err := ledger.ParseMonth(c.Query("month"), c.Query("year"), h.now())
	if err != nil {
		return respondError(c, err)
	}

	report, err := h.service.Daily(c.UserContext(), month, year, model.TransactionType(c.Query("type")))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

// GetDashboardStats returns overview statistics
func (h *DashboardHandler) GetDashboardStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}
