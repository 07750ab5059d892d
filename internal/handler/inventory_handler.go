package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"go-inventory-ledger/internal/ledger"
	"go-inventory-ledger/internal/service"
	"go-inventory-ledger/internal/session"
	"go-inventory-ledger/pkg/validator"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type InventoryHandler struct {
	service service.InventoryService
}

func NewInventoryHandler(s service.InventoryService) *InventoryHandler {
	return &InventoryHandler{service: s}
}

func (h *InventoryHandler) CreateProduct(c *fiber.Ctx) error {
	var req service.ProductRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}

	product, err := h.service.CreateProduct(c.UserContext(), &req, session.From(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Product created", "data": product})
}

func (h *InventoryHandler) UpdateProduct(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req service.ProductRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}

	updated, err := h.service.UpdateProduct(c.UserContext(), id, &req, session.From(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Product updated", "data": updated})
}

func (h *InventoryHandler) DeleteProduct(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.service.DeleteProduct(c.UserContext(), id, session.From(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Product deleted"})
}

// GetProducts lists products
// Query params: categoryId, search (name or SKU)
func (h *InventoryHandler) GetProducts(c *fiber.Ctx) error {
	categoryID := c.QueryInt("categoryId", 0)
	if categoryID < 0 {
		return respondError(c, validator.Invalid("categoryId", "gte", "0"))
	}

	products, err := h.service.GetAllProducts(c.UserContext(), service.ProductFilter{
		CategoryID: uint(categoryID),
		Search:     c.Query("search"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(products)
}

func (h *InventoryHandler) GetProduct(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, err)
	}

	product, err := h.service.GetProductByID(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(product)
}

// Purchase receives stock
// POST /api/v1/inventory/purchase
func (h *InventoryHandler) Purchase(c *fiber.Ctx) error {
	return h.mutate(c, "Stock received", h.service.Purchase)
}

// Sell removes stock
// POST /api/v1/inventory/sell
func (h *InventoryHandler) Sell(c *fiber.Ctx) error {
	return h.mutate(c, "Sale recorded", h.service.Sell)
}

type stockFunc func(ctx context.Context, req *service.StockRequest, actor *session.Session) (*ledger.Result, error)

func (h *InventoryHandler) mutate(c *fiber.Ctx, message string, do stockFunc) error {
	var req service.StockRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	req.IdempotencyKey = strings.TrimSpace(c.Get(HeaderIdempotencyKey))

	result, err := do(c.UserContext(), &req, session.From(c))
	if err != nil {
		return respondError(c, err)
	}

	c.Set(HeaderIdempotencyKey, result.Transaction.IdempotencyKey)
	status := fiber.StatusCreated
	if result.Replayed {
		c.Set(HeaderReplayed, "true")
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"data": fiber.Map{
			"product":     result.Product,
			"transaction": result.Transaction,
		},
		"replayed": result.Replayed,
	})
}
