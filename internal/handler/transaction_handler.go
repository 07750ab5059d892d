package handler

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/service"
	"go-inventory-ledger/pkg/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type TransactionHandler struct {
	service service.TransactionService
}

func NewTransactionHandler(s service.TransactionService) *TransactionHandler {
	return &TransactionHandler{service: s}
}

func transactionQuery(c *fiber.Ctx) (service.TransactionQuery, error) {
	productID := c.QueryInt("productId", 0)
	if productID < 0 {
		return service.TransactionQuery{}, validator.Invalid("productId", "gte", "0")
	}
	return service.TransactionQuery{
		Type:      model.TransactionType(c.Query("type")),
		ProductID: uint(productID),
		Search:    c.Query("search"),
		Page:      c.QueryInt("page", 1),
		PerPage:   c.QueryInt("perPage", service.DefaultPerPage),
	}, nil
}

// GetTransactions returns one page of the log, newest first
// Query params: type, productId, search, page, perPage
func (h *TransactionHandler) GetTransactions(c *fiber.Ctx) error {
	q, err := transactionQuery(c)
	if err != nil {
		return respondError(c, err)
	}
	page, err := h.service.List(c.UserContext(), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

func (h *TransactionHandler) GetTransaction(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, err)
	}
	tx, err := h.service.GetByID(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(tx)
}

// ExportTransactions streams the filtered log as an XLSX workbook
// GET /api/v1/transactions/export
func (h *TransactionHandler) ExportTransactions(c *fiber.Ctx) error {
	q, err := transactionQuery(c)
	if err != nil {
		return respondError(c, err)
	}
	data, err := h.service.Export(c.UserContext(), q)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="transactions-%s.xlsx"`, time.Now().Format("20060102")))
	return c.Send(data)
}
