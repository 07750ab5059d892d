package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/ledger"
	"go-inventory-ledger/internal/lock"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/session"
	"go-inventory-ledger/internal/ws"
	"go-inventory-ledger/pkg/validator"
)

var ErrSKUExists = errors.New("SKU already exists")

// ProductEvents is told about catalog changes to products.
type ProductEvents interface {
	ProductChanged(action string, product model.Product, actor *ws.Actor)
}

type InventoryService interface {
	CreateProduct(ctx context.Context, req *ProductRequest, actor *session.Session) (*model.Product, error)
	UpdateProduct(ctx context.Context, id uint, req *ProductRequest, actor *session.Session) (*model.Product, error)
	DeleteProduct(ctx context.Context, id uint, actor *session.Session) error
	GetAllProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error)
	GetProductByID(ctx context.Context, id uint) (*model.Product, error)
	Purchase(ctx context.Context, req *StockRequest, actor *session.Session) (*ledger.Result, error)
	Sell(ctx context.Context, req *StockRequest, actor *session.Session) (*ledger.Result, error)
}

type ProductRequest struct {
	Name          string          `json:"name" validate:"required,notblank"`
	SKU           string          `json:"sku" validate:"required,notblank,max=50"`
	Price         decimal.Decimal `json:"price" validate:"gte=0"`
	StockQuantity int             `json:"stockQuantity" validate:"gte=0"`
	CategoryID    uint            `json:"categoryId"`
	Description   string          `json:"description"`
}

type ProductFilter struct {
	CategoryID uint
	Search     string
}

// StockRequest is the body of a purchase or sale. IdempotencyKey normally
// comes from the Idempotency-Key header.
type StockRequest struct {
	ProductID      uint   `json:"productId" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	SupplierID     *uint  `json:"supplierId"`
	Description    string `json:"description"`
	Note           string `json:"note"`
	IdempotencyKey string `json:"-"`
}

type inventoryService struct {
	store  repository.Store
	ledger *ledger.Ledger
	locker lock.Locker
	events ProductEvents
	logger *zap.Logger
}

func NewInventoryService(store repository.Store, l *ledger.Ledger, locker lock.Locker, events ProductEvents, logger *zap.Logger) InventoryService {
	return &inventoryService{
		store:  store,
		ledger: l,
		locker: locker,
		events: events,
		logger: logger.Named("inventory"),
	}
}

func actorOf(s *session.Session) *ws.Actor {
	if s == nil {
		return nil
	}
	return &ws.Actor{ID: s.UserID, Name: s.Name, Email: s.Email}
}

func (s *inventoryService) publish(action string, p model.Product, actor *session.Session) {
	if s.events != nil {
		s.events.ProductChanged(action, p, actorOf(actor))
	}
}

func (s *inventoryService) skuTaken(ctx context.Context, sku string, except uint) (bool, error) {
	existing, err := repository.FindOne(ctx, s.store.Products(), repository.Filter{"sku": sku})
	if repository.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ID != except, nil
}

func (s *inventoryService) CreateProduct(ctx context.Context, req *ProductRequest, actor *session.Session) (*model.Product, error) {
	req.SKU = strings.TrimSpace(req.SKU)
	// 1. Validasi Struct Dasar
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	// 2. Cek Duplikasi SKU
	taken, err := s.skuTaken(ctx, req.SKU, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSKUExists
	}

	// 3. Simpan
	product := &model.Product{
		Name:          strings.TrimSpace(req.Name),
		SKU:           req.SKU,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		CategoryID:    req.CategoryID,
		Description:   req.Description,
	}
	if err := s.store.Products().Create(ctx, product); err != nil {
		return nil, err
	}

	// 4. Broadcast ke WebSocket
	s.publish(ws.ActionProductCreated, *product, actor)
	return product, nil
}

// UpdateProduct replaces the product's fields. It holds the product lock so
// edits and stock mutations never interleave.
func (s *inventoryService) UpdateProduct(ctx context.Context, id uint, req *ProductRequest, actor *session.Session) (*model.Product, error) {
	req.SKU = strings.TrimSpace(req.SKU)
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, lock.ProductKey(id))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ledger.ErrConcurrentUpdate
		}
		return nil, err
	}
	defer unlock()

	// 1. Cari product
	existing, err := s.store.Products().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// 2. Cek Duplikasi SKU kalau berubah
	if req.SKU != existing.SKU {
		taken, err := s.skuTaken(ctx, req.SKU, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrSKUExists
		}
	}

	// 3. Update fields
	oldStock := existing.StockQuantity
	existing.Name = strings.TrimSpace(req.Name)
	existing.SKU = req.SKU
	existing.Price = req.Price
	existing.StockQuantity = req.StockQuantity
	existing.CategoryID = req.CategoryID
	existing.Description = req.Description

	if err := s.store.Products().CompareAndReplace(ctx, id, existing.Version, existing); err != nil {
		return nil, err
	}
	if oldStock != existing.StockQuantity {
		s.logger.Info("stock adjusted by product edit",
			zap.Uint("product_id", id),
			zap.Int("old_stock", oldStock),
			zap.Int("new_stock", existing.StockQuantity),
		)
	}

	s.publish(ws.ActionProductUpdated, *existing, actor)
	return existing, nil
}

// DeleteProduct removes the product. Its transactions stay, still naming the
// deleted id.
func (s *inventoryService) DeleteProduct(ctx context.Context, id uint, actor *session.Session) error {
	product, err := s.store.Products().Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Products().Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ws.ActionProductDeleted, *product, actor)
	return nil
}

func (s *inventoryService) GetAllProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	var f repository.Filter
	if filter.CategoryID != 0 {
		f = repository.Filter{"categoryId": uintString(filter.CategoryID)}
	}
	products, err := s.store.Products().List(ctx, f)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	if search == "" {
		return products, nil
	}
	out := products[:0]
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), search) || strings.Contains(strings.ToLower(p.SKU), search) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *inventoryService) GetProductByID(ctx context.Context, id uint) (*model.Product, error) {
	return s.store.Products().Get(ctx, id)
}

func (s *inventoryService) Purchase(ctx context.Context, req *StockRequest, actor *session.Session) (*ledger.Result, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	if req.SupplierID != nil {
		if _, err := s.store.Suppliers().Get(ctx, *req.SupplierID); err != nil {
			if repository.IsNotFound(err) {
				return nil, validator.Invalid("supplierId", "exists", "")
			}
			return nil, err
		}
	}
	return s.ledger.ReceiveStock(ctx, req.ProductID, req.Quantity, s.ledgerOptions(req, actor))
}

func (s *inventoryService) Sell(ctx context.Context, req *StockRequest, actor *session.Session) (*ledger.Result, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	return s.ledger.SellStock(ctx, req.ProductID, req.Quantity, s.ledgerOptions(req, actor))
}

func (s *inventoryService) ledgerOptions(req *StockRequest, actor *session.Session) ledger.Options {
	opts := ledger.Options{
		IdempotencyKey: req.IdempotencyKey,
		SupplierID:     req.SupplierID,
		Description:    req.Description,
		Note:           req.Note,
	}
	if actor != nil {
		id := actor.UserID
		opts.UserID = &id
	}
	return opts
}
