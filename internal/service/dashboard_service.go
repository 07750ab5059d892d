package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"go-inventory-ledger/internal/ledger"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/pkg/validator"
)

type DashboardService interface {
	Daily(ctx context.Context, month time.Month, year int, typ model.TransactionType) (*DailyReport, error)
	Stats(ctx context.Context) (*DashboardStats, error)
}

type DailyReport struct {
	Month    int                 `json:"month"`
	Year     int                 `json:"year"`
	Timezone string              `json:"timezone"`
	Type     string              `json:"type,omitempty"`
	Days     []ledger.DailyTotal `json:"days"`
	Totals   ledger.Totals       `json:"totals"`
}

type DashboardStats struct {
	TotalProducts     int             `json:"totalProducts"`
	TotalCategories   int             `json:"totalCategories"`
	TotalSuppliers    int             `json:"totalSuppliers"`
	TotalTransactions int             `json:"totalTransactions"`
	TotalStock        int             `json:"totalStock"`
	StockValuation    decimal.Decimal `json:"stockValuation"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	LowStockProducts  []model.Product `json:"lowStockProducts"`
	SalesAmount       decimal.Decimal `json:"salesAmount"`
	PurchaseAmount    decimal.Decimal `json:"purchaseAmount"`
}

type dashboardService struct {
	store             repository.Store
	loc               *time.Location
	lowStockThreshold int
}

func NewDashboardService(store repository.Store, loc *time.Location, lowStockThreshold int) DashboardService {
	if loc == nil {
		loc = time.UTC
	}
	return &dashboardService{store: store, loc: loc, lowStockThreshold: lowStockThreshold}
}

func (s *dashboardService) Daily(ctx context.Context, month time.Month, year int, typ model.TransactionType) (*DailyReport, error) {
	var filter repository.Filter
	switch typ {
	case "":
	case model.TxSale, model.TxPurchase:
		filter = repository.Filter{"type": string(typ)}
	default:
		return nil, validator.Invalid("type", "oneof", "sale purchase")
	}

	txs, err := s.store.Transactions().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	days, err := ledger.AggregateDaily(txs, month, year, s.loc)
	if err != nil {
		return nil, err
	}
	return &DailyReport{
		Month:    int(month),
		Year:     year,
		Timezone: s.loc.String(),
		Type:     string(typ),
		Days:     days,
		Totals:   ledger.Summarize(days),
	}, nil
}

func (s *dashboardService) Stats(ctx context.Context) (*DashboardStats, error) {
	var (
		products     []model.Product
		transactions []model.Transaction
		categories   []model.Category
		suppliers    []model.Supplier
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		products, err = s.store.Products().List(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		transactions, err = s.store.Transactions().List(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		categories, err = s.store.Categories().List(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		suppliers, err = s.store.Suppliers().List(gctx, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalProducts:     len(products),
		TotalCategories:   len(categories),
		TotalSuppliers:    len(suppliers),
		TotalTransactions: len(transactions),
		StockValuation:    decimal.Zero,
		LowStockThreshold: s.lowStockThreshold,
		LowStockProducts:  []model.Product{},
		SalesAmount:       decimal.Zero,
		PurchaseAmount:    decimal.Zero,
	}
	for i := range products {
		p := &products[i]
		stats.TotalStock += p.StockQuantity
		stats.StockValuation = stats.StockValuation.Add(p.Valuation())
		if p.StockQuantity <= s.lowStockThreshold {
			stats.LowStockProducts = append(stats.LowStockProducts, *p)
		}
	}
	for _, tx := range transactions {
		switch tx.Type {
		case model.TxSale:
			stats.SalesAmount = stats.SalesAmount.Add(tx.TotalPrice)
		case model.TxPurchase:
			stats.PurchaseAmount = stats.PurchaseAmount.Add(tx.TotalPrice)
		}
	}
	return stats, nil
}
