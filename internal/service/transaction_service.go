package service

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go-inventory-ledger/internal/export"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/pkg/validator"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

type TransactionService interface {
	List(ctx context.Context, q TransactionQuery) (*TransactionPage, error)
	GetByID(ctx context.Context, id uint) (*TransactionDetail, error)
	Export(ctx context.Context, q TransactionQuery) ([]byte, error)
}

// TransactionQuery filters the log. Search matches type, status,
// description and note case-insensitively.
type TransactionQuery struct {
	Type      model.TransactionType
	ProductID uint
	Search    string
	Page      int
	PerPage   int
}

type TransactionPage struct {
	Data       []model.Transaction `json:"data"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"perPage"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"totalPages"`
}

// TransactionDetail is a transaction with the product and supplier it names,
// when they still exist.
type TransactionDetail struct {
	model.Transaction
	Product  *model.Product  `json:"product,omitempty"`
	Supplier *model.Supplier `json:"supplier,omitempty"`
}

type transactionService struct {
	store repository.Store
}

func NewTransactionService(store repository.Store) TransactionService {
	return &transactionService{store: store}
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func (s *transactionService) filtered(ctx context.Context, q TransactionQuery) ([]model.Transaction, error) {
	if q.Type != "" && q.Type != model.TxSale && q.Type != model.TxPurchase {
		return nil, validator.Invalid("type", "oneof", "sale purchase")
	}
	filter := repository.Filter{}
	if q.Type != "" {
		filter["type"] = string(q.Type)
	}
	if q.ProductID != 0 {
		filter["productId"] = uintString(q.ProductID)
	}
	txs, err := s.store.Transactions().List(ctx, filter)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	if search != "" {
		out := txs[:0]
		for _, tx := range txs {
			if matchesSearch(tx, search) {
				out = append(out, tx)
			}
		}
		txs = out
	}

	// Newest first.
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].ID > txs[j].ID })
	return txs, nil
}

func matchesSearch(tx model.Transaction, search string) bool {
	for _, field := range []string{string(tx.Type), string(tx.Status), tx.Description, tx.Note} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func (s *transactionService) List(ctx context.Context, q TransactionQuery) (*TransactionPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}

	txs, err := s.filtered(ctx, q)
	if err != nil {
		return nil, err
	}

	total := len(txs)
	// Pages past the end are empty; compare before multiplying so a huge
	// page number cannot overflow.
	start := total
	if q.Page-1 <= total/q.PerPage {
		start = min((q.Page-1)*q.PerPage, total)
	}
	end := start + q.PerPage
	if end > total {
		end = total
	}

	return &TransactionPage{
		Data:       txs[start:end],
		Page:       q.Page,
		PerPage:    q.PerPage,
		Total:      total,
		TotalPages: (total + q.PerPage - 1) / q.PerPage,
	}, nil
}

func (s *transactionService) GetByID(ctx context.Context, id uint) (*TransactionDetail, error) {
	tx, err := s.store.Transactions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &TransactionDetail{Transaction: *tx}

	product, err := s.store.Products().Get(ctx, tx.ProductID)
	switch {
	case err == nil:
		detail.Product = product
	case !repository.IsNotFound(err):
		return nil, err
	}

	if tx.SupplierID != nil {
		supplier, err := s.store.Suppliers().Get(ctx, *tx.SupplierID)
		switch {
		case err == nil:
			detail.Supplier = supplier
		case !repository.IsNotFound(err):
			return nil, err
		}
	}
	return detail, nil
}

func (s *transactionService) Export(ctx context.Context, q TransactionQuery) ([]byte, error) {
	txs, err := s.filtered(ctx, q)
	if err != nil {
		return nil, err
	}
	products, err := s.store.Products().List(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	return export.TransactionsXLSX(txs, names)
}
