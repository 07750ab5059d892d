package service

import (
	"context"
	"errors"
	"strings"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/pkg/validator"
)

var ErrCategoryExists = errors.New("category already exists")

// CatalogService manages categories and suppliers. Deleting either leaves
// products and transactions that reference it untouched.
type CatalogService interface {
	GetAllCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id uint) (*model.Category, error)
	CreateCategory(ctx context.Context, req *CategoryRequest) (*model.Category, error)
	UpdateCategory(ctx context.Context, id uint, req *CategoryRequest) (*model.Category, error)
	DeleteCategory(ctx context.Context, id uint) error

	GetAllSuppliers(ctx context.Context) ([]model.Supplier, error)
	GetSupplierByID(ctx context.Context, id uint) (*model.Supplier, error)
	CreateSupplier(ctx context.Context, req *SupplierRequest) (*model.Supplier, error)
	UpdateSupplier(ctx context.Context, id uint, req *SupplierRequest) (*model.Supplier, error)
	DeleteSupplier(ctx context.Context, id uint) error
}

type CategoryRequest struct {
	Name string `json:"name" validate:"required,notblank,max=100"`
}

type SupplierRequest struct {
	Name        string `json:"name" validate:"required,notblank"`
	ContactInfo string `json:"contactInfo"`
	Address     string `json:"address"`
}

type catalogService struct {
	store repository.Store
}

func NewCatalogService(store repository.Store) CatalogService {
	return &catalogService{store: store}
}

func (s *catalogService) GetAllCategories(ctx context.Context) ([]model.Category, error) {
	return s.store.Categories().List(ctx, nil)
}

func (s *catalogService) GetCategoryByID(ctx context.Context, id uint) (*model.Category, error) {
	return s.store.Categories().Get(ctx, id)
}

// categoryNameTaken compares names case-insensitively.
func (s *catalogService) categoryNameTaken(ctx context.Context, name string, except uint) (bool, error) {
	categories, err := s.store.Categories().List(ctx, nil)
	if err != nil {
		return false, err
	}
	for _, c := range categories {
		if c.ID != except && strings.EqualFold(strings.TrimSpace(c.Name), name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, req *CategoryRequest) (*model.Category, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	taken, err := s.categoryNameTaken(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrCategoryExists
	}

	category := &model.Category{Name: name}
	if err := s.store.Categories().Create(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, id uint, req *CategoryRequest) (*model.Category, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	category, err := s.store.Categories().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	taken, err := s.categoryNameTaken(ctx, name, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrCategoryExists
	}

	category.Name = name
	if err := s.store.Categories().CompareAndReplace(ctx, id, category.Version, category); err != nil {
		return nil, err
	}
	return category, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, id uint) error {
	return s.store.Categories().Delete(ctx, id)
}

func (s *catalogService) GetAllSuppliers(ctx context.Context) ([]model.Supplier, error) {
	return s.store.Suppliers().List(ctx, nil)
}

func (s *catalogService) GetSupplierByID(ctx context.Context, id uint) (*model.Supplier, error) {
	return s.store.Suppliers().Get(ctx, id)
}

func (s *catalogService) CreateSupplier(ctx context.Context, req *SupplierRequest) (*model.Supplier, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	supplier := &model.Supplier{
		Name:        strings.TrimSpace(req.Name),
		ContactInfo: req.ContactInfo,
		Address:     req.Address,
	}
	if err := s.store.Suppliers().Create(ctx, supplier); err != nil {
		return nil, err
	}
	return supplier, nil
}

func (s *catalogService) UpdateSupplier(ctx context.Context, id uint, req *SupplierRequest) (*model.Supplier, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	supplier, err := s.store.Suppliers().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	supplier.Name = strings.TrimSpace(req.Name)
	supplier.ContactInfo = req.ContactInfo
	supplier.Address = req.Address
	if err := s.store.Suppliers().CompareAndReplace(ctx, id, supplier.Version, supplier); err != nil {
		return nil, err
	}
	return supplier, nil
}

func (s *catalogService) DeleteSupplier(ctx context.Context, id uint) error {
	return s.store.Suppliers().Delete(ctx, id)
}
