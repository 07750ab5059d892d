package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
)

type collection[T any, PT repository.DocumentPtr[T]] struct {
	db   *gorm.DB
	name string
}

func newCollection[T any, PT repository.DocumentPtr[T]](db *gorm.DB, name string) *collection[T, PT] {
	return &collection[T, PT]{db: db, name: name}
}

func (c *collection[T, PT]) wrap(op string, id uint, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s/%d: %w", c.name, id, repository.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s %s: %w: %w", op, c.name, repository.ErrConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%s %s: %w: %w", op, c.name, repository.ErrUnavailable, err)
	}
}

func (c *collection[T, PT]) List(ctx context.Context, filter repository.Filter) ([]T, error) {
	q := c.db.WithContext(ctx).Model(new(T))
	if len(filter) > 0 {
		stmt := &gorm.Statement{DB: c.db}
		if err := stmt.Parse(new(T)); err != nil {
			return nil, c.wrap("list", 0, err)
		}
		keys := make([]string, 0, len(filter))
		for k := range filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			field := stmt.Schema.LookUpField(c.db.NamingStrategy.ColumnName("", k))
			if field == nil || field.DBName == "" {
				// Unknown fields match nothing, like the document server.
				return []T{}, nil
			}
			q = q.Where(clause.Eq{Column: clause.Column{Name: field.DBName}, Value: filter[k]})
		}
	}

	var docs []T
	if err := q.Order("id ASC").Find(&docs).Error; err != nil {
		return nil, c.wrap("list", 0, err)
	}
	return docs, nil
}

func (c *collection[T, PT]) Get(ctx context.Context, id uint) (*T, error) {
	var doc T
	if err := c.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, c.wrap("get", id, err)
	}
	return &doc, nil
}

func (c *collection[T, PT]) Create(ctx context.Context, doc *T) error {
	p := PT(doc)
	p.SetID(0)
	p.SetVersion(1)
	p.Touch(time.Now())
	return c.wrap("create", 0, c.db.WithContext(ctx).Create(doc).Error)
}

func (c *collection[T, PT]) Replace(ctx context.Context, id uint, doc *T) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current T
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", id).Error; err != nil {
			return err
		}
		_, err := c.update(tx, id, PT(&current).GetVersion(), doc)
		return err
	})
	return c.wrap("replace", id, err)
}

func (c *collection[T, PT]) CompareAndReplace(ctx context.Context, id uint, expected int64, doc *T) error {
	db := c.db.WithContext(ctx)
	updated, err := c.update(db, id, expected, doc)
	if err != nil {
		return c.wrap("compare-and-replace", id, err)
	}
	if updated {
		return nil
	}
	var current T
	if err := db.Select("id", "version").First(&current, "id = ?", id).Error; err != nil {
		return c.wrap("compare-and-replace", id, err)
	}
	return fmt.Errorf("%s/%d at version %d, expected %d: %w",
		c.name, id, PT(&current).GetVersion(), expected, repository.ErrConflict)
}

// update writes every column of doc when the row is still at version
// expected, and reports whether a row was written.
func (c *collection[T, PT]) update(db *gorm.DB, id uint, expected int64, doc *T) (bool, error) {
	p := PT(doc)
	p.SetID(id)
	p.SetVersion(expected + 1)
	p.Touch(time.Now())

	res := db.Model(doc).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at").
		Updates(doc)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, db.First(doc, "id = ?", id).Error
}

func (c *collection[T, PT]) Delete(ctx context.Context, id uint) error {
	res := c.db.WithContext(ctx).Delete(new(T), "id = ?", id)
	if res.Error != nil {
		return c.wrap("delete", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%d: %w", c.name, id, repository.ErrNotFound)
	}
	return nil
}

// Store is the gorm-backed repository.Store.
type Store struct {
	db           *gorm.DB
	products     *collection[model.Product, *model.Product]
	categories   *collection[model.Category, *model.Category]
	suppliers    *collection[model.Supplier, *model.Supplier]
	users        *collection[model.User, *model.User]
	transactions *collection[model.Transaction, *model.Transaction]
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		products:     newCollection[model.Product, *model.Product](db, "products"),
		categories:   newCollection[model.Category, *model.Category](db, "categories"),
		suppliers:    newCollection[model.Supplier, *model.Supplier](db, "suppliers"),
		users:        newCollection[model.User, *model.User](db, "users"),
		transactions: newCollection[model.Transaction, *model.Transaction](db, "transactions"),
	}
}

func (s *Store) Products() repository.Collection[model.Product] { return s.products }
func (s *Store) Categories() repository.Collection[model.Category] { return s.categories }
func (s *Store) Suppliers() repository.Collection[model.Supplier] { return s.suppliers }
func (s *Store) Users() repository.Collection[model.User] { return s.users }
func (s *Store) Transactions() repository.Collection[model.Transaction] { return s.transactions }

func (s *Store) Transactional() bool { return true }

// WithinTx runs fn in a database transaction; fn's error rolls it back.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
