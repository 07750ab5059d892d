// Package memory is an in-process document store used for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
)

type collection[T any, PT repository.DocumentPtr[T]] struct {
	name   string
	mu     sync.RWMutex
	nextID uint
	docs   map[uint]T
	// failCreate lets tests inject a store failure on Create.
	failCreate func(doc *T) error
}

func newCollection[T any, PT repository.DocumentPtr[T]](name string) *collection[T, PT] {
	return &collection[T, PT]{name: name, docs: make(map[uint]T)}
}

func (c *collection[T, PT]) List(ctx context.Context, filter repository.Filter) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]uint, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		doc := c.docs[id]
		ok, err := matches(&doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *collection[T, PT]) Get(ctx context.Context, id uint) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s/%d: %w", c.name, id, repository.ErrNotFound)
	}
	return &doc, nil
}

func (c *collection[T, PT]) Create(ctx context.Context, doc *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCreate != nil {
		if err := c.failCreate(doc); err != nil {
			return err
		}
	}
	c.nextID++
	p := PT(doc)
	p.SetID(c.nextID)
	p.SetVersion(1)
	p.Touch(time.Now())
	c.docs[c.nextID] = *doc
	return nil
}

func (c *collection[T, PT]) Replace(ctx context.Context, id uint, doc *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("%s/%d: %w", c.name, id, repository.ErrNotFound)
	}
	c.store(id, PT(&current).GetVersion(), doc)
	return nil
}

func (c *collection[T, PT]) CompareAndReplace(ctx context.Context, id uint, expected int64, doc *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("%s/%d: %w", c.name, id, repository.ErrNotFound)
	}
	if v := PT(&current).GetVersion(); v != expected {
		return fmt.Errorf("%s/%d at version %d, expected %d: %w", c.name, id, v, expected, repository.ErrConflict)
	}
	c.store(id, expected, doc)
	return nil
}

// store must be called with mu held.
func (c *collection[T, PT]) store(id uint, version int64, doc *T) {
	p := PT(doc)
	p.SetID(id)
	p.SetVersion(version + 1)
	p.Touch(time.Now())
	c.docs[id] = *doc
}

func (c *collection[T, PT]) Delete(ctx context.Context, id uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%s/%d: %w", c.name, id, repository.ErrNotFound)
	}
	delete(c.docs, id)
	return nil
}

// matches compares filter values against the document's JSON fields, the same
// way the REST store compares query-string values.
func matches(doc any, filter repository.Filter) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false, err
	}
	for key, want := range filter {
		got, ok := fields[key]
		if !ok || fmt.Sprint(got) != want {
			return false, nil
		}
	}
	return true, nil
}

// Store is the in-memory repository.Store.
type Store struct {
	products     *collection[model.Product, *model.Product]
	categories   *collection[model.Category, *model.Category]
	suppliers    *collection[model.Supplier, *model.Supplier]
	users        *collection[model.User, *model.User]
	transactions *collection[model.Transaction, *model.Transaction]
}

func NewStore() *Store {
	return &Store{
		products:     newCollection[model.Product, *model.Product]("products"),
		categories:   newCollection[model.Category, *model.Category]("categories"),
		suppliers:    newCollection[model.Supplier, *model.Supplier]("suppliers"),
		users:        newCollection[model.User, *model.User]("users"),
		transactions: newCollection[model.Transaction, *model.Transaction]("transactions"),
	}
}

func (s *Store) Products() repository.Collection[model.Product] { return s.products }
func (s *Store) Categories() repository.Collection[model.Category] { return s.categories }
func (s *Store) Suppliers() repository.Collection[model.Supplier] { return s.suppliers }
func (s *Store) Users() repository.Collection[model.User] { return s.users }
func (s *Store) Transactions() repository.Collection[model.Transaction] { return s.transactions }

func (s *Store) Transactional() bool { return false }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(s)
}

func (s *Store) Close() error { return nil }

// FailTransactionCreate makes every transaction insert fail with err until
// reset with nil. Used to exercise partial-failure handling.
func (s *Store) FailTransactionCreate(err error) {
	s.transactions.mu.Lock()
	defer s.transactions.mu.Unlock()
	if err == nil {
		s.transactions.failCreate = nil
		return
	}
	s.transactions.failCreate = func(*model.Transaction) error { return err }
}
