package rest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/valyala/fasthttp"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
)

type collection[T any, PT repository.DocumentPtr[T]] struct {
	client *Client
	name   string
}

func newCollection[T any, PT repository.DocumentPtr[T]](client *Client, name string) *collection[T, PT] {
	return &collection[T, PT]{client: client, name: name}
}

func (c *collection[T, PT]) itemPath(id uint) string {
	return fmt.Sprintf("/%s/%d", c.name, id)
}

func (c *collection[T, PT]) List(ctx context.Context, filter repository.Filter) ([]T, error) {
	path := "/" + c.name
	if len(filter) > 0 {
		keys := make([]string, 0, len(filter))
		for k := range filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		args := fasthttp.AcquireArgs()
		defer fasthttp.ReleaseArgs(args)
		for _, k := range keys {
			args.Add(k, filter[k])
		}
		path += "?" + args.String()
	}

	var docs []T
	if err := c.client.do(ctx, fasthttp.MethodGet, path, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *collection[T, PT]) Get(ctx context.Context, id uint) (*T, error) {
	var doc T
	if err := c.client.do(ctx, fasthttp.MethodGet, c.itemPath(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *collection[T, PT]) Create(ctx context.Context, doc *T) error {
	p := PT(doc)
	p.SetID(0) // the server assigns the id
	p.SetVersion(1)
	p.Touch(time.Now())
	return c.client.do(ctx, fasthttp.MethodPost, "/"+c.name, doc, doc)
}

func (c *collection[T, PT]) Replace(ctx context.Context, id uint, doc *T) error {
	current, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.put(ctx, id, PT(current).GetVersion(), doc)
}

// CompareAndReplace checks the version with a read before the write. The
// server has no conditional PUT, so two writers racing between the read and
// the write are only excluded by callers holding the product lock.
func (c *collection[T, PT]) CompareAndReplace(ctx context.Context, id uint, expected int64, doc *T) error {
	current, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if v := PT(current).GetVersion(); v != expected {
		return fmt.Errorf("%s/%d at version %d, expected %d: %w", c.name, id, v, expected, repository.ErrConflict)
	}
	return c.put(ctx, id, expected, doc)
}

func (c *collection[T, PT]) put(ctx context.Context, id uint, version int64, doc *T) error {
	p := PT(doc)
	p.SetID(id)
	p.SetVersion(version + 1)
	p.Touch(time.Now())
	return c.client.do(ctx, fasthttp.MethodPut, c.itemPath(id), doc, doc)
}

func (c *collection[T, PT]) Delete(ctx context.Context, id uint) error {
	return c.client.do(ctx, fasthttp.MethodDelete, c.itemPath(id), nil, nil)
}

// Store is the repository.Store backed by the document server.
type Store struct {
	client       *Client
	products     *collection[model.Product, *model.Product]
	categories   *collection[model.Category, *model.Category]
	suppliers    *collection[model.Supplier, *model.Supplier]
	users        *collection[model.User, *model.User]
	transactions *collection[model.Transaction, *model.Transaction]
}

func NewStore(client *Client) *Store {
	return &Store{
		client:       client,
		products:     newCollection[model.Product, *model.Product](client, "products"),
		categories:   newCollection[model.Category, *model.Category](client, "categories"),
		suppliers:    newCollection[model.Supplier, *model.Supplier](client, "suppliers"),
		users:        newCollection[model.User, *model.User](client, "users"),
		transactions: newCollection[model.Transaction, *model.Transaction](client, "transactions"),
	}
}

func (s *Store) Products() repository.Collection[model.Product] { return s.products }
func (s *Store) Categories() repository.Collection[model.Category] { return s.categories }
func (s *Store) Suppliers() repository.Collection[model.Supplier] { return s.suppliers }
func (s *Store) Users() repository.Collection[model.User] { return s.users }
func (s *Store) Transactions() repository.Collection[model.Transaction] { return s.transactions }

// Transactional is false: each call is an independent HTTP request.
func (s *Store) Transactional() bool { return false }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(s)
}

func (s *Store) Close() error { return s.client.Close() }
