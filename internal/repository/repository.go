// Package repository defines the storage boundary: one document collection
// per entity, addressed by store-assigned IDs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-inventory-ledger/internal/model"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned by CompareAndReplace when the stored version
	// no longer matches the expected one.
	ErrConflict = errors.New("version conflict")
)

// Document is implemented by every model through the embedded BaseModel.
type Document interface {
	GetID() uint
	SetID(id uint)
	GetVersion() int64
	SetVersion(v int64)
	Touch(now time.Time)
}

// DocumentPtr constrains PT to be *T and a Document, so collections can be
// generic over value types.
type DocumentPtr[T any] interface {
	*T
	Document
}

// Filter is a set of exact-match conditions keyed by JSON field name.
type Filter map[string]string

type Collection[T any] interface {
	List(ctx context.Context, filter Filter) ([]T, error)
	Get(ctx context.Context, id uint) (*T, error)
	// Create stores doc and writes the assigned ID and version back into it.
	Create(ctx context.Context, doc *T) error
	// Replace overwrites the document unconditionally and bumps its version.
	Replace(ctx context.Context, id uint, doc *T) error
	// CompareAndReplace overwrites the document only if its stored version is
	// expected. It returns ErrConflict otherwise.
	CompareAndReplace(ctx context.Context, id uint, expected int64, doc *T) error
	Delete(ctx context.Context, id uint) error
}

// Store bundles the entity collections of one backend.
type Store interface {
	Products() Collection[model.Product]
	Categories() Collection[model.Category]
	Suppliers() Collection[model.Supplier]
	Users() Collection[model.User]
	Transactions() Collection[model.Transaction]

	// Transactional reports whether WithinTx gives all-or-nothing semantics.
	Transactional() bool
	// WithinTx runs fn against a store scoped to one unit of work. Backends
	// without transactions call fn with the receiver.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}

// FindOne returns the first document matching filter, or ErrNotFound.
func FindOne[T any](ctx context.Context, c Collection[T], filter Filter) (*T, error) {
	docs, err := c.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, filter)
	}
	return &docs[0], nil
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
