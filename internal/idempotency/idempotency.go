// Package idempotency remembers the outcome of stock mutations by key so a
// retried request is answered without moving stock twice.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-inventory-ledger/internal/model"
)

var ErrNotFound = errors.New("idempotency entry not found")

type State string

const (
	// StateApplied means stock moved but the transaction record is not
	// known to be stored.
	StateApplied State = "applied"
	// StateRecorded means both writes completed.
	StateRecorded State = "recorded"
)

// Entry is what a key resolved to. Transaction is the record that was (or
// is to be) appended and Product the stock level right after the mutation.
type Entry struct {
	State       State                 `json:"state"`
	ProductID   uint                  `json:"productId"`
	Type        model.TransactionType `json:"type"`
	Quantity    int                   `json:"quantity"`
	Product     model.Product         `json:"product"`
	Transaction model.Transaction     `json:"transaction"`
}

// Matches reports whether the entry was created for the same request.
func (e *Entry) Matches(productID uint, typ model.TransactionType, quantity int) bool {
	return e.ProductID == productID && e.Type == typ && e.Quantity == quantity
}

type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// sweepInterval bounds how often Put scans for expired entries.
const sweepInterval = time.Minute

// MemoryStore keeps entries in process. Expired entries are dropped when read
// and swept from Put at most once per sweepInterval, so keys that are never
// read again do not accumulate.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]memoryItem
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (item memoryItem) expired(now time.Time) bool {
	return !item.expiresAt.IsZero() && !now.Before(item.expiresAt)
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if item.expired(s.now()) {
		delete(s.items, key)
		return nil, ErrNotFound
	}
	entry := item.entry
	return &entry, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
		s.nextSweep = now.Add(sweepInterval)
	}
	item := memoryItem{entry: entry}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	s.items[key] = item
	return nil
}

// sweep must be called with mu held.
func (s *MemoryStore) sweep(now time.Time) {
	for key, item := range s.items {
		if item.expired(now) {
			delete(s.items, key)
		}
	}
}

// Len reports how many entries are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
