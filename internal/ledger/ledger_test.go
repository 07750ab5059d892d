package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-inventory-ledger/internal/idempotency"
	"go-inventory-ledger/internal/lock"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/repository/memory"
	"go-inventory-ledger/pkg/validator"
)

var fixedNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

type fakeMetrics struct {
	mu              sync.Mutex
	outcomes        map[string]int
	inconsistencies int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: make(map[string]int)}
}

func (m *fakeMetrics) ObserveMutation(typ model.TransactionType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[string(typ)+":"+outcome]++
}

func (m *fakeMetrics) LedgerInconsistency() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inconsistencies++
}

type fakeReconciler struct {
	mu   sync.Mutex
	keys []string
	recs []model.Transaction
}

func (r *fakeReconciler) EnqueueLedgerAppend(ctx context.Context, key string, tx model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.recs = append(r.recs, tx)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	products []model.Product
}

func (n *fakeNotifier) StockChanged(product model.Product, tx model.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.products = append(n.products, product)
}

// noLock lets every caller through, leaving compare-and-replace as the only
// guard.
type noLock struct{}

func (noLock) Lock(ctx context.Context, key string) (func(), error) { return func() {}, nil }

type harness struct {
	ledger     *Ledger
	store      *memory.Store
	keys       *idempotency.MemoryStore
	metrics    *fakeMetrics
	reconciler *fakeReconciler
	notifier   *fakeNotifier
}

func newHarness(t *testing.T, store repository.Store, locker lock.Locker) *harness {
	t.Helper()
	mem, _ := store.(*memory.Store)
	h := &harness{
		store:      mem,
		keys:       idempotency.NewMemoryStore(),
		metrics:    newFakeMetrics(),
		reconciler: &fakeReconciler{},
		notifier:   &fakeNotifier{},
	}
	h.ledger = New(store, locker, h.keys, Config{CASRetries: 5, LockWait: 5 * time.Second}, nil,
		WithMetrics(h.metrics),
		WithReconciler(h.reconciler),
		WithNotifier(h.notifier),
		WithClock(func() time.Time { return fixedNow }),
	)
	return h
}

func newMemoryHarness(t *testing.T) *harness {
	return newHarness(t, memory.NewStore(), lock.NewKeyedMutex())
}

func seedProduct(t *testing.T, store repository.Store, stock int, price string) model.Product {
	t.Helper()
	p := model.Product{
		Name:          "Widget",
		SKU:           "WID-" + price,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
	require.NoError(t, store.Products().Create(context.Background(), &p))
	return p
}

func stockOf(t *testing.T, store repository.Store, id uint) int {
	t.Helper()
	p, err := store.Products().Get(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func transactionsOf(t *testing.T, store repository.Store) []model.Transaction {
	t.Helper()
	txs, err := store.Transactions().List(context.Background(), nil)
	require.NoError(t, err)
	return txs
}

func TestSellStock_ExactStockLeavesZero(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		seedProduct(t, h.store, 1, "1.00")
	}
	p := seedProduct(t, h.store, 5, "9.99")
	require.Equal(t, uint(7), p.ID)

	res, err := h.ledger.SellStock(ctx, 7, 5, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Product.StockQuantity)
	assert.Equal(t, 0, stockOf(t, h.store, 7))
	assert.False(t, res.Replayed)

	txs := transactionsOf(t, h.store)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxSale, txs[0].Type)
	assert.Equal(t, uint(7), txs[0].ProductID)
	assert.Equal(t, 5, txs[0].Quantity)
	assert.True(t, txs[0].TotalPrice.Equal(decimal.RequireFromString("49.95")))
	assert.Equal(t, model.TxCompleted, txs[0].Status)
	assert.Equal(t, model.FormatDate(fixedNow), txs[0].Date)
	assert.NotEmpty(t, txs[0].IdempotencyKey)
	assert.Equal(t, 1, h.metrics.outcomes["sale:applied"])
	assert.Len(t, h.notifier.products, 1)
}

func TestSellStock_InsufficientStock(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 3, "2.50")

	_, err := h.ledger.SellStock(context.Background(), p.ID, 4, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	assert.Equal(t, 3, stockOf(t, h.store, p.ID))
	assert.Empty(t, transactionsOf(t, h.store))
	assert.Equal(t, 1, h.metrics.outcomes["sale:insufficient_stock"])
	assert.Empty(t, h.notifier.products)
}

func TestReceiveStock_RecordsPurchaseWithSupplier(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 2, "3.10")
	supplierID, userID := uint(4), uint(9)

	res, err := h.ledger.ReceiveStock(context.Background(), p.ID, 8, Options{
		SupplierID:  &supplierID,
		UserID:      &userID,
		Description: "restock",
		Note:        "pallet 3",
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Product.StockQuantity)
	assert.Equal(t, 10, stockOf(t, h.store, p.ID))
	tx := res.Transaction
	assert.Equal(t, model.TxPurchase, tx.Type)
	assert.True(t, tx.TotalPrice.Equal(decimal.RequireFromString("24.80")))
	require.NotNil(t, tx.SupplierID)
	assert.Equal(t, supplierID, *tx.SupplierID)
	require.NotNil(t, tx.UserID)
	assert.Equal(t, userID, *tx.UserID)
	assert.Equal(t, "restock", tx.Description)
	assert.Equal(t, "pallet 3", tx.Note)
}

func TestSellStock_DropsSupplier(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 2, "1.00")
	supplierID := uint(4)

	res, err := h.ledger.SellStock(context.Background(), p.ID, 1, Options{SupplierID: &supplierID})
	require.NoError(t, err)
	assert.Nil(t, res.Transaction.SupplierID)
}

func TestMutation_ProductNotFound(t *testing.T) {
	h := newMemoryHarness(t)

	_, err := h.ledger.SellStock(context.Background(), 42, 1, Options{})
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = h.ledger.ReceiveStock(context.Background(), 42, 1, Options{})
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	assert.Empty(t, transactionsOf(t, h.store))
}

func TestMutation_ValidationBeforeStore(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 5, "1.00")

	cases := []struct {
		name      string
		productID uint
		quantity  int
		key       string
	}{
		{"zero quantity", p.ID, 0, ""},
		{"negative quantity", p.ID, -3, ""},
		{"missing product id", 0, 1, ""},
		{"key too long", p.ID, 1, string(make([]byte, 65))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.ledger.SellStock(context.Background(), tc.productID, tc.quantity, Options{IdempotencyKey: tc.key})
			require.Error(t, err)
			assert.True(t, validator.IsValidationError(err))
		})
	}
	assert.Equal(t, 5, stockOf(t, h.store, p.ID))
	assert.Empty(t, transactionsOf(t, h.store))
}

func TestMutation_IdempotentReplay(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 10, "1.00")
	ctx := context.Background()

	first, err := h.ledger.SellStock(ctx, p.ID, 3, Options{IdempotencyKey: "order-1"})
	require.NoError(t, err)
	second, err := h.ledger.SellStock(ctx, p.ID, 3, Options{IdempotencyKey: "order-1"})
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, 7, second.Product.StockQuantity)
	assert.Equal(t, 7, stockOf(t, h.store, p.ID))
	assert.Len(t, transactionsOf(t, h.store), 1)
	assert.Equal(t, 1, h.metrics.outcomes["sale:replayed"])
}

func TestMutation_ReplayFromStoredTransaction(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 10, "1.00")
	ctx := context.Background()

	_, err := h.ledger.ReceiveStock(ctx, p.ID, 2, Options{IdempotencyKey: "po-77"})
	require.NoError(t, err)

	// A fresh ledger has no idempotency entries but finds the stored record.
	other := New(h.store, lock.NewKeyedMutex(), idempotency.NewMemoryStore(), Config{}, nil)
	res, err := other.ReceiveStock(ctx, p.ID, 2, Options{IdempotencyKey: "po-77"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, 12, stockOf(t, h.store, p.ID))
	assert.Len(t, transactionsOf(t, h.store), 1)
}

func TestMutation_KeyReusedForDifferentRequest(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 10, "1.00")
	ctx := context.Background()

	_, err := h.ledger.SellStock(ctx, p.ID, 3, Options{IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = h.ledger.SellStock(ctx, p.ID, 4, Options{IdempotencyKey: "k"})
	assert.True(t, errors.Is(err, ErrIdempotencyKeyReused))
	_, err = h.ledger.ReceiveStock(ctx, p.ID, 3, Options{IdempotencyKey: "k"})
	assert.True(t, errors.Is(err, ErrIdempotencyKeyReused))

	assert.Equal(t, 7, stockOf(t, h.store, p.ID))
	assert.Len(t, transactionsOf(t, h.store), 1)
}

func TestMutation_PartialFailureThenRetry(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 10, "2.00")
	ctx := context.Background()

	storeErr := errors.New("disk full")
	h.store.FailTransactionCreate(storeErr)

	_, err := h.ledger.SellStock(ctx, p.ID, 4, Options{IdempotencyKey: "retry-me"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialFailure))
	assert.True(t, errors.Is(err, storeErr))

	assert.Equal(t, 6, stockOf(t, h.store, p.ID))
	assert.Empty(t, transactionsOf(t, h.store))
	assert.Equal(t, 1, h.metrics.inconsistencies)
	require.Len(t, h.reconciler.keys, 1)
	assert.Equal(t, "retry-me", h.reconciler.keys[0])
	assert.Equal(t, 4, h.reconciler.recs[0].Quantity)

	entry, err := h.keys.Get(ctx, "retry-me")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateApplied, entry.State)

	h.store.FailTransactionCreate(nil)
	res, err := h.ledger.SellStock(ctx, p.ID, 4, Options{IdempotencyKey: "retry-me"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, 6, stockOf(t, h.store, p.ID))

	txs := transactionsOf(t, h.store)
	require.Len(t, txs, 1)
	assert.Equal(t, "retry-me", txs[0].IdempotencyKey)
	assert.True(t, txs[0].TotalPrice.Equal(decimal.RequireFromString("8.00")))

	entry, err = h.keys.Get(ctx, "retry-me")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateRecorded, entry.State)
}

func TestReconcile_AppendsOnce(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 10, "2.00")
	ctx := context.Background()

	h.store.FailTransactionCreate(errors.New("timeout"))
	_, err := h.ledger.ReceiveStock(ctx, p.ID, 5, Options{IdempotencyKey: "job-1"})
	require.True(t, errors.Is(err, ErrPartialFailure))
	h.store.FailTransactionCreate(nil)

	rec := h.reconciler.recs[0]
	stored, err := h.ledger.Reconcile(ctx, "job-1", rec)
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)

	again, err := h.ledger.Reconcile(ctx, "job-1", rec)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, again.ID)

	assert.Len(t, transactionsOf(t, h.store), 1)
	assert.Equal(t, 15, stockOf(t, h.store, p.ID))
}

func TestMutation_ConcurrentSalesNeverOversell(t *testing.T) {
	for name, locker := range map[string]lock.Locker{
		"keyed mutex": lock.NewKeyedMutex(),
		"cas only":    noLock{},
	} {
		t.Run(name, func(t *testing.T) {
			store := memory.NewStore()
			h := newHarness(t, store, locker)
			h.ledger.cfg.CASRetries = 100
			p := seedProduct(t, store, 10, "1.00")

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
			)
			for i := 0; i < 25; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.ledger.SellStock(context.Background(), p.ID, 1, Options{})
					if err == nil {
						mu.Lock()
						succeeded++
						mu.Unlock()
						return
					}
					assert.True(t, errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrConcurrentUpdate), err.Error())
				}()
			}
			wg.Wait()

			stock := stockOf(t, store, p.ID)
			assert.GreaterOrEqual(t, stock, 0)
			assert.Equal(t, 10-succeeded, stock)
			assert.Len(t, transactionsOf(t, store), succeeded)
		})
	}
}

func TestMutation_TwoSalesExceedingStock(t *testing.T) {
	h := newMemoryHarness(t)
	p := seedProduct(t, h.store, 10, "1.00")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.ledger.SellStock(context.Background(), p.ID, 6, Options{})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, ErrInsufficientStock))
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, stockOf(t, h.store, p.ID))
}

type conflictingProducts struct {
	repository.Collection[model.Product]
}

func (conflictingProducts) CompareAndReplace(ctx context.Context, id uint, expected int64, doc *model.Product) error {
	return repository.ErrConflict
}

type conflictingStore struct {
	*memory.Store
}

func (s conflictingStore) Products() repository.Collection[model.Product] {
	return conflictingProducts{s.Store.Products()}
}

func TestMutation_RetriesExhausted(t *testing.T) {
	mem := memory.NewStore()
	p := seedProduct(t, mem, 10, "1.00")
	h := newHarness(t, conflictingStore{mem}, lock.NewKeyedMutex())

	_, err := h.ledger.SellStock(context.Background(), p.ID, 1, Options{})
	assert.True(t, errors.Is(err, ErrConcurrentUpdate))
	assert.Equal(t, 10, stockOf(t, mem, p.ID))
	assert.Empty(t, transactionsOf(t, mem))
}

// txStore reports itself transactional so the all-or-nothing path is taken.
type txStore struct {
	*memory.Store
}

func (s txStore) Transactional() bool { return true }

func TestMutation_TransactionalStoreReportsStoreError(t *testing.T) {
	mem := memory.NewStore()
	p := seedProduct(t, mem, 10, "1.00")
	h := newHarness(t, txStore{mem}, lock.NewKeyedMutex())
	mem.FailTransactionCreate(repository.ErrUnavailable)

	_, err := h.ledger.ReceiveStock(context.Background(), p.ID, 1, Options{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPartialFailure))
	assert.True(t, errors.Is(err, repository.ErrUnavailable))
	assert.Empty(t, h.reconciler.keys)
	assert.Zero(t, h.metrics.inconsistencies)
}

func TestMutation_LockTimeout(t *testing.T) {
	locker := lock.NewKeyedMutex()
	h := newHarness(t, memory.NewStore(), locker)
	h.ledger.cfg.LockWait = 20 * time.Millisecond
	p := seedProduct(t, h.store, 10, "1.00")

	unlock, err := locker.Lock(context.Background(), lock.ProductKey(p.ID))
	require.NoError(t, err)
	defer unlock()

	_, err = h.ledger.SellStock(context.Background(), p.ID, 1, Options{})
	assert.True(t, errors.Is(err, ErrConcurrentUpdate))
	assert.Equal(t, 10, stockOf(t, h.store, p.ID))
}

func TestMutation_SameKeyTwoProductsConcurrently(t *testing.T) {
	h := newMemoryHarness(t)
	a := seedProduct(t, h.store, 10, "1.00")
	b := seedProduct(t, h.store, 10, "2.00")

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, 2)
	)
	for i, id := range []uint{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			<-start
			_, results[i] = h.ledger.SellStock(context.Background(), id, 3, Options{IdempotencyKey: "shared"})
		}(i, id)
	}
	close(start)
	wg.Wait()

	var applied, reused int
	for _, err := range results {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ErrIdempotencyKeyReused):
			reused++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, reused)
	assert.Len(t, transactionsOf(t, h.store), 1)
	assert.Equal(t, 17, stockOf(t, h.store, a.ID)+stockOf(t, h.store, b.ID))
}

func TestMutation_WaitsForKeyLock(t *testing.T) {
	locker := lock.NewKeyedMutex()
	h := newHarness(t, memory.NewStore(), locker)
	h.ledger.cfg.LockWait = 20 * time.Millisecond
	p := seedProduct(t, h.store, 10, "1.00")

	unlock, err := locker.Lock(context.Background(), lock.IdempotencyKey("busy"))
	require.NoError(t, err)
	defer unlock()

	_, err = h.ledger.SellStock(context.Background(), p.ID, 1, Options{IdempotencyKey: "busy"})
	assert.True(t, errors.Is(err, ErrConcurrentUpdate))
	assert.Equal(t, 10, stockOf(t, h.store, p.ID))
	assert.Equal(t, 1, locker.Len())
}
