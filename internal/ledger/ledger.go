// Package ledger applies stock mutations and keeps the transaction log
// consistent with product stock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/idempotency"
	"go-inventory-ledger/internal/lock"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/pkg/validator"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrentUpdate means the product kept changing under us, or its
	// lock could not be taken in time.
	ErrConcurrentUpdate = errors.New("product updated concurrently, try again")
	// ErrPartialFailure means stock moved but the transaction record was not
	// stored. Retrying with the same idempotency key completes it.
	ErrPartialFailure       = errors.New("stock updated but transaction not recorded")
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")
)

const maxKeyLength = 64

// Outcome labels for Metrics.
const (
	OutcomeApplied      = "applied"
	OutcomeReplayed     = "replayed"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
	OutcomePartial      = "partial"
	OutcomeInsufficient = "insufficient_stock"
)

// Notifier is told about every applied mutation.
type Notifier interface {
	StockChanged(product model.Product, tx model.Transaction)
}

// Reconciler schedules the append of a record lost to a partial failure.
type Reconciler interface {
	EnqueueLedgerAppend(ctx context.Context, key string, tx model.Transaction) error
}

type Metrics interface {
	ObserveMutation(typ model.TransactionType, outcome string)
	LedgerInconsistency()
}

type Config struct {
	// CASRetries is how many times a version conflict is re-read and retried.
	CASRetries int
	// LockWait bounds how long a mutation waits for the product lock.
	LockWait       time.Duration
	IdempotencyTTL time.Duration
}

// Options carries the optional parts of a mutation request.
type Options struct {
	IdempotencyKey string
	SupplierID     *uint
	UserID         *uint
	Description    string
	Note           string
}

// Result is the product right after the mutation and the appended record.
// Replayed is set when the key had already been applied.
type Result struct {
	Product     model.Product     `json:"product"`
	Transaction model.Transaction `json:"transaction"`
	Replayed    bool              `json:"replayed"`
}

type Ledger struct {
	store      repository.Store
	locker     lock.Locker
	keys       idempotency.Store
	cfg        Config
	logger     *zap.Logger
	notifier   Notifier
	reconciler Reconciler
	metrics    Metrics
	now        func() time.Time
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option     { return func(l *Ledger) { l.notifier = n } }
func WithReconciler(r Reconciler) Option { return func(l *Ledger) { l.reconciler = r } }
func WithMetrics(m Metrics) Option       { return func(l *Ledger) { l.metrics = m } }
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store repository.Store, locker lock.Locker, keys idempotency.Store, cfg Config, logger *zap.Logger, opts ...Option) *Ledger {
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = 5
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:  store,
		locker: locker,
		keys:   keys,
		cfg:    cfg,
		logger: logger.Named("ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ReceiveStock adds quantity to the product's stock and records a purchase.
func (l *Ledger) ReceiveStock(ctx context.Context, productID uint, quantity int, opts Options) (*Result, error) {
	return l.mutate(ctx, model.TxPurchase, productID, quantity, opts)
}

// SellStock removes quantity from the product's stock and records a sale.
// It fails with ErrInsufficientStock when quantity exceeds the stock.
func (l *Ledger) SellStock(ctx context.Context, productID uint, quantity int, opts Options) (*Result, error) {
	return l.mutate(ctx, model.TxSale, productID, quantity, opts)
}

func (l *Ledger) mutate(ctx context.Context, typ model.TransactionType, productID uint, quantity int, opts Options) (*Result, error) {
	if err := validateRequest(productID, quantity, opts); err != nil {
		l.observe(typ, OutcomeRejected)
		return nil, err
	}
	key := opts.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	log := l.logger.With(
		zap.Uint("product_id", productID),
		zap.String("type", string(typ)),
		zap.Int("quantity", quantity),
		zap.String("idempotency_key", key),
	)

	unlock, err := l.lockMutation(ctx, key, productID)
	if err != nil {
		l.observe(typ, OutcomeFailed)
		return nil, err
	}
	defer unlock()

	prior, err := l.lookup(ctx, key, log)
	if err != nil {
		l.observe(typ, OutcomeFailed)
		return nil, err
	}
	if prior != nil {
		if !prior.Matches(productID, typ, quantity) {
			l.observe(typ, OutcomeRejected)
			return nil, fmt.Errorf("ledger: key %s: %w", key, ErrIdempotencyKeyReused)
		}
		if prior.State == idempotency.StateRecorded {
			l.observe(typ, OutcomeReplayed)
			return &Result{Product: prior.Product, Transaction: prior.Transaction, Replayed: true}, nil
		}
		// Stock already moved on an earlier attempt; only the record is missing.
		log.Info("resuming partially applied mutation")
		rec, err := l.appendRecord(ctx, l.store, key, *prior)
		if err != nil {
			return nil, l.partialFailure(ctx, key, prior.Transaction, err, log)
		}
		l.observe(typ, OutcomeReplayed)
		return &Result{Product: prior.Product, Transaction: *rec, Replayed: true}, nil
	}

	var result *Result
	if l.store.Transactional() {
		err = l.store.WithinTx(ctx, func(tx repository.Store) error {
			product, err := l.applyStock(ctx, tx, typ, productID, quantity)
			if err != nil {
				return err
			}
			rec := l.newRecord(typ, product, quantity, key, opts)
			if err := tx.Transactions().Create(ctx, &rec); err != nil {
				return err
			}
			result = &Result{Product: *product, Transaction: rec}
			return nil
		})
		if err != nil {
			l.observeErr(typ, err)
			return nil, err
		}
		l.remember(ctx, key, idempotency.StateRecorded, result, log)
	} else {
		product, err := l.applyStock(ctx, l.store, typ, productID, quantity)
		if err != nil {
			l.observeErr(typ, err)
			return nil, err
		}
		rec := l.newRecord(typ, product, quantity, key, opts)
		result = &Result{Product: *product, Transaction: rec}
		l.remember(ctx, key, idempotency.StateApplied, result, log)

		if err := l.store.Transactions().Create(ctx, &rec); err != nil {
			return nil, l.partialFailure(ctx, key, rec, err, log)
		}
		result.Transaction = rec
		l.remember(ctx, key, idempotency.StateRecorded, result, log)
	}

	l.observe(typ, OutcomeApplied)
	if l.notifier != nil {
		l.notifier.StockChanged(result.Product, result.Transaction)
	}
	log.Info("stock mutation applied",
		zap.Int("stock_quantity", result.Product.StockQuantity),
		zap.Uint("transaction_id", result.Transaction.ID),
	)
	return result, nil
}

func validateRequest(productID uint, quantity int, opts Options) error {
	var errs []*validator.ErrorResponse
	if productID == 0 {
		errs = append(errs, &validator.ErrorResponse{FailedField: "productId", Tag: "required"})
	}
	if quantity <= 0 {
		errs = append(errs, &validator.ErrorResponse{FailedField: "quantity", Tag: "gt", Value: "0"})
	}
	if len(opts.IdempotencyKey) > maxKeyLength {
		errs = append(errs, &validator.ErrorResponse{FailedField: "idempotencyKey", Tag: "max", Value: fmt.Sprint(maxKeyLength)})
	}
	if len(errs) > 0 {
		return &validator.ValidationError{Errors: errs}
	}
	return nil
}

// lockMutation takes the idempotency-key lock, then the product lock, so one
// key can never be applied to two products at once. Always in that order.
func (l *Ledger) lockMutation(ctx context.Context, key string, productID uint) (func(), error) {
	unlockKey, err := l.lockKey(ctx, lock.IdempotencyKey(key), productID)
	if err != nil {
		return nil, err
	}
	unlockProduct, err := l.lockKey(ctx, lock.ProductKey(productID), productID)
	if err != nil {
		unlockKey()
		return nil, err
	}
	return func() {
		unlockProduct()
		unlockKey()
	}, nil
}

func (l *Ledger) lockKey(ctx context.Context, key string, productID uint) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, l.cfg.LockWait)
	defer cancel()
	unlock, err := l.locker.Lock(lockCtx, key)
	switch {
	case err == nil:
		return unlock, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, lock.ErrNotAcquired):
		return nil, fmt.Errorf("ledger: product %d: %w: %w", productID, ErrConcurrentUpdate, err)
	default:
		return nil, fmt.Errorf("ledger: product %d lock: %w: %w", productID, repository.ErrUnavailable, err)
	}
}

// lookup finds what key already did, first in the idempotency store and then
// among stored transactions. It returns nil for a new key.
func (l *Ledger) lookup(ctx context.Context, key string, log *zap.Logger) (*idempotency.Entry, error) {
	entry, err := l.keys.Get(ctx, key)
	switch {
	case err == nil:
		return entry, nil
	case !errors.Is(err, idempotency.ErrNotFound):
		log.Warn("idempotency store unavailable, falling back to transaction lookup", zap.Error(err))
	}

	rec, err := repository.FindOne(ctx, l.store.Transactions(), repository.Filter{"idempotencyKey": key})
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup key %s: %w", key, err)
	}
	product, err := l.store.Products().Get(ctx, rec.ProductID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("ledger: lookup key %s: %w", key, err)
	}
	found := &idempotency.Entry{
		State:       idempotency.StateRecorded,
		ProductID:   rec.ProductID,
		Type:        rec.Type,
		Quantity:    rec.Quantity,
		Transaction: *rec,
	}
	if product != nil {
		found.Product = *product
	}
	return found, nil
}

// applyStock moves the product's stock with compare-and-replace, re-reading
// and retrying on version conflicts.
func (l *Ledger) applyStock(ctx context.Context, store repository.Store, typ model.TransactionType, productID uint, quantity int) (*model.Product, error) {
	products := store.Products()
	for attempt := 0; attempt <= l.cfg.CASRetries; attempt++ {
		product, err := products.Get(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("ledger: product %d: %w", productID, err)
		}

		newStock := product.StockQuantity + quantity
		if typ == model.TxSale {
			if quantity > product.StockQuantity {
				return nil, fmt.Errorf("ledger: product %d has %d, requested %d: %w",
					productID, product.StockQuantity, quantity, ErrInsufficientStock)
			}
			newStock = product.StockQuantity - quantity
		}

		expected := product.Version
		product.StockQuantity = newStock
		err = products.CompareAndReplace(ctx, productID, expected, product)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("ledger: update product %d: %w", productID, err)
		}
		l.logger.Debug("version conflict, retrying",
			zap.Uint("product_id", productID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("ledger: product %d after %d retries: %w", productID, l.cfg.CASRetries, ErrConcurrentUpdate)
}

func (l *Ledger) newRecord(typ model.TransactionType, product *model.Product, quantity int, key string, opts Options) model.Transaction {
	rec := model.Transaction{
		Type:           typ,
		ProductID:      product.ID,
		Quantity:       quantity,
		TotalPrice:     product.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Date:           model.FormatDate(l.now()),
		Status:         model.TxCompleted,
		Description:    opts.Description,
		Note:           opts.Note,
		UserID:         opts.UserID,
		IdempotencyKey: key,
	}
	if typ == model.TxPurchase {
		rec.SupplierID = opts.SupplierID
	}
	return rec
}

// appendRecord stores the entry's transaction unless one with the same key
// already exists, then marks the key recorded. Callers hold the product lock.
func (l *Ledger) appendRecord(ctx context.Context, store repository.Store, key string, entry idempotency.Entry) (*model.Transaction, error) {
	existing, err := repository.FindOne(ctx, store.Transactions(), repository.Filter{"idempotencyKey": key})
	switch {
	case err == nil:
		entry.Transaction = *existing
	case repository.IsNotFound(err):
		rec := entry.Transaction
		rec.IdempotencyKey = key
		if err := store.Transactions().Create(ctx, &rec); err != nil {
			return nil, err
		}
		entry.Transaction = rec
	default:
		return nil, err
	}

	entry.State = idempotency.StateRecorded
	if err := l.keys.Put(ctx, key, entry, l.cfg.IdempotencyTTL); err != nil {
		l.logger.Warn("failed to mark idempotency key recorded",
			zap.String("idempotency_key", key), zap.Error(err))
	}
	return &entry.Transaction, nil
}

// Reconcile appends the record of a partially applied mutation. It is safe
// to run more than once for the same key.
func (l *Ledger) Reconcile(ctx context.Context, key string, rec model.Transaction) (*model.Transaction, error) {
	unlock, err := l.lockMutation(ctx, key, rec.ProductID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry, err := l.keys.Get(ctx, key)
	if err != nil {
		entry = &idempotency.Entry{
			ProductID:   rec.ProductID,
			Type:        rec.Type,
			Quantity:    rec.Quantity,
			Transaction: rec,
		}
		if product, perr := l.store.Products().Get(ctx, rec.ProductID); perr == nil {
			entry.Product = *product
		}
	}
	if entry.State == idempotency.StateRecorded {
		return &entry.Transaction, nil
	}

	stored, err := l.appendRecord(ctx, l.store, key, *entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: reconcile key %s: %w", key, err)
	}
	l.logger.Info("ledger inconsistency repaired",
		zap.Uint("product_id", rec.ProductID),
		zap.String("idempotency_key", key),
		zap.Uint("transaction_id", stored.ID),
	)
	return stored, nil
}

func (l *Ledger) partialFailure(ctx context.Context, key string, rec model.Transaction, cause error, log *zap.Logger) error {
	log.Error("ledger inconsistency: stock updated but transaction not recorded", zap.Error(cause))
	l.observe(rec.Type, OutcomePartial)
	if l.metrics != nil {
		l.metrics.LedgerInconsistency()
	}
	if l.reconciler != nil {
		if err := l.reconciler.EnqueueLedgerAppend(ctx, key, rec); err != nil {
			log.Error("failed to enqueue ledger repair", zap.Error(err))
		}
	}
	return fmt.Errorf("ledger: product %d key %s: %w: %w", rec.ProductID, key, ErrPartialFailure, cause)
}

func (l *Ledger) remember(ctx context.Context, key string, state idempotency.State, result *Result, log *zap.Logger) {
	entry := idempotency.Entry{
		State:       state,
		ProductID:   result.Transaction.ProductID,
		Type:        result.Transaction.Type,
		Quantity:    result.Transaction.Quantity,
		Product:     result.Product,
		Transaction: result.Transaction,
	}
	if err := l.keys.Put(ctx, key, entry, l.cfg.IdempotencyTTL); err != nil {
		log.Warn("failed to store idempotency entry", zap.String("state", string(state)), zap.Error(err))
	}
}

func (l *Ledger) observe(typ model.TransactionType, outcome string) {
	if l.metrics != nil {
		l.metrics.ObserveMutation(typ, outcome)
	}
}

func (l *Ledger) observeErr(typ model.TransactionType, err error) {
	if errors.Is(err, ErrInsufficientStock) {
		l.observe(typ, OutcomeInsufficient)
		return
	}
	l.observe(typ, OutcomeFailed)
}
