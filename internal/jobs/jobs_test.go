package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/idempotency"
	"go-inventory-ledger/internal/ledger"
	"go-inventory-ledger/internal/lock"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/repository/memory"
)

var _ ledger.Reconciler = (*Client)(nil)

type captureEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	ids   map[string]bool
}

func (e *captureEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var payload LedgerAppendPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, err
	}
	if e.ids == nil {
		e.ids = map[string]bool{}
	}
	if e.ids[payload.Key] {
		return nil, asynq.ErrTaskIDConflict
	}
	e.ids[payload.Key] = true
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: payload.Key, Queue: QueueDefault, Type: task.Type()}, nil
}

type countingObserver struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (o *countingObserver) ObserveJob(task string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

type stubReconciler struct {
	calls int
	err   error
}

func (r *stubReconciler) Reconcile(ctx context.Context, key string, rec model.Transaction) (*model.Transaction, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	rec.ID = 99
	return &rec, nil
}

func TestNewLedgerAppendTask(t *testing.T) {
	rec := model.Transaction{Type: model.TxSale, ProductID: 7, Quantity: 3}
	task, err := NewLedgerAppendTask(LedgerAppendPayload{Key: "k-1", Transaction: rec})
	require.NoError(t, err)
	assert.Equal(t, TaskLedgerAppend, task.Type())

	var payload LedgerAppendPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "k-1", payload.Key)
	assert.Equal(t, uint(7), payload.Transaction.ProductID)

	_, err = NewLedgerAppendTask(LedgerAppendPayload{Transaction: rec})
	assert.Error(t, err)
}

func TestClientEnqueueDeduplicatesByKey(t *testing.T) {
	enq := &captureEnqueuer{}
	client := NewClientWith(enq, zap.NewNop())
	rec := model.Transaction{Type: model.TxSale, ProductID: 7, Quantity: 3}

	require.NoError(t, client.EnqueueLedgerAppend(context.Background(), "k-1", rec))
	require.NoError(t, client.EnqueueLedgerAppend(context.Background(), "k-1", rec))
	require.NoError(t, client.EnqueueLedgerAppend(context.Background(), "k-2", rec))
	assert.Len(t, enq.tasks, 2)
	assert.NoError(t, client.Close())
}

func TestClientEnqueueAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, zap.NewNop())
	defer client.Close()

	rec := model.Transaction{Type: model.TxPurchase, ProductID: 3, Quantity: 1}
	require.NoError(t, client.EnqueueLedgerAppend(context.Background(), "k-redis", rec))
	// A second enqueue for the same key is absorbed.
	require.NoError(t, client.EnqueueLedgerAppend(context.Background(), "k-redis", rec))
}

func TestHandleMalformedPayloadSkipsRetry(t *testing.T) {
	obs := &countingObserver{}
	rec := &stubReconciler{}
	job := NewLedgerAppendJob(rec, obs, zap.NewNop())

	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerAppend, []byte("{not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Zero(t, rec.calls)
	assert.Equal(t, 1, obs.failed)
}

func TestHandleReturnsReconcileError(t *testing.T) {
	obs := &countingObserver{}
	rec := &stubReconciler{err: repository.ErrUnavailable}
	job := NewLedgerAppendJob(rec, obs, zap.NewNop())

	task, err := NewLedgerAppendTask(LedgerAppendPayload{Key: "k", Transaction: model.Transaction{ProductID: 1}})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, repository.ErrUnavailable)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 1, obs.failed)
}

// A sale whose record append fails is queued for repair; running the queued
// task appends the record exactly once and leaves stock alone.
func TestPartialFailureRepairedByJob(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	product := &model.Product{Name: "Widget", SKU: "W-1", Price: decimal.NewFromInt(5), StockQuantity: 10}
	require.NoError(t, store.Products().Create(ctx, product))

	enq := &captureEnqueuer{}
	l := ledger.New(store, lock.NewKeyedMutex(), idempotency.NewMemoryStore(),
		ledger.Config{CASRetries: 3, LockWait: time.Second, IdempotencyTTL: time.Hour},
		zap.NewNop(),
		ledger.WithReconciler(NewClientWith(enq, zap.NewNop())),
	)

	store.FailTransactionCreate(repository.ErrUnavailable)
	_, err := l.SellStock(ctx, product.ID, 4, ledger.Options{IdempotencyKey: "sale-1"})
	require.ErrorIs(t, err, ledger.ErrPartialFailure)
	require.Len(t, enq.tasks, 1)
	store.FailTransactionCreate(nil)

	obs := &countingObserver{}
	job := NewLedgerAppendJob(l, obs, zap.NewNop())
	require.NoError(t, job.Handle(ctx, enq.tasks[0]))
	require.NoError(t, job.Handle(ctx, enq.tasks[0]))
	assert.Equal(t, 2, obs.ok)

	txs, err := store.Transactions().List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "sale-1", txs[0].IdempotencyKey)
	assert.Equal(t, 4, txs[0].Quantity)

	got, err := store.Products().Get(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.StockQuantity)
}
