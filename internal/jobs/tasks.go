package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/model"
)

const (
	// QueueDefault is the queue every ledger task goes to.
	QueueDefault = "default"
	// TaskLedgerAppend re-appends a transaction record lost to a partial failure.
	TaskLedgerAppend = "ledger:append"
)

// LedgerAppendPayload names the mutation by its idempotency key and carries
// the record that should have been appended.
type LedgerAppendPayload struct {
	Key         string            `json:"key"`
	Transaction model.Transaction `json:"transaction"`
}

// NewLedgerAppendTask builds the repair task. The task id is derived from the
// key, so a mutation is queued for repair at most once at a time.
func NewLedgerAppendTask(payload LedgerAppendPayload) (*asynq.Task, error) {
	if payload.Key == "" {
		return nil, fmt.Errorf("jobs: ledger append task needs an idempotency key")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerAppend, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(TaskLedgerAppend+":"+payload.Key),
		asynq.MaxRetry(10),
	), nil
}

// Reconciler appends a missing ledger record idempotently.
type Reconciler interface {
	Reconcile(ctx context.Context, key string, rec model.Transaction) (*model.Transaction, error)
}

// Observer counts job runs.
type Observer interface {
	ObserveJob(task string, err error)
}

// LedgerAppendJob handles TaskLedgerAppend.
type LedgerAppendJob struct {
	ledger  Reconciler
	metrics Observer
	logger  *zap.Logger
}

func NewLedgerAppendJob(ledger Reconciler, metrics Observer, logger *zap.Logger) *LedgerAppendJob {
	return &LedgerAppendJob{ledger: ledger, metrics: metrics, logger: logger.Named("jobs")}
}

// Handle processes one repair task. A malformed payload is never retried.
func (j *LedgerAppendJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerAppendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Key == "" {
		j.logger.Error("discarding malformed ledger append task", zap.ByteString("payload", t.Payload()))
		j.observe(fmt.Errorf("malformed payload"))
		return fmt.Errorf("jobs: malformed %s payload: %w", TaskLedgerAppend, asynq.SkipRetry)
	}

	log := j.logger.With(
		zap.String("idempotency_key", payload.Key),
		zap.Uint("product_id", payload.Transaction.ProductID),
	)
	stored, err := j.ledger.Reconcile(ctx, payload.Key, payload.Transaction)
	j.observe(err)
	if err != nil {
		log.Warn("ledger append failed, will retry", zap.Error(err))
		return err
	}
	log.Info("ledger append done", zap.Uint("transaction_id", stored.ID))
	return nil
}

func (j *LedgerAppendJob) observe(err error) {
	if j.metrics != nil {
		j.metrics.ObserveJob(TaskLedgerAppend, err)
	}
}
