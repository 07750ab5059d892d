package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/model"
)

// Enqueuer is the part of asynq.Client the ledger client needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client submits repair tasks. It satisfies the ledger's Reconciler.
type Client struct {
	enqueuer Enqueuer
	closer   func() error
	logger   *zap.Logger
}

// NewClient connects an asynq client to Redis.
func NewClient(redisOpts asynq.RedisClientOpt, logger *zap.Logger) *Client {
	client := asynq.NewClient(redisOpts)
	return &Client{enqueuer: client, closer: client.Close, logger: logger.Named("jobs")}
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(e Enqueuer, logger *zap.Logger) *Client {
	return &Client{enqueuer: e, logger: logger.Named("jobs")}
}

// EnqueueLedgerAppend queues the append of tx under key. A task already
// queued for the same key counts as success.
func (c *Client) EnqueueLedgerAppend(ctx context.Context, key string, tx model.Transaction) error {
	task, err := NewLedgerAppendTask(LedgerAppendPayload{Key: key, Transaction: tx})
	if err != nil {
		return err
	}
	info, err := c.enqueuer.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.logger.Info("ledger append already queued", zap.String("idempotency_key", key))
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("ledger append queued",
		zap.String("idempotency_key", key),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Worker wraps the asynq server.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Logger      *zap.Logger
	Handlers    []TaskHandler
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger: zapAdapter{cfg.Logger.Named("asynq").Sugar()},
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}
	return &Worker{server: srv, mux: mux, logger: cfg.Logger}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.logger.Info("worker started", zap.String("queue", QueueDefault))
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return nil
}

// zapAdapter lets asynq log through zap.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (a zapAdapter) Debug(args ...interface{}) { a.s.Debug(args...) }
func (a zapAdapter) Info(args ...interface{})  { a.s.Info(args...) }
func (a zapAdapter) Warn(args ...interface{})  { a.s.Warn(args...) }
func (a zapAdapter) Error(args ...interface{}) { a.s.Error(args...) }
func (a zapAdapter) Fatal(args ...interface{}) { a.s.Fatal(args...) }
