package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"go-inventory-ledger/internal/app"
	"go-inventory-ledger/internal/config"
	"go-inventory-ledger/internal/jobs"
	"go-inventory-ledger/internal/logger"
)

// The worker drains the ledger repair queue. It needs the same store and
// Redis settings as the API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl := logger.Must(cfg.Server.Env)
	defer zl.Sync()

	if !cfg.RedisEnabled() {
		zl.Fatal("REDIS_ADDR is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	appendJob := jobs.NewLedgerAppendJob(a.Ledger, a.Metrics, zl)
	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   app.RedisOpt(cfg),
		Concurrency: cfg.Worker.Concurrency,
		Logger:      zl,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerAppend, Handler: appendJob.Handle},
		},
	})
	if err := worker.Run(ctx); err != nil {
		zl.Fatal("worker failed", zap.Error(err))
	}
}
