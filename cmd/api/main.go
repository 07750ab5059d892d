package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"go-inventory-ledger/internal/app"
	"go-inventory-ledger/internal/config"
	"go-inventory-ledger/internal/logger"
)

func main() {
	// 1. Load Env
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl := logger.Must(cfg.Server.Env)
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Setup store, Redis and ledger
	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// 3. Seed default admin user
	if err := a.SeedAdmin(ctx); err != nil {
		zl.Warn("failed to seed admin user", zap.Error(err))
	}

	// 4. Setup WebSocket Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.Hub.Run(hubCtx)

	// 5. Setup Fiber
	server := a.Server()
	go func() {
		zl.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("redis", cfg.RedisEnabled()),
		)
		if err := server.Listen(":" + cfg.Server.Port); err != nil {
			zl.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	// 6. Graceful Shutdown
	<-ctx.Done()
	zl.Info("shutting down server")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	stopHub()
	zl.Info("server exited")
}
