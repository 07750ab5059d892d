// Package app wires the configured store, Redis-backed coordination, the
// ledger and the HTTP server together.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/cache"
	"go-inventory-ledger/internal/config"
	"go-inventory-ledger/internal/idempotency"
	"go-inventory-ledger/internal/jobs"
	"go-inventory-ledger/internal/ledger"
	"go-inventory-ledger/internal/lock"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/observability"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/repository/memory"
	"go-inventory-ledger/internal/repository/postgres"
	"go-inventory-ledger/internal/repository/rest"
	"go-inventory-ledger/internal/ws"
	"go-inventory-ledger/pkg/jwt"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   repository.Store
	Redis   *redis.Client
	Locker  lock.Locker
	Keys    idempotency.Store
	Jobs    *jobs.Client
	Metrics *observability.Metrics
	Hub     *ws.Hub
	Ledger  *ledger.Ledger
	Tokens  *jwt.Manager
}

// New opens the store and, when configured, Redis. Without Redis the ledger
// falls back to in-process locks and idempotency and has no repair queue.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Metrics: observability.NewMetrics(),
		Hub:     ws.NewHub(logger),
		Tokens:  jwt.NewManager(cfg.JWT.Secret, cfg.JWTExpiry()),
	}

	if cfg.RedisEnabled() {
		client, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.Redis = client
		a.Locker = lock.NewRedisLocker(client, cfg.Ledger.LockTTL, logger)
		a.Keys = idempotency.NewRedisStore(client)
		a.Jobs = jobs.NewClient(RedisOpt(cfg), logger)
	} else {
		logger.Warn("REDIS_ADDR not set: in-process product locks and idempotency, ledger repair queue disabled")
		a.Locker = lock.NewKeyedMutex()
		a.Keys = idempotency.NewMemoryStore()
	}

	opts := []ledger.Option{
		ledger.WithNotifier(a.Hub),
		ledger.WithMetrics(a.Metrics),
	}
	if a.Jobs != nil {
		opts = append(opts, ledger.WithReconciler(a.Jobs))
	}
	a.Ledger = ledger.New(store, a.Locker, a.Keys, ledger.Config{
		CASRetries:     cfg.Ledger.CASRetries,
		LockWait:       cfg.Ledger.LockTTL,
		IdempotencyTTL: cfg.Ledger.IdempotencyTTL,
	}, logger, opts...)
	return a, nil
}

// OpenStore returns the backend STORE_DRIVER names.
func OpenStore(cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := postgres.Connect(postgres.Config{
			DSN:          cfg.DSN(),
			MaxIdleConns: cfg.Database.MaxIdleConns,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			LogQueries:   cfg.Database.LogQueries,
		}, logger)
		if err != nil {
			return nil, err
		}
		// Auto Migrate (Hati-hati di production, sebaiknya pakai tools migrasi terpisah)
		if err := postgres.Migrate(db); err != nil {
			return nil, err
		}
		return postgres.NewStore(db), nil
	case config.DriverMemory:
		logger.Warn("using the in-memory store: data is lost on exit")
		return memory.NewStore(), nil
	case config.DriverREST:
		return rest.NewStore(rest.NewClient(rest.Config{
			BaseURL: cfg.Store.RestURL,
			Timeout: cfg.Store.RestTimeout,
		}, logger)), nil
	default:
		return nil, fmt.Errorf("%w: unknown STORE_DRIVER %q", config.ErrInvalidConfig, cfg.Store.Driver)
	}
}

func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// SeedAdmin creates the configured admin account when the store has no users.
func (a *App) SeedAdmin(ctx context.Context) error {
	users, err := a.Store.Users().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if len(users) > 0 {
		return nil
	}

	admin := &model.User{
		Name:  "Administrator",
		Email: a.Config.Admin.Email,
		Role:  model.RoleAdmin,
	}
	if err := admin.SetPassword(a.Config.Admin.Password); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := a.Store.Users().Create(ctx, admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	a.Logger.Info("admin user created", zap.String("email", admin.Email))
	return nil
}

func (a *App) Close() {
	if a.Jobs != nil {
		if err := a.Jobs.Close(); err != nil {
			a.Logger.Warn("jobs client close", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close", zap.Error(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("store close", zap.Error(err))
	}
}
