package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverREST     = "rest"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	defaultJWTSecret = "your-super-secret-key-change-in-production"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Ledger    LedgerConfig
	Dashboard DashboardConfig
	Admin     AdminConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type StoreConfig struct {
	Driver      string
	RestURL     string
	RestTimeout time.Duration
}

type DatabaseConfig struct {
	URL          string
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	MaxIdleConns int
	MaxOpenConns int
	LogQueries   bool
}

// RedisConfig with an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type LedgerConfig struct {
	CASRetries     int
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

type DashboardConfig struct {
	Timezone          string
	LowStockThreshold int
}

// AdminConfig is the account seeded when the store has no users.
type AdminConfig struct {
	Email    string
	Password string
}

type WorkerConfig struct {
	Concurrency int
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "3000")
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverREST)
	v.SetDefault("STORE_REST_URL", "http://localhost:4000")
	v.SetDefault("STORE_REST_TIMEOUT", 5*time.Second)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_LOG_QUERIES", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("LEDGER_CAS_RETRIES", 5)
	v.SetDefault("LEDGER_LOCK_TTL", 10*time.Second)
	v.SetDefault("LEDGER_IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("DASHBOARD_TIMEZONE", "UTC")
	v.SetDefault("LOW_STOCK_THRESHOLD", 10)
	v.SetDefault("ADMIN_EMAIL", "admin@example.com")
	v.SetDefault("ADMIN_PASSWORD", "admin123")
	v.SetDefault("WORKER_CONCURRENCY", 5)
	return v
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("SERVER_PORT"),
			Env:  v.GetString("SERVER_ENV"),
		},
		Store: StoreConfig{
			Driver:      v.GetString("STORE_DRIVER"),
			RestURL:     v.GetString("STORE_REST_URL"),
			RestTimeout: v.GetDuration("STORE_REST_TIMEOUT"),
		},
		Database: DatabaseConfig{
			URL:          v.GetString("DATABASE_URL"),
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetString("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Name:         v.GetString("DB_NAME"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			LogQueries:   v.GetBool("DB_LOG_QUERIES"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Ledger: LedgerConfig{
			CASRetries:     v.GetInt("LEDGER_CAS_RETRIES"),
			LockTTL:        v.GetDuration("LEDGER_LOCK_TTL"),
			IdempotencyTTL: v.GetDuration("LEDGER_IDEMPOTENCY_TTL"),
		},
		Dashboard: DashboardConfig{
			Timezone:          v.GetString("DASHBOARD_TIMEZONE"),
			LowStockThreshold: v.GetInt("LOW_STOCK_THRESHOLD"),
		},
		Admin: AdminConfig{
			Email:    v.GetString("ADMIN_EMAIL"),
			Password: v.GetString("ADMIN_PASSWORD"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("WORKER_CONCURRENCY"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverREST:
		if c.Store.RestURL == "" {
			return fmt.Errorf("%w: STORE_REST_URL is required for the rest driver", ErrInvalidConfig)
		}
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("%w: JWT_SECRET is empty", ErrInvalidConfig)
	}
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("%w: JWT_SECRET must be set in production", ErrInvalidConfig)
	}
	if c.JWT.ExpiryHours <= 0 {
		return fmt.Errorf("%w: JWT_EXPIRY_HOURS must be positive", ErrInvalidConfig)
	}
	if c.Ledger.CASRetries < 0 {
		return fmt.Errorf("%w: LEDGER_CAS_RETRIES must not be negative", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: DASHBOARD_TIMEZONE: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// DSN is DATABASE_URL, or a keyword DSN built from the DB_* settings.
func (c *Config) DSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Database.Host,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.Port,
	)
}

// Location is the zone dashboard days are bucketed in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Dashboard.Timezone)
}

func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWT.ExpiryHours) * time.Hour
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}
