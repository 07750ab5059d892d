package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/app"
	"go-inventory-ledger/internal/config"
	"go-inventory-ledger/internal/logger"
	"go-inventory-ledger/internal/repository"
)

// reset-password sets one user's password through the configured store and
// ends that user's sessions.
func main() {
	// 1. Load Env
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	email := flag.String("email", cfg.Admin.Email, "email of the user to reset")
	newPassword := flag.String("password", cfg.Admin.Password, "new password (min 6 characters)")
	flag.Parse()

	if len(*newPassword) < 6 {
		log.Fatal("❌ New password must be at least 6 characters")
	}

	zl := logger.Must(cfg.Server.Env)
	defer zl.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Setup store
	store, err := app.OpenStore(cfg, zl)
	if err != nil {
		zl.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	// 3. Find user
	user, err := repository.FindOne(ctx, store.Users(), repository.Filter{"email": *email})
	if err != nil {
		zl.Fatal("user not found", zap.String("email", *email), zap.Error(err))
	}

	// 4. Hash new password and revoke existing tokens
	if err := user.SetPassword(*newPassword); err != nil {
		zl.Fatal("failed to hash password", zap.Error(err))
	}
	user.TokenVersion = uuid.NewString()

	// 5. Update
	if err := store.Users().CompareAndReplace(ctx, user.ID, user.Version, user); err != nil {
		zl.Fatal("failed to update password", zap.Error(err))
	}

	zl.Info("password reset", zap.String("email", user.Email), zap.String("role", string(user.Role)))
}
