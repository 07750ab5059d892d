package app

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/handler"
	"go-inventory-ledger/internal/middleware"
	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/service"
)

// Server builds the fiber app with every route mounted.
func (a *App) Server() *fiber.App {
	// Dependency Injection (Wiring Layers)
	authService := service.NewAuthService(a.Store, a.Tokens, a.Logger)
	userService := service.NewUserService(a.Store)
	invService := service.NewInventoryService(a.Store, a.Ledger, a.Locker, a.Hub, a.Logger)
	catalogService := service.NewCatalogService(a.Store)
	txService := service.NewTransactionService(a.Store)
	loc, err := a.Config.Location()
	if err != nil {
		loc = time.UTC
	}
	dashService := service.NewDashboardService(a.Store, loc, a.Config.Dashboard.LowStockThreshold)

	handlers := handler.Handlers{
		Auth:        handler.NewAuthHandler(authService),
		Users:       handler.NewUserHandler(userService),
		Inventory:   handler.NewInventoryHandler(invService),
		Catalog:     handler.NewCatalogHandler(catalogService),
		Transaction: handler.NewTransactionHandler(txService),
		Dashboard:   handler.NewDashboardHandler(dashService),
		Roles:       handler.NewRoleHandler(model.DefaultRoles),
	}

	app := fiber.New(fiber.Config{
		AppName: "Inventory Ledger v1.0",
	})

	// Middleware
	app.Use(recover.New()) // Panic recovery
	if !a.Config.IsProduction() {
		app.Use(fiberlogger.New()) // Logging request
	}
	app.Use(cors.New(cors.Config{
		ExposeHeaders: handler.HeaderIdempotencyKey + "," + handler.HeaderReplayed,
	}))
	app.Use(a.Metrics.Middleware())

	app.Get("/healthz", a.health)
	app.Get("/metrics", a.Metrics.Handler())

	// Routes
	handler.Register(app.Group("/api/v1"), handlers, authService)

	// WebSocket Route
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws", middleware.RequireAuth(authService), websocket.New(func(c *websocket.Conn) {
		if !a.Hub.Register(c) {
			return
		}
		defer a.Hub.Unregister(c)

		for {
			// Keep alive loop
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
	}))

	return app
}

func (a *App) health(c *fiber.Ctx) error {
	status := fiber.Map{
		"status":    "ok",
		"store":     a.Config.Store.Driver,
		"wsClients": a.Hub.ClientCount(),
	}
	if a.Redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Logger.Warn("health: redis ping failed", zap.Error(err))
			status["status"] = "degraded"
			status["redis"] = "down"
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		status["redis"] = "up"
	}
	return c.JSON(status)
}
