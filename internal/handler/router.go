package handler

import (
	"github.com/gofiber/fiber/v2"

	"go-inventory-ledger/internal/authz"
	"go-inventory-ledger/internal/middleware"
)

// Handlers groups every API handler.
type Handlers struct {
	Auth        *AuthHandler
	Users       *UserHandler
	Inventory   *InventoryHandler
	Catalog     *CatalogHandler
	Transaction *TransactionHandler
	Dashboard   *DashboardHandler
	Roles       *RoleHandler
}

// Register mounts the API on api (normally the /api/v1 group).
func Register(api fiber.Router, h Handlers, auth middleware.Authenticator) {
	access := middleware.RequireAccess

	// ============ PUBLIC ROUTES ============
	authRoutes := api.Group("/auth")
	authRoutes.Post("/login", h.Auth.Login)
	authRoutes.Post("/register", h.Auth.Register)

	// ============ PROTECTED ROUTES ============
	protected := api.Group("", middleware.RequireAuth(auth))

	protected.Post("/auth/logout", access(authz.ResourceProfile), h.Auth.Logout)
	protected.Get("/profile", access(authz.ResourceProfile), h.Auth.Profile)
	protected.Put("/profile", access(authz.ResourceProfile), h.Auth.UpdateProfile)
	protected.Put("/profile/password", access(authz.ResourceProfile), h.Auth.ChangePassword)

	// Dashboard
	protected.Get("/dashboard/daily", access(authz.ResourceDashboard), h.Dashboard.GetDaily)
	protected.Get("/dashboard/stats", access(authz.ResourceDashboard), h.Dashboard.GetDashboardStats)

	// Products
	protected.Get("/products", access(authz.ResourceCatalogRead), h.Inventory.GetProducts)
	protected.Get("/products/:id", access(authz.ResourceCatalogRead), h.Inventory.GetProduct)
	protected.Post("/products", access(authz.ResourceProducts), h.Inventory.CreateProduct)
	protected.Put("/products/:id", access(authz.ResourceProducts), h.Inventory.UpdateProduct)
	protected.Delete("/products/:id", access(authz.ResourceProducts), h.Inventory.DeleteProduct)

	// Categories
	protected.Get("/categories", access(authz.ResourceCatalogRead), h.Catalog.GetCategories)
	protected.Get("/categories/:id", access(authz.ResourceCatalogRead), h.Catalog.GetCategory)
	protected.Post("/categories", access(authz.ResourceCategories), h.Catalog.CreateCategory)
	protected.Put("/categories/:id", access(authz.ResourceCategories), h.Catalog.UpdateCategory)
	protected.Delete("/categories/:id", access(authz.ResourceCategories), h.Catalog.DeleteCategory)

	// Suppliers
	protected.Get("/suppliers", access(authz.ResourceCatalogRead), h.Catalog.GetSuppliers)
	protected.Get("/suppliers/:id", access(authz.ResourceCatalogRead), h.Catalog.GetSupplier)
	protected.Post("/suppliers", access(authz.ResourceSuppliers), h.Catalog.CreateSupplier)
	protected.Put("/suppliers/:id", access(authz.ResourceSuppliers), h.Catalog.UpdateSupplier)
	protected.Delete("/suppliers/:id", access(authz.ResourceSuppliers), h.Catalog.DeleteSupplier)

	// Stock movements
	protected.Post("/inventory/purchase", access(authz.ResourcePurchase), h.Inventory.Purchase)
	protected.Post("/inventory/sell", access(authz.ResourceSell), h.Inventory.Sell)

	// Transactions (export before :id)
	protected.Get("/transactions", access(authz.ResourceTransactions), h.Transaction.GetTransactions)
	protected.Get("/transactions/export", access(authz.ResourceTransactions), h.Transaction.ExportTransactions)
	protected.Get("/transactions/:id", access(authz.ResourceTransactions), h.Transaction.GetTransaction)

	// User management
	protected.Get("/users", access(authz.ResourceUsers), h.Users.GetUsers)
	protected.Get("/users/:id", access(authz.ResourceUsers), h.Users.GetUser)
	protected.Post("/users", access(authz.ResourceUsers), h.Users.CreateUser)
	protected.Put("/users/:id", access(authz.ResourceUsers), h.Users.UpdateUser)
	protected.Delete("/users/:id", access(authz.ResourceUsers), h.Users.DeleteUser)

	// Roles
	protected.Get("/roles", access(authz.ResourceRoles), h.Roles.GetRoles)
}
