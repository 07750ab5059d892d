// Package authz decides which resources a session may reach.
package authz

import (
	"time"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/session"
)

type Resource string

const (
	ResourceLogin    Resource = "login"
	ResourceRegister Resource = "register"

	ResourceDashboard    Resource = "dashboard"
	ResourcePurchase     Resource = "purchase"
	ResourceSell         Resource = "sell"
	ResourceTransactions Resource = "transactions"
	ResourceProfile      Resource = "profile"
	ResourceCatalogRead  Resource = "catalog:read"
	ResourceRoles        Resource = "roles"

	ResourceCategories Resource = "categories"
	ResourceSuppliers  Resource = "suppliers"
	ResourceProducts   Resource = "products"
	ResourceUsers      Resource = "users"
)

type level int

const (
	public level = iota
	authenticated
	admin
)

var policy = map[Resource]level{
	ResourceLogin:    public,
	ResourceRegister: public,

	ResourceDashboard:    authenticated,
	ResourcePurchase:     authenticated,
	ResourceSell:         authenticated,
	ResourceTransactions: authenticated,
	ResourceProfile:      authenticated,
	ResourceCatalogRead:  authenticated,
	ResourceRoles:        authenticated,

	ResourceCategories: admin,
	ResourceSuppliers:  admin,
	ResourceProducts:   admin,
	ResourceUsers:      admin,
}

// CanAccess reports whether s may use resource. Unknown resources are denied.
func CanAccess(s *session.Session, resource Resource) bool {
	return CanAccessAt(s, resource, time.Now())
}

// CanAccessAt is CanAccess evaluated at now.
func CanAccessAt(s *session.Session, resource Resource, now time.Time) bool {
	required, ok := policy[resource]
	if !ok {
		return false
	}
	switch required {
	case public:
		return true
	case authenticated:
		return s.ActiveAt(now)
	default:
		return s.ActiveAt(now) && s.Role == model.RoleAdmin
	}
}
