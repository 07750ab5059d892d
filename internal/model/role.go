package model

// Role is the coarse permission level of a user
type Role string

// Role codes as constants
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// RoleInfo describes a role for listing endpoints
type RoleInfo struct {
	Code        Role   `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DefaultRoles defines the roles known to the system
var DefaultRoles = []RoleInfo{
	{
		Code:        RoleAdmin,
		Name:        "Administrator",
		Description: "Manages catalog, suppliers and users",
	},
	{
		Code:        RoleUser,
		Name:        "User",
		Description: "Records purchases and sales, views transactions and dashboard",
	},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}
