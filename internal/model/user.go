package model

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// User represents an account in the system. Password holds a bcrypt hash;
// rows written before hashing was introduced may still hold plaintext.
type User struct {
	BaseModel
	Name         string `gorm:"type:varchar(255)" json:"name" validate:"required"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email" validate:"required,email"`
	Password     string `gorm:"type:varchar(255);not null" json:"password"`
	PhoneNumber  string `gorm:"type:varchar(20)" json:"phoneNumber"`
	Role         Role   `gorm:"type:varchar(20);not null;default:'user'" json:"role" validate:"required,oneof=admin user"`
	TokenVersion string `gorm:"type:varchar(64);default:''" json:"tokenVersion"`
}

// SetPassword hashes and sets the user's password
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// CheckPassword verifies if the provided password matches the stored one
func (u *User) CheckPassword(password string) bool {
	if u.PasswordIsHashed() {
		return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
	}
	if u.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// PasswordIsHashed reports whether Password is a bcrypt hash rather than legacy plaintext.
func (u *User) PasswordIsHashed() bool {
	return strings.HasPrefix(u.Password, "$2a$") ||
		strings.HasPrefix(u.Password, "$2b$") ||
		strings.HasPrefix(u.Password, "$2y$")
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserResponse is used for API responses (without sensitive data)
type UserResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Role        Role   `json:"role"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
	}
}
