package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/session"
	"go-inventory-ledger/pkg/jwt"
	"go-inventory-ledger/pkg/validator"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrSessionRevoked     = errors.New("session expired (logged out or logged in elsewhere)")
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	Logout(ctx context.Context, s *session.Session) error
	Register(ctx context.Context, req *RegisterRequest) (*model.UserResponse, error)
	// Authenticate verifies a bearer token against the stored user.
	Authenticate(ctx context.Context, token string) (*session.Session, error)
	Profile(ctx context.Context, s *session.Session) (*model.UserResponse, error)
	UpdateProfile(ctx context.Context, s *session.Session, req *UpdateProfileRequest) (*model.UserResponse, error)
	ChangePassword(ctx context.Context, s *session.Session, req *ChangePasswordRequest) error
}

type LoginResponse struct {
	Token     string             `json:"token"`
	ExpiresAt int64              `json:"expiresAt"`
	User      model.UserResponse `json:"user"`
	Role      model.Role         `json:"role"`
}

type RegisterRequest struct {
	Name        string `json:"name" validate:"required,notblank"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=20"`
}

type UpdateProfileRequest struct {
	Name        string `json:"name" validate:"required,notblank"`
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=20"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6"`
}

type authService struct {
	store  repository.Store
	tokens *jwt.Manager
	logger *zap.Logger
}

func NewAuthService(store repository.Store, tokens *jwt.Manager, logger *zap.Logger) AuthService {
	return &authService{
		store:  store,
		tokens: tokens,
		logger: logger.Named("auth"),
	}
}

func (s *authService) findByEmail(ctx context.Context, email string) (*model.User, error) {
	return repository.FindOne(ctx, s.store.Users(), repository.Filter{"email": email})
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, validator.Invalid("email", "required", "")
	}

	// 1. Find user by email
	user, err := s.findByEmail(ctx, email)
	if repository.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	// 2. Verify password
	if !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}

	// 3. Single session: a new token version revokes older tokens
	if !user.PasswordIsHashed() {
		if err := user.SetPassword(password); err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		s.logger.Info("upgraded legacy plaintext password", zap.Uint("user_id", user.ID))
	}
	user.TokenVersion = uuid.NewString()
	if err := s.store.Users().CompareAndReplace(ctx, user.ID, user.Version, user); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	// 4. Generate JWT token with TokenVersion
	token, claims, err := s.tokens.GenerateToken(user.ID, user.Email, user.Name, string(user.Role), user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("user logged in", zap.Uint("user_id", user.ID))
	return &LoginResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Unix(),
		User:      user.ToResponse(),
		Role:      user.Role,
	}, nil
}

func (s *authService) Logout(ctx context.Context, sess *session.Session) error {
	user, err := s.store.Users().Get(ctx, sess.UserID)
	if err != nil {
		return err
	}
	user.TokenVersion = uuid.NewString()
	if err := s.store.Users().CompareAndReplace(ctx, user.ID, user.Version, user); err != nil {
		return err
	}
	s.logger.Info("user logged out", zap.Uint("user_id", user.ID))
	return nil
}

func (s *authService) Register(ctx context.Context, req *RegisterRequest) (*model.UserResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	// 1. Validate request
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	// 2. Check if email already exists
	if _, err := s.findByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailExists
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	// 3. Self-registered accounts are always plain users
	user := &model.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		Role:         model.RoleUser,
		TokenVersion: uuid.NewString(),
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

func (s *authService) Authenticate(ctx context.Context, token string) (*session.Session, error) {
	// 1. Validate JWT token
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	// 2. Check strict session against the store
	user, err := s.store.Users().Get(ctx, claims.UserID)
	if repository.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, ErrSessionRevoked
	}

	// Role and name come from the stored user, so demotions apply at once.
	sess := session.FromClaims(claims)
	sess.Role = user.Role
	sess.Name = user.Name
	sess.Email = user.Email
	return sess, nil
}

func (s *authService) Profile(ctx context.Context, sess *session.Session) (*model.UserResponse, error) {
	user, err := s.store.Users().Get(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

func (s *authService) UpdateProfile(ctx context.Context, sess *session.Session, req *UpdateProfileRequest) (*model.UserResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	user, err := s.store.Users().Get(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if req.Email != user.Email {
		if _, err := s.findByEmail(ctx, req.Email); err == nil {
			return nil, ErrEmailExists
		} else if !repository.IsNotFound(err) {
			return nil, err
		}
	}

	user.Name = strings.TrimSpace(req.Name)
	user.Email = req.Email
	user.PhoneNumber = req.PhoneNumber
	if err := s.store.Users().CompareAndReplace(ctx, user.ID, user.Version, user); err != nil {
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

func (s *authService) ChangePassword(ctx context.Context, sess *session.Session, req *ChangePasswordRequest) error {
	if err := validator.Validate(req); err != nil {
		return err
	}

	user, err := s.store.Users().Get(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if !user.CheckPassword(req.OldPassword) {
		return ErrWrongPassword
	}
	if err := user.SetPassword(req.NewPassword); err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}
	// Invalidate existing sessions
	user.TokenVersion = uuid.NewString()
	if err := s.store.Users().CompareAndReplace(ctx, user.ID, user.Version, user); err != nil {
		return err
	}
	s.logger.Info("password changed", zap.Uint("user_id", user.ID))
	return nil
}
