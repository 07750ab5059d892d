package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/internal/repository"
	"go-inventory-ledger/internal/session"
	"go-inventory-ledger/pkg/validator"
)

var (
	ErrEmailExists      = errors.New("email already exists")
	ErrCannotDeleteSelf = errors.New("cannot delete your own account")
)

type UserService interface {
	CreateUser(ctx context.Context, req *CreateUserRequest) (*model.UserResponse, error)
	UpdateUser(ctx context.Context, userID uint, req *UpdateUserRequest) (*model.UserResponse, error)
	DeleteUser(ctx context.Context, actor *session.Session, userID uint) error
	GetAllUsers(ctx context.Context) ([]model.UserResponse, error)
	GetUserByID(ctx context.Context, id uint) (*model.UserResponse, error)
}

type CreateUserRequest struct {
	Name        string     `json:"name" validate:"required,notblank"`
	Email       string     `json:"email" validate:"required,email"`
	Password    string     `json:"password" validate:"required,min=6"`
	PhoneNumber string     `json:"phoneNumber" validate:"omitempty,max=20"`
	Role        model.Role `json:"role" validate:"required,oneof=admin user"`
}

type UpdateUserRequest struct {
	Name        string     `json:"name" validate:"required,notblank"`
	Email       string     `json:"email" validate:"required,email"`
	Password    *string    `json:"password,omitempty" validate:"omitempty,min=6"` // Optional
	PhoneNumber string     `json:"phoneNumber" validate:"omitempty,max=20"`
	Role        model.Role `json:"role" validate:"required,oneof=admin user"`
}

type userService struct {
	store repository.Store
}

func NewUserService(store repository.Store) UserService {
	return &userService{store: store}
}

func (s *userService) emailTaken(ctx context.Context, email string, except uint) (bool, error) {
	existing, err := repository.FindOne(ctx, s.store.Users(), repository.Filter{"email": email})
	if repository.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ID != except, nil
}

func (s *userService) CreateUser(ctx context.Context, req *CreateUserRequest) (*model.UserResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	// 1. Validate request
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	// 2. Check if email already exists
	taken, err := s.emailTaken(ctx, req.Email, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailExists
	}

	// 3. Create user
	user := &model.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		Role:         req.Role,
		TokenVersion: uuid.NewString(),
	}

	// 4. Set password
	if err := user.SetPassword(req.Password); err != nil {
		return nil, errors.New("failed to hash password")
	}

	// 5. Save
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	resp := user.ToResponse()
	return &resp, nil
}

func (s *userService) UpdateUser(ctx context.Context, userID uint, req *UpdateUserRequest) (*model.UserResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	// 1. Validate request
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	// 2. Find existing user
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. Check if email is being changed and already exists
	if req.Email != user.Email {
		taken, err := s.emailTaken(ctx, req.Email, user.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrEmailExists
		}
	}

	// 4. Update user fields; a role change ends the user's sessions
	if user.Role != req.Role {
		user.TokenVersion = uuid.NewString()
	}
	user.Name = strings.TrimSpace(req.Name)
	user.Email = req.Email
	user.PhoneNumber = req.PhoneNumber
	user.Role = req.Role

	// 5. Update password if provided
	if req.Password != nil && *req.Password != "" {
		if err := user.SetPassword(*req.Password); err != nil {
			return nil, errors.New("failed to hash password")
		}
		user.TokenVersion = uuid.NewString()
	}

	// 6. Save
	if err := s.store.Users().CompareAndReplace(ctx, user.ID, user.Version, user); err != nil {
		return nil, err
	}

	resp := user.ToResponse()
	return &resp, nil
}

func (s *userService) DeleteUser(ctx context.Context, actor *session.Session, userID uint) error {
	if actor != nil && actor.UserID == userID {
		return ErrCannotDeleteSelf
	}
	return s.store.Users().Delete(ctx, userID)
}

func (s *userService) GetAllUsers(ctx context.Context) ([]model.UserResponse, error) {
	users, err := s.store.Users().List(ctx, nil)
	if err != nil {
		return nil, err
	}

	responses := make([]model.UserResponse, len(users))
	for i, user := range users {
		responses[i] = user.ToResponse()
	}
	return responses, nil
}

func (s *userService) GetUserByID(ctx context.Context, id uint) (*model.UserResponse, error) {
	user, err := s.store.Users().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	response := user.ToResponse()
	return &response, nil
}
