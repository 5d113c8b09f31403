package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// --- DTOs ---

type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Role     string `json:"role" binding:"required"` // employee, engineer, admin, cashier
}

type UserResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	CreatedAt      string `json:"created_at"`
}

type UserFilter struct {
	Role  string
	Page  int
	Limit int
}

// --- Interface ---

// UserService is the member directory of an organization. Admins provision
// members; everyone may look members up, e.g. to pick a verifier.
type UserService interface {
	CreateUser(ctx context.Context, actor model.Actor, req CreateUserRequest) (*UserResponse, error)
	GetUser(ctx context.Context, actor model.Actor, id uuid.UUID) (*UserResponse, error)
	ListUsers(ctx context.Context, actor model.Actor, filter UserFilter) ([]UserResponse, int64, error)
}

type userService struct {
	repo repository.UserRepository
}

// NewUserService returns a new instance of UserService
func NewUserService(repo repository.UserRepository) UserService {
	return &userService{repo: repo}
}

// --- Implementation ---

func (s *userService) CreateUser(ctx context.Context, actor model.Actor, req CreateUserRequest) (*UserResponse, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if !model.ValidRole(role) {
		return nil, fieldError("role", "must be employee, engineer, admin or cashier")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailPattern.MatchString(email) {
		return nil, fieldError("email", "is not a valid address")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, fieldError("username", "is required")
	}

	user := &model.User{
		OrganizationID: actor.OrganizationID,
		Username:       username,
		Email:          email,
		Role:           role,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fieldError("email", "already belongs to a member")
		}
		return nil, storageError(err, ErrNotFound)
	}
	return toUserResponse(user), nil
}

func (s *userService) GetUser(ctx context.Context, actor model.Actor, id uuid.UUID) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}
	return toUserResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, actor model.Actor, filter UserFilter) ([]UserResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	role := strings.ToLower(strings.TrimSpace(filter.Role))
	if role != "" && !model.ValidRole(role) {
		return nil, 0, fieldError("role", "must be employee, engineer, admin or cashier")
	}

	users, total, err := s.repo.List(ctx, actor.OrganizationID, role, (filter.Page-1)*filter.Limit, filter.Limit)
	if err != nil {
		return nil, 0, storageError(err, ErrNotFound)
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *toUserResponse(&users[i]))
	}
	return responses, total, nil
}

func toUserResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:             user.ID.String(),
		OrganizationID: user.OrganizationID.String(),
		Username:       user.Username,
		Email:          user.Email,
		Role:           user.Role,
		CreatedAt:      user.CreatedAt.Format(time.RFC3339),
	}
}
