package repository

import (
	"context"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository reads organization members. Membership itself is managed by
// the identity provider; Create exists for provisioning and seeding.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*model.User, error)
	// List pages through an organization's members ordered by username. An empty role lists all.
	List(ctx context.Context, orgID uuid.UUID, role string, offset, limit int) ([]model.User, int64, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new instance of UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return translate(GetDB(ctx, r.db).Create(user).Error)
}

func (r *userRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "id = ? AND organization_id = ?", id, orgID).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context, orgID uuid.UUID, role string, offset, limit int) ([]model.User, int64, error) {
	query := GetDB(ctx, r.db).Model(&model.User{}).Where("organization_id = ?", orgID)
	if role != "" {
		query = query.Where("role = ?", role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var users []model.User
	if err := query.Order("username ASC").Order("id ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, translate(err)
	}
	return users, total, nil
}
