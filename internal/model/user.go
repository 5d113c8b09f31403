package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member roles
const (
	RoleEmployee = "employee"
	RoleEngineer = "engineer"
	RoleAdmin    = "admin"
	RoleCashier  = "cashier"
)

// User is an organization member as seen by the expense core. Credentials live
// with the identity provider; only role and organization are kept here.
type User struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_users_org_email" json:"organization_id"`
	Username       string         `gorm:"type:varchar(255);not null" json:"username"`
	Email          string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_org_email" json:"email"`
	Role           string         `gorm:"type:varchar(50);not null" json:"role"` // employee, engineer, admin, cashier
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"` // GORM soft delete
}

// ValidRole reports whether role is one the expense core understands.
func ValidRole(role string) bool {
	switch role {
	case RoleEmployee, RoleEngineer, RoleAdmin, RoleCashier:
		return true
	}
	return false
}
