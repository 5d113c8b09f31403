package repository

import (
	"context"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository is append-only: there is no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	// ListByExpense returns the timeline newest first.
	ListByExpense(ctx context.Context, orgID, expenseID uuid.UUID) ([]model.AuditLogEntry, error)
	CountByAction(ctx context.Context, orgID, expenseID uuid.UUID, action string) (int64, error)
	// ListByOrganization pages through every entry of an organization, newest first.
	ListByOrganization(ctx context.Context, orgID uuid.UUID, action string, offset, limit int) ([]model.AuditLogEntry, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *auditRepository) ListByExpense(ctx context.Context, orgID, expenseID uuid.UUID) ([]model.AuditLogEntry, error) {
	var entries []model.AuditLogEntry
	err := GetDB(ctx, r.db).
		Where("organization_id = ? AND expense_id = ?", orgID, expenseID).
		Order("created_at desc").Order("seq desc").
		Find(&entries).Error
	return entries, err
}

func (r *auditRepository) CountByAction(ctx context.Context, orgID, expenseID uuid.UUID, action string) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.AuditLogEntry{}).
		Where("organization_id = ? AND expense_id = ? AND action = ?", orgID, expenseID, action).
		Count(&count).Error
	return count, err
}

func (r *auditRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID, action string, offset, limit int) ([]model.AuditLogEntry, int64, error) {
	query := GetDB(ctx, r.db).Model(&model.AuditLogEntry{}).Where("organization_id = ?", orgID)
	if action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []model.AuditLogEntry
	err := query.Order("created_at desc").Order("seq desc").Offset(offset).Limit(limit).Find(&entries).Error
	return entries, total, err
}
