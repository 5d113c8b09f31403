package repository

import (
	"context"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AttachmentRepository interface {
	Create(ctx context.Context, attachment *model.Attachment) error
	FindByID(ctx context.Context, orgID, id uuid.UUID) (*model.Attachment, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	ListByExpense(ctx context.Context, orgID, expenseID uuid.UUID) ([]model.Attachment, error)
	// ListUncommitted returns the uploader's uncommitted records staged under slot.
	// The empty slot is the default slot, not a wildcard.
	ListUncommitted(ctx context.Context, orgID, uploaderID uuid.UUID, slot string) ([]model.Attachment, error)
	// ListPool returns every uncommitted record of the uploader across slots.
	ListPool(ctx context.Context, orgID, uploaderID uuid.UUID) ([]model.Attachment, error)
	CountByExpense(ctx context.Context, orgID, expenseID uuid.UUID) (int64, error)
	// Commit binds still-uncommitted records to expenseID and returns how many were bound.
	Commit(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID, expenseID uuid.UUID) (int64, error)
	// LockPool serializes binding for one uploader until the surrounding transaction ends.
	LockPool(ctx context.Context, orgID, uploaderID uuid.UUID) error
}

type attachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *model.Attachment) error {
	return translate(GetDB(ctx, r.db).Create(attachment).Error)
}

func (r *attachmentRepository) FindByID(ctx context.Context, orgID, id uuid.UUID) (*model.Attachment, error) {
	var attachment model.Attachment
	if err := GetDB(ctx, r.db).First(&attachment, "id = ? AND organization_id = ?", id, orgID).Error; err != nil {
		return nil, translate(err)
	}
	return &attachment, nil
}

func (r *attachmentRepository) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	res := GetDB(ctx, r.db).Where("id = ? AND organization_id = ?", id, orgID).Delete(&model.Attachment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *attachmentRepository) ListByExpense(ctx context.Context, orgID, expenseID uuid.UUID) ([]model.Attachment, error) {
	var attachments []model.Attachment
	err := GetDB(ctx, r.db).
		Where("organization_id = ? AND expense_id = ?", orgID, expenseID).
		Order("created_at asc").
		Find(&attachments).Error
	return attachments, err
}

func (r *attachmentRepository) ListUncommitted(ctx context.Context, orgID, uploaderID uuid.UUID, slot string) ([]model.Attachment, error) {
	var attachments []model.Attachment
	err := GetDB(ctx, r.db).
		Where("organization_id = ? AND uploader_id = ? AND expense_id IS NULL AND temporary_slot = ?", orgID, uploaderID, slot).
		Order("created_at asc").
		Find(&attachments).Error
	return attachments, err
}

func (r *attachmentRepository) ListPool(ctx context.Context, orgID, uploaderID uuid.UUID) ([]model.Attachment, error) {
	var attachments []model.Attachment
	err := GetDB(ctx, r.db).
		Where("organization_id = ? AND uploader_id = ? AND expense_id IS NULL", orgID, uploaderID).
		Order("created_at asc").
		Find(&attachments).Error
	return attachments, err
}

func (r *attachmentRepository) CountByExpense(ctx context.Context, orgID, expenseID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Attachment{}).
		Where("organization_id = ? AND expense_id = ?", orgID, expenseID).
		Count(&count).Error
	return count, err
}

func (r *attachmentRepository) Commit(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID, expenseID uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := GetDB(ctx, r.db).Model(&model.Attachment{}).
		Where("organization_id = ? AND id IN ? AND expense_id IS NULL", orgID, ids).
		Update("expense_id", expenseID)
	return res.RowsAffected, res.Error
}

func (r *attachmentRepository) LockPool(ctx context.Context, orgID, uploaderID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "attachments:"+orgID.String()+":"+uploaderID.String()).
		Error
}
