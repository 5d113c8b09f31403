package repository

import (
	"context"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExpenseFilter narrows List results. VisibleTo restricts rows to claims the
// user submitted or is assigned to verify.
type ExpenseFilter struct {
	Status    string
	VisibleTo *uuid.UUID
}

// StatusChange describes the columns a lifecycle transition writes.
// ExpectedVerifierID, when set, is an extra guard: the row must still be
// assigned to that verifier.
type StatusChange struct {
	Status             string
	AssignedVerifierID *uuid.UUID
	AdminComment       *string
	ExpectedVerifierID *uuid.UUID
}

type ExpenseRepository interface {
	Create(ctx context.Context, expense *model.Expense) error
	FindByID(ctx context.Context, orgID, id uuid.UUID) (*model.Expense, error)
	List(ctx context.Context, orgID uuid.UUID, filter ExpenseFilter, page, limit int) ([]model.Expense, int64, error)
	// Transition applies change only if the row is still in one of the expected
	// statuses. It returns ErrConflict otherwise.
	Transition(ctx context.Context, orgID, id uuid.UUID, expected []string, change StatusChange) error
	// ReplaceClaim overwrites the submitter-editable columns and status of expense,
	// guarded by the expected prior status. It returns ErrConflict otherwise.
	ReplaceClaim(ctx context.Context, expense *model.Expense, expected string) error
}

type expenseRepository struct {
	db *gorm.DB
}

func NewExpenseRepository(db *gorm.DB) ExpenseRepository {
	return &expenseRepository{db: db}
}

func (r *expenseRepository) Create(ctx context.Context, expense *model.Expense) error {
	return translate(GetDB(ctx, r.db).Create(expense).Error)
}

func (r *expenseRepository) FindByID(ctx context.Context, orgID, id uuid.UUID) (*model.Expense, error) {
	var expense model.Expense
	if err := GetDB(ctx, r.db).First(&expense, "id = ? AND organization_id = ?", id, orgID).Error; err != nil {
		return nil, translate(err)
	}
	return &expense, nil
}

func (r *expenseRepository) List(ctx context.Context, orgID uuid.UUID, filter ExpenseFilter, page, limit int) ([]model.Expense, int64, error) {
	var expenses []model.Expense
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("organization_id = ?", orgID)
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if filter.VisibleTo != nil {
			db = db.Where("(submitter_id = ? OR assigned_verifier_id = ?)", *filter.VisibleTo, *filter.VisibleTo)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Expense{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Scopes(scope).Order("created_at desc").Offset(offset).Limit(limit).Find(&expenses).Error; err != nil {
		return nil, 0, err
	}

	return expenses, total, nil
}

func (r *expenseRepository) Transition(ctx context.Context, orgID, id uuid.UUID, expected []string, change StatusChange) error {
	updates := map[string]interface{}{"status": change.Status}
	if change.AssignedVerifierID != nil {
		updates["assigned_verifier_id"] = *change.AssignedVerifierID
	}
	if change.AdminComment != nil {
		updates["admin_comment"] = *change.AdminComment
	}

	query := GetDB(ctx, r.db).Model(&model.Expense{}).
		Where("id = ? AND organization_id = ? AND status IN ?", id, orgID, expected)
	if change.ExpectedVerifierID != nil {
		query = query.Where("assigned_verifier_id = ?", *change.ExpectedVerifierID)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *expenseRepository) ReplaceClaim(ctx context.Context, expense *model.Expense, expected string) error {
	res := GetDB(ctx, r.db).Model(&model.Expense{}).
		Where("id = ? AND organization_id = ? AND submitter_id = ? AND status = ?",
			expense.ID, expense.OrganizationID, expense.SubmitterID, expected).
		Updates(map[string]interface{}{
			"status":       expense.Status,
			"total_amount": expense.TotalAmount,
			"category":     expense.Category,
			"description":  expense.Description,
			"field_values": expense.FieldValues,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
