package repository

import (
	"context"
	"time"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepository interface {
	Get(ctx context.Context, orgID, userID uuid.UUID) (*model.BalanceAccount, error)
	// Debit subtracts amount from the member's balance, creating the account when
	// missing, and records the debit against expenseID. A second debit for the same
	// expense fails with ErrDuplicate.
	Debit(ctx context.Context, orgID, userID, expenseID uuid.UUID, amount decimal.Decimal) (*model.BalanceDebit, error)
	FindDebit(ctx context.Context, orgID, expenseID uuid.UUID) (*model.BalanceDebit, error)
}

type balanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) BalanceRepository {
	return &balanceRepository{db: db}
}

func (r *balanceRepository) Get(ctx context.Context, orgID, userID uuid.UUID) (*model.BalanceAccount, error) {
	var account model.BalanceAccount
	if err := GetDB(ctx, r.db).First(&account, "organization_id = ? AND user_id = ?", orgID, userID).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (r *balanceRepository) Debit(ctx context.Context, orgID, userID, expenseID uuid.UUID, amount decimal.Decimal) (*model.BalanceDebit, error) {
	db := GetDB(ctx, r.db)

	account := model.BalanceAccount{
		UserID:         userID,
		OrganizationID: orgID,
		Balance:        amount.Neg(),
	}
	err := db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "organization_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":    gorm.Expr("balance_accounts.balance - ?", amount),
				"updated_at": time.Now(),
			}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "balance"}}},
	).Create(&account).Error
	if err != nil {
		return nil, err
	}

	debit := model.BalanceDebit{
		ID:             uuid.New(),
		OrganizationID: orgID,
		UserID:         userID,
		ExpenseID:      expenseID,
		Amount:         amount,
		BalanceAfter:   account.Balance,
	}
	if err := db.Create(&debit).Error; err != nil {
		return nil, translate(err)
	}
	return &debit, nil
}

func (r *balanceRepository) FindDebit(ctx context.Context, orgID, expenseID uuid.UUID) (*model.BalanceDebit, error) {
	var debit model.BalanceDebit
	if err := GetDB(ctx, r.db).First(&debit, "organization_id = ? AND expense_id = ?", orgID, expenseID).Error; err != nil {
		return nil, translate(err)
	}
	return &debit, nil
}
