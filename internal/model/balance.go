package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceAccount is a member's petty-cash float. Balance may go negative.
type BalanceAccount struct {
	UserID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"user_id"`
	OrganizationID uuid.UUID       `gorm:"type:uuid;primaryKey" json:"organization_id"`
	Balance        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// BalanceDebit is the ledger row written for an approved expense.
// The unique index on ExpenseID makes a second debit for the same claim impossible.
type BalanceDebit struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrganizationID uuid.UUID       `gorm:"type:uuid;not null;index" json:"organization_id"`
	UserID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	ExpenseID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"expense_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"balance_after"`
	CreatedAt      time.Time       `json:"created_at"`
}
