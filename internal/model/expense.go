package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExpenseStatus enum constants
const (
	ExpenseStatusSubmitted = "SUBMITTED"
	ExpenseStatusVerified  = "VERIFIED"
	ExpenseStatusApproved  = "APPROVED"
	ExpenseStatusRejected  = "REJECTED"
)

// ValidStatus reports whether status is one of the lifecycle states.
func ValidStatus(status string) bool {
	switch status {
	case ExpenseStatusSubmitted, ExpenseStatusVerified, ExpenseStatusApproved, ExpenseStatusRejected:
		return true
	}
	return false
}

// Expense is a single reimbursement claim. TotalAmount is fixed by the submitter;
// lifecycle transitions only touch Status, AssignedVerifierID and AdminComment.
type Expense struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	SubmitterID    uuid.UUID `gorm:"type:uuid;not null;index" json:"submitter_id"`

	Status      string          `gorm:"type:varchar(20);not null;default:'SUBMITTED';index" json:"status"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total_amount"`
	Category    string          `gorm:"type:varchar(100);not null;index" json:"category"`
	Description string          `gorm:"type:text" json:"description"`
	FieldValues string          `gorm:"type:jsonb;not null;default:'{}'" json:"field_values"` // Serialized category form values

	AssignedVerifierID *uuid.UUID `gorm:"type:uuid;index" json:"assigned_verifier_id"`
	AdminComment       string     `gorm:"type:text" json:"admin_comment"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsReviewable reports whether an admin may still approve or reject the claim.
func (e *Expense) IsReviewable() bool {
	return e.Status == ExpenseStatusSubmitted || e.Status == ExpenseStatusVerified
}
