package model

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle audit actions
const (
	ActionCreated     = "created"
	ActionSubmitted   = "submitted"
	ActionResubmitted = "resubmitted"
	ActionAssigned    = "assigned"
	ActionVerified    = "verified"
	ActionApproved    = "approved"
	ActionRejected    = "rejected"
)

// AuditLogEntry records one lifecycle transition. Rows are never updated or deleted.
// Seq breaks ties between entries written in the same transaction.
type AuditLogEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Seq            int64     `gorm:"autoIncrement;not null;index" json:"seq"`
	ExpenseID      uuid.UUID `gorm:"type:uuid;not null;index" json:"expense_id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	ActorID        uuid.UUID `gorm:"type:uuid;not null;index" json:"actor_id"`
	Action         string    `gorm:"type:varchar(20);not null;index" json:"action"`
	Comment        string    `gorm:"type:text" json:"comment"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}
