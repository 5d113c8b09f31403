package model

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a receipt or supporting document. While ExpenseID is nil the record
// sits in its uploader's uncommitted pool, keyed by (UploaderID, TemporarySlot).
type Attachment struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ExpenseID      *uuid.UUID `gorm:"type:uuid;index" json:"expense_id"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"organization_id"`
	UploaderID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_attachments_pool" json:"uploader_id"`
	TemporarySlot  string     `gorm:"type:varchar(100);index:idx_attachments_pool" json:"temporary_slot"`
	FileName       string     `gorm:"type:varchar(255);not null" json:"file_name"`
	StorageKey     string     `gorm:"type:text;not null" json:"storage_key"`
	ContentType    string     `gorm:"type:varchar(100);not null" json:"content_type"`
	SizeBytes      int64      `gorm:"not null" json:"size_bytes"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsCommitted reports whether the attachment is bound to an expense.
func (a *Attachment) IsCommitted() bool {
	return a.ExpenseID != nil
}
