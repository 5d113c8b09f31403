package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FieldType enum constants for category form templates
const (
	FieldTypeText     = "text"
	FieldTypeNumber   = "number"
	FieldTypeDate     = "date"
	FieldTypeSelect   = "select"
	FieldTypeCheckbox = "checkbox"
)

// DefaultAttachmentThreshold applies when an organization has no policy row.
var DefaultAttachmentThreshold = decimal.NewFromInt(50)

// OrganizationPolicy holds the per-organization thresholds read by the lifecycle engine.
type OrganizationPolicy struct {
	OrganizationID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"organization_id"`
	AttachmentRequiredAboveAmount decimal.Decimal `gorm:"type:decimal(18,4);not null;default:50" json:"attachment_required_above_amount"`
	BlockOnInsufficientBalance    bool            `gorm:"default:false" json:"block_on_insufficient_balance"`
	UpdatedAt                     time.Time       `json:"updated_at"`
}

// Category is an expense category configured by an organization.
type Category struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_categories_org_name" json:"organization_id"`
	Name           string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_categories_org_name" json:"name"`
	Active         bool      `gorm:"default:true" json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// FormFieldTemplate describes one dynamic form field and its validation rule.
type FormFieldTemplate struct {
	ID             uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrganizationID uuid.UUID           `gorm:"type:uuid;not null;index" json:"organization_id"`
	Key            string              `gorm:"type:varchar(100);not null" json:"key"`
	Label          string              `gorm:"type:varchar(255);not null" json:"label"`
	FieldType      string              `gorm:"type:varchar(20);not null" json:"field_type"` // text, number, date, select, checkbox
	Required       bool                `gorm:"default:false" json:"required"`
	Min            decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"min"`
	Max            decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"max"`
	Options        string              `gorm:"type:jsonb;not null;default:'[]'" json:"options"` // Serialized []string for select fields
	CreatedAt      time.Time           `json:"created_at"`
}

// CategoryFormField assigns a template to a category. Required, when set,
// overrides the template's own default.
type CategoryFormField struct {
	ID             uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrganizationID uuid.UUID         `gorm:"type:uuid;not null;index" json:"organization_id"`
	CategoryName   string            `gorm:"type:varchar(100);not null;index" json:"category_name"`
	TemplateID     uuid.UUID         `gorm:"type:uuid;not null" json:"template_id"`
	Template       FormFieldTemplate `gorm:"foreignKey:TemplateID" json:"template"`
	Position       int               `gorm:"not null;default:0" json:"position"`
	Required       *bool             `json:"required"`
}

// FieldRule is a template assignment resolved for validation.
type FieldRule struct {
	TemplateID uuid.UUID           `json:"template_id"`
	Key        string              `json:"key"`
	Label      string              `json:"label"`
	Type       string              `json:"type"`
	Required   bool                `json:"required"`
	Min        decimal.NullDecimal `json:"min"`
	Max        decimal.NullDecimal `json:"max"`
	Options    []string            `json:"options"`
}

// Policy is the assembled, read-only view of an organization's configuration.
type Policy struct {
	OrganizationID                uuid.UUID              `json:"organization_id"`
	AttachmentRequiredAboveAmount decimal.Decimal        `json:"attachment_required_above_amount"`
	BlockOnInsufficientBalance    bool                   `json:"block_on_insufficient_balance"`
	Categories                    map[string]bool        `json:"categories"` // name -> active
	CategoryFields                map[string][]FieldRule `json:"category_fields"`
}

// DefaultPolicy returns the configuration used for organizations without a policy row.
func DefaultPolicy(orgID uuid.UUID) *Policy {
	return &Policy{
		OrganizationID:                orgID,
		AttachmentRequiredAboveAmount: DefaultAttachmentThreshold,
		Categories:                    map[string]bool{},
		CategoryFields:                map[string][]FieldRule{},
	}
}

// CategoryActive reports whether name is a configured, active category.
func (p *Policy) CategoryActive(name string) bool {
	return p.Categories[name]
}

// RequiresAttachment applies the strict "above threshold" rule.
func (p *Policy) RequiresAttachment(amount decimal.Decimal) bool {
	return amount.GreaterThan(p.AttachmentRequiredAboveAmount)
}
