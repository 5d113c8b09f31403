package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PolicyRepository is the read side of the organization policy store.
type PolicyRepository interface {
	GetPolicy(ctx context.Context, orgID uuid.UUID) (*model.Policy, error)
}

type policyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) GetPolicy(ctx context.Context, orgID uuid.UUID) (*model.Policy, error) {
	db := GetDB(ctx, r.db)
	policy := model.DefaultPolicy(orgID)

	var row model.OrganizationPolicy
	err := db.First(&row, "organization_id = ?", orgID).Error
	switch {
	case err == nil:
		policy.AttachmentRequiredAboveAmount = row.AttachmentRequiredAboveAmount
		policy.BlockOnInsufficientBalance = row.BlockOnInsufficientBalance
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, err
	}

	var categories []model.Category
	if err := db.Where("organization_id = ?", orgID).Find(&categories).Error; err != nil {
		return nil, err
	}
	for _, c := range categories {
		policy.Categories[c.Name] = c.Active
	}

	var assignments []model.CategoryFormField
	if err := db.Preload("Template").
		Where("organization_id = ?", orgID).
		Order("category_name asc").Order("position asc").
		Find(&assignments).Error; err != nil {
		return nil, err
	}
	for _, a := range assignments {
		rule, err := ResolveFieldRule(a)
		if err != nil {
			return nil, err
		}
		policy.CategoryFields[a.CategoryName] = append(policy.CategoryFields[a.CategoryName], rule)
	}

	return policy, nil
}

// ResolveFieldRule flattens a template assignment into a validation rule.
// The assignment-level Required flag takes precedence over the template default.
func ResolveFieldRule(a model.CategoryFormField) (model.FieldRule, error) {
	rule := model.FieldRule{
		TemplateID: a.TemplateID,
		Key:        a.Template.Key,
		Label:      a.Template.Label,
		Type:       a.Template.FieldType,
		Required:   a.Template.Required,
		Min:        a.Template.Min,
		Max:        a.Template.Max,
	}
	if a.Required != nil {
		rule.Required = *a.Required
	}
	if a.Template.Options != "" {
		if err := json.Unmarshal([]byte(a.Template.Options), &rule.Options); err != nil {
			return model.FieldRule{}, fmt.Errorf("template %s has malformed options: %w", a.TemplateID, err)
		}
	}
	return rule, nil
}
