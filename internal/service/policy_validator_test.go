package service

import (
	"testing"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateClaim_IgnoresUnknownAndOptionalFields(t *testing.T) {
	policy := model.DefaultPolicy(uuid.New())
	policy.Categories["Fuel"] = true
	policy.CategoryFields["Fuel"] = []model.FieldRule{
		{Key: "litres", Type: model.FieldTypeNumber, Min: decimal.NewNullDecimal(decimal.Zero)},
		{Key: "station", Type: model.FieldTypeText},
	}

	claim, err := validateClaim(policy, ClaimInput{
		TotalAmount: " 12.345 ",
		Category:    " Fuel ",
		Fields:      map[string]string{"litres": "", "plate": "AB-123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Fuel", claim.Category)
	assert.True(t, claim.Amount.Equal(decimal.RequireFromString("12.345")))
	assert.Empty(t, claim.Values)

	raw, err := claim.fieldValuesJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)
}

func TestValidateClaim_OverrideMakesTemplateOptional(t *testing.T) {
	required := false
	rule, err := repository.ResolveFieldRule(model.CategoryFormField{
		Template: model.FormFieldTemplate{Key: "project", FieldType: model.FieldTypeText, Required: true},
		Required: &required,
	})
	require.NoError(t, err)

	policy := model.DefaultPolicy(uuid.New())
	policy.Categories["Office"] = true
	policy.CategoryFields["Office"] = []model.FieldRule{rule}

	_, err = validateClaim(policy, ClaimInput{TotalAmount: "5", Category: "Office"})
	assert.NoError(t, err)
}

func TestParseFieldValue_UnknownTypeIsText(t *testing.T) {
	v, err := parseFieldValue(model.FieldRule{Key: "note", Type: "textarea"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, model.FieldTypeText, v.Type)
	assert.Equal(t, "hello", v.Text)
}
