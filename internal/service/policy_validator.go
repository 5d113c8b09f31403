package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pettycash/internal/model"

	"github.com/shopspring/decimal"
)

const fieldDateLayout = "2006-01-02"

// ClaimInput is the submitter-editable part of an expense, shared by create and resubmit.
type ClaimInput struct {
	TotalAmount   string            `json:"total_amount"` // Decimal string
	Category      string            `json:"category"`
	Description   string            `json:"description"`
	Fields        map[string]string `json:"fields"`
	TemporarySlot string            `json:"temporary_slot"` // Upload slot whose pending attachments are bound; empty is the default slot
}

// FieldValue is one validated dynamic form value. Exactly one payload is set, chosen by Type.
type FieldValue struct {
	Type    string           `json:"type"`
	Text    string           `json:"text,omitempty"`
	Number  *decimal.Decimal `json:"number,omitempty"`
	Date    string           `json:"date,omitempty"`
	Checked *bool            `json:"checked,omitempty"`
}

type validatedClaim struct {
	Amount      decimal.Decimal
	Category    string
	Description string
	Values      map[string]FieldValue
}

// fieldValuesJSON serializes the values for the expense's jsonb column.
func (v validatedClaim) fieldValuesJSON() (string, error) {
	if len(v.Values) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(v.Values)
	if err != nil {
		return "", fmt.Errorf("failed to encode field values: %w", err)
	}
	return string(raw), nil
}

// validateClaim checks category, then the category's form fields, then the amount.
// Keys without a matching template are ignored.
func validateClaim(policy *model.Policy, input ClaimInput) (validatedClaim, error) {
	category := strings.TrimSpace(input.Category)
	if !policy.CategoryActive(category) {
		return validatedClaim{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	values := make(map[string]FieldValue)
	for _, rule := range policy.CategoryFields[category] {
		raw := strings.TrimSpace(input.Fields[rule.Key])
		if raw == "" {
			if rule.Required {
				return validatedClaim{}, fieldError(rule.Key, "is required")
			}
			continue
		}
		value, err := parseFieldValue(rule, raw)
		if err != nil {
			return validatedClaim{}, err
		}
		values[rule.Key] = value
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(input.TotalAmount))
	if err != nil || !amount.IsPositive() {
		return validatedClaim{}, ErrInvalidAmount
	}

	return validatedClaim{
		Amount:      amount,
		Category:    category,
		Description: strings.TrimSpace(input.Description),
		Values:      values,
	}, nil
}

func parseFieldValue(rule model.FieldRule, raw string) (FieldValue, error) {
	switch rule.Type {
	case model.FieldTypeNumber:
		n, err := decimal.NewFromString(raw)
		if err != nil {
			return FieldValue{}, fieldError(rule.Key, "must be a number")
		}
		if rule.Min.Valid && n.LessThan(rule.Min.Decimal) {
			return FieldValue{}, fieldError(rule.Key, "must be at least "+rule.Min.Decimal.String())
		}
		if rule.Max.Valid && n.GreaterThan(rule.Max.Decimal) {
			return FieldValue{}, fieldError(rule.Key, "must be at most "+rule.Max.Decimal.String())
		}
		return FieldValue{Type: rule.Type, Number: &n}, nil

	case model.FieldTypeDate:
		if _, err := time.Parse(fieldDateLayout, raw); err != nil {
			return FieldValue{}, fieldError(rule.Key, "must be a date formatted YYYY-MM-DD")
		}
		return FieldValue{Type: rule.Type, Date: raw}, nil

	case model.FieldTypeSelect:
		if len(rule.Options) > 0 && !containsString(rule.Options, raw) {
			return FieldValue{}, fieldError(rule.Key, "must be one of "+strings.Join(rule.Options, ", "))
		}
		return FieldValue{Type: rule.Type, Text: raw}, nil

	case model.FieldTypeCheckbox:
		checked, err := strconv.ParseBool(raw)
		if err != nil {
			return FieldValue{}, fieldError(rule.Key, "must be true or false")
		}
		if rule.Required && !checked {
			return FieldValue{}, fieldError(rule.Key, "must be checked")
		}
		return FieldValue{Type: rule.Type, Checked: &checked}, nil
	}

	return FieldValue{Type: model.FieldTypeText, Text: raw}, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
