package service

import (
	"errors"
	"fmt"

	"pettycash/internal/repository"
)

var (
	ErrInvalidTransition   = errors.New("transition not allowed from the current state or role")
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidCategory     = errors.New("category is not active for this organization")
	ErrFieldValidation     = errors.New("field validation failed")
	ErrInvalidAmount       = errors.New("total amount must be a positive decimal")
	ErrAttachmentRequired  = errors.New("an attachment is required above the organization threshold")
	ErrStorageUnavailable  = errors.New("storage unavailable, retry later")
	ErrInsufficientBalance = errors.New("insufficient balance and the organization blocks overdrafts")
	ErrForbidden           = errors.New("caller may not read this resource")
)

// FieldValidationError names the offending form field.
type FieldValidationError struct {
	Field  string
	Reason string
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

func (e *FieldValidationError) Unwrap() error { return ErrFieldValidation }

func fieldError(field, reason string) error {
	return &FieldValidationError{Field: field, Reason: reason}
}

// storageError maps repository failures onto the service taxonomy. Lookups that
// matched nothing become notFound; anything unrecognized is treated as transient.
func storageError(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicate):
		return ErrInvalidTransition
	case isServiceError(err):
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func isServiceError(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition, ErrNotFound, ErrInvalidCategory, ErrFieldValidation,
		ErrInvalidAmount, ErrAttachmentRequired, ErrStorageUnavailable,
		ErrInsufficientBalance, ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorCode returns the stable identifier exposed to API clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidCategory):
		return "INVALID_CATEGORY"
	case errors.Is(err, ErrFieldValidation):
		return "FIELD_VALIDATION"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrAttachmentRequired):
		return "ATTACHMENT_REQUIRED"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	}
	return "INTERNAL"
}
