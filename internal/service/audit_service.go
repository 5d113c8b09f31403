package service

import (
	"context"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
)

// Timeline tones
const (
	ToneSuccess = "success"
	ToneCaution = "caution"
	ToneFailure = "failure"
	ToneInfo    = "info"
	ToneNeutral = "neutral"
)

type TimelineEntry struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	Tone      string `json:"tone"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at"`
}

// AuditLogEntry is one row of the organization-wide activity feed.
type AuditLogEntry struct {
	TimelineEntry
	ExpenseID string `json:"expense_id"`
}

type AuditLogFilter struct {
	Action string
	Page   int
	Limit  int
}

type AuditService interface {
	// Timeline returns the expense's audit entries newest first.
	Timeline(ctx context.Context, actor model.Actor, expenseID uuid.UUID) ([]TimelineEntry, error)
	// ListLogs is the organization feed; admins and cashiers only.
	ListLogs(ctx context.Context, actor model.Actor, filter AuditLogFilter) ([]AuditLogEntry, int64, error)
}

type auditService struct {
	expenseRepo repository.ExpenseRepository
	auditRepo   repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(expenseRepo repository.ExpenseRepository, auditRepo repository.AuditRepository) AuditService {
	return &auditService{expenseRepo: expenseRepo, auditRepo: auditRepo}
}

func (s *auditService) Timeline(ctx context.Context, actor model.Actor, expenseID uuid.UUID) ([]TimelineEntry, error) {
	expense, err := s.expenseRepo.FindByID(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}
	if !canView(actor, expense) {
		return nil, ErrForbidden
	}

	entries, err := s.auditRepo.ListByExpense(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}

	res := make([]TimelineEntry, 0, len(entries))
	for _, e := range entries {
		res = append(res, toTimelineEntry(e))
	}
	return res, nil
}

func (s *auditService) ListLogs(ctx context.Context, actor model.Actor, filter AuditLogFilter) ([]AuditLogEntry, int64, error) {
	if !actor.SeesOrganization() {
		return nil, 0, ErrForbidden
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	entries, total, err := s.auditRepo.ListByOrganization(ctx, actor.OrganizationID, filter.Action, (filter.Page-1)*filter.Limit, filter.Limit)
	if err != nil {
		return nil, 0, storageError(err, ErrNotFound)
	}

	res := make([]AuditLogEntry, 0, len(entries))
	for _, e := range entries {
		res = append(res, AuditLogEntry{TimelineEntry: toTimelineEntry(e), ExpenseID: e.ExpenseID.String()})
	}
	return res, total, nil
}

func toTimelineEntry(e model.AuditLogEntry) TimelineEntry {
	return TimelineEntry{
		ID:        e.ID.String(),
		ActorID:   e.ActorID.String(),
		Action:    e.Action,
		Tone:      ToneFor(e.Action),
		Comment:   e.Comment,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// ToneFor maps an audit action to its fixed display tone.
func ToneFor(action string) string {
	switch action {
	case model.ActionApproved:
		return ToneSuccess
	case model.ActionVerified:
		return ToneCaution
	case model.ActionRejected:
		return ToneFailure
	case model.ActionResubmitted, model.ActionAssigned:
		return ToneInfo
	}
	return ToneNeutral
}
