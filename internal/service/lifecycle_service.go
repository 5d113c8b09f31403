package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Lifecycle event names published after a transition commits.
const (
	EventExpenseSubmitted   = "expense.submitted"
	EventExpenseAssigned    = "expense.assigned"
	EventExpenseVerified    = "expense.verified"
	EventExpenseApproved    = "expense.approved"
	EventExpenseRejected    = "expense.rejected"
	EventExpenseResubmitted = "expense.resubmitted"
)

// --- DTOs ---

type ExpenseResponse struct {
	ID                 string          `json:"id"`
	OrganizationID     string          `json:"organization_id"`
	SubmitterID        string          `json:"submitter_id"`
	Status             string          `json:"status"`
	TotalAmount        string          `json:"total_amount"`
	Category           string          `json:"category"`
	Description        string          `json:"description"`
	FieldValues        json.RawMessage `json:"field_values" swaggertype:"object"`
	AssignedVerifierID *string         `json:"assigned_verifier_id"`
	AdminComment       string          `json:"admin_comment"`
	Resubmitted        bool            `json:"resubmitted"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`

	// Set by approve only.
	BalanceAfter   *string `json:"balance_after,omitempty"`
	BalanceWarning bool    `json:"balance_warning,omitempty"`
}

type ExpenseListFilter struct {
	Status string // SUBMITTED, VERIFIED, APPROVED, REJECTED or empty for all
	Page   int
	Limit  int
}

// EventPublisher receives lifecycle events once their transaction has committed.
type EventPublisher interface {
	Publish(event string, payload interface{})
}

// LifecycleRecorder counts lifecycle outcomes.
type LifecycleRecorder interface {
	RecordTransition(action string, err error)
	RecordDebit(amount, balanceAfter decimal.Decimal)
}

// --- Interface ---

type LifecycleService interface {
	CreateAndSubmit(ctx context.Context, actor model.Actor, input ClaimInput) (*ExpenseResponse, error)
	Assign(ctx context.Context, actor model.Actor, expenseID, verifierID uuid.UUID) (*ExpenseResponse, error)
	Verify(ctx context.Context, actor model.Actor, expenseID uuid.UUID, comment string) (*ExpenseResponse, error)
	Approve(ctx context.Context, actor model.Actor, expenseID uuid.UUID, comment string) (*ExpenseResponse, error)
	Reject(ctx context.Context, actor model.Actor, expenseID uuid.UUID, comment string) (*ExpenseResponse, error)
	Resubmit(ctx context.Context, actor model.Actor, expenseID uuid.UUID, input ClaimInput) (*ExpenseResponse, error)
	Get(ctx context.Context, actor model.Actor, expenseID uuid.UUID) (*ExpenseResponse, error)
	List(ctx context.Context, actor model.Actor, filter ExpenseListFilter) ([]ExpenseResponse, int64, error)
}

type LifecycleDeps struct {
	Expenses    repository.ExpenseRepository
	Attachments repository.AttachmentRepository
	Audit       repository.AuditRepository
	Balances    repository.BalanceRepository
	Users       repository.UserRepository
	Policies    repository.PolicyRepository
	TxManager   repository.TransactionManager
	Events      EventPublisher    // optional
	Recorder    LifecycleRecorder // optional
	Logger      *zap.Logger       // optional
}

type lifecycleService struct {
	LifecycleDeps
}

func NewLifecycleService(deps LifecycleDeps) LifecycleService {
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &lifecycleService{LifecycleDeps: deps}
}

// --- Implementation ---

func (s *lifecycleService) CreateAndSubmit(ctx context.Context, actor model.Actor, input ClaimInput) (*ExpenseResponse, error) {
	const action = model.ActionSubmitted
	if !actor.CanSubmit() {
		return nil, s.settle(action, actor, nil, ErrInvalidTransition)
	}

	policy, claim, err := s.validate(ctx, actor.OrganizationID, input)
	if err != nil {
		return nil, s.settle(action, actor, nil, err)
	}
	fieldValues, err := claim.fieldValuesJSON()
	if err != nil {
		return nil, s.settle(action, actor, nil, err)
	}

	expense := model.Expense{
		OrganizationID: actor.OrganizationID,
		SubmitterID:    actor.UserID,
		Status:         model.ExpenseStatusSubmitted,
		TotalAmount:    claim.Amount,
		Category:       claim.Category,
		Description:    claim.Description,
		FieldValues:    fieldValues,
	}

	err = s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		if lockErr := s.Attachments.LockPool(txCtx, actor.OrganizationID, actor.UserID); lockErr != nil {
			return fmt.Errorf("failed to lock attachment pool: %w", lockErr)
		}
		pending, listErr := s.Attachments.ListUncommitted(txCtx, actor.OrganizationID, actor.UserID, strings.TrimSpace(input.TemporarySlot))
		if listErr != nil {
			return fmt.Errorf("failed to list pending attachments: %w", listErr)
		}
		if policy.RequiresAttachment(claim.Amount) && len(pending) == 0 {
			return ErrAttachmentRequired
		}

		if createErr := s.Expenses.Create(txCtx, &expense); createErr != nil {
			return fmt.Errorf("failed to create expense: %w", createErr)
		}
		if bindErr := s.bindPending(txCtx, actor.OrganizationID, pending, expense.ID); bindErr != nil {
			return bindErr
		}

		if auditErr := s.appendAudit(txCtx, &expense, actor, model.ActionCreated, ""); auditErr != nil {
			return auditErr
		}
		return s.appendAudit(txCtx, &expense, actor, model.ActionSubmitted, "")
	})
	if err != nil {
		return nil, s.settle(action, actor, nil, storageError(err, ErrNotFound))
	}

	s.settle(action, actor, &expense, nil)
	s.Events.Publish(EventExpenseSubmitted, eventPayload(&expense, actor))
	return toExpenseResponse(&expense, false), nil
}

func (s *lifecycleService) Assign(ctx context.Context, actor model.Actor, expenseID, verifierID uuid.UUID) (*ExpenseResponse, error) {
	const action = model.ActionAssigned
	if !actor.IsAdmin() {
		return nil, s.settle(action, actor, nil, ErrInvalidTransition)
	}

	expense, err := s.load(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, s.settle(action, actor, nil, err)
	}
	if expense.Status != model.ExpenseStatusSubmitted {
		return nil, s.settle(action, actor, expense, ErrInvalidTransition)
	}

	verifier, err := s.Users.GetByID(ctx, actor.OrganizationID, verifierID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.settle(action, actor, expense, fieldError("verifier_id", "is not a member of this organization"))
		}
		return nil, s.settle(action, actor, expense, storageError(err, ErrNotFound))
	}
	if verifier.Role != model.RoleEngineer && verifier.Role != model.RoleAdmin {
		return nil, s.settle(action, actor, expense, fieldError("verifier_id", "must be an engineer or admin"))
	}

	change := repository.StatusChange{Status: model.ExpenseStatusSubmitted, AssignedVerifierID: &verifier.ID}
	resubmitted, err := s.transition(ctx, actor, expense, action, []string{model.ExpenseStatusSubmitted}, change, "", nil)
	if err != nil {
		return nil, err
	}

	s.Events.Publish(EventExpenseAssigned, eventPayload(expense, actor))
	return toExpenseResponse(expense, resubmitted), nil
}

func (s *lifecycleService) Verify(ctx context.Context, actor model.Actor, expenseID uuid.UUID, comment string) (*ExpenseResponse, error) {
	const action = model.ActionVerified
	expense, err := s.load(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, s.settle(action, actor, nil, err)
	}

	assigned := expense.AssignedVerifierID != nil && *expense.AssignedVerifierID == actor.UserID
	if !actor.IsAdmin() && !(actor.Role == model.RoleEngineer && assigned) {
		return nil, s.settle(action, actor, expense, ErrInvalidTransition)
	}
	if expense.Status != model.ExpenseStatusSubmitted {
		return nil, s.settle(action, actor, expense, ErrInvalidTransition)
	}

	comment = strings.TrimSpace(comment)
	change := repository.StatusChange{Status: model.ExpenseStatusVerified}
	if !actor.IsAdmin() {
		change.ExpectedVerifierID = &actor.UserID
	}
	if comment != "" {
		change.AdminComment = &comment
	}
	resubmitted, err := s.transition(ctx, actor, expense, action, []string{model.ExpenseStatusSubmitted}, change, comment, nil)
	if err != nil {
		return nil, err
	}

	s.Events.Publish(EventExpenseVerified, eventPayload(expense, actor))
	return toExpenseResponse(expense, resubmitted), nil
}

// Approve moves a reviewable expense to APPROVED and debits the submitter's balance
// in the same transaction. The conditional status write guarantees one debit per expense.
func (s *lifecycleService) Approve(ctx context.Context, actor model.Actor, expenseID uuid.UUID, comment string) (*ExpenseResponse, error) {
	const action = model.ActionApproved
	if !actor.IsAdmin() {
		return nil, s.settle(action, actor, nil, ErrInvalidTransition)
	}

	expense, err := s.load(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, s.settle(action, actor, nil, err)
	}
	if !expense.IsReviewable() {
		return nil, s.settle(action, actor, expense, ErrInvalidTransition)
	}

	policy, err := s.Policies.GetPolicy(ctx, actor.OrganizationID)
	if err != nil {
		return nil, s.settle(action, actor, expense, storageError(err, ErrStorageUnavailable))
	}

	comment = strings.TrimSpace(comment)
	change := repository.StatusChange{Status: model.ExpenseStatusApproved, AdminComment: &comment}
	var debit *model.BalanceDebit
	resubmitted, err := s.transition(ctx, actor, expense, action,
		[]string{model.ExpenseStatusSubmitted, model.ExpenseStatusVerified}, change, comment,
		func(txCtx context.Context) error {
			d, debitErr := s.Balances.Debit(txCtx, expense.OrganizationID, expense.SubmitterID, expense.ID, expense.TotalAmount)
			if debitErr != nil {
				return fmt.Errorf("failed to debit balance: %w", debitErr)
			}
			if policy.BlockOnInsufficientBalance && d.BalanceAfter.IsNegative() {
				return ErrInsufficientBalance
			}
			debit = d
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.Recorder.RecordDebit(debit.Amount, debit.BalanceAfter)
	if debit.BalanceAfter.IsNegative() {
		s.Logger.Warn("approved expense left submitter balance negative",
			zap.String("expense_id", expense.ID.String()),
			zap.String("submitter_id", expense.SubmitterID.String()),
			zap.String("balance_after", debit.BalanceAfter.StringFixed(2)),
		)
	}

	res := toExpenseResponse(expense, resubmitted)
	balanceAfter := debit.BalanceAfter.StringFixed(2)
	res.BalanceAfter = &balanceAfter
	res.BalanceWarning = debit.BalanceAfter.IsNegative()

	s.Events.Publish(EventExpenseApproved, eventPayload(expense, actor))
	return res, nil
}

func (s *lifecycleService) Reject(ctx context.Context, actor model.Actor, expenseID uuid.UUID, comment string) (*ExpenseResponse, error) {
	const action = model.ActionRejected
	if !actor.IsAdmin() {
		return nil, s.settle(action, actor, nil, ErrInvalidTransition)
	}

	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, s.settle(action, actor, nil, fieldError("comment", "is required when rejecting"))
	}

	expense, err := s.load(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, s.settle(action, actor, nil, err)
	}
	if !expense.IsReviewable() {
		return nil, s.settle(action, actor, expense, ErrInvalidTransition)
	}

	change := repository.StatusChange{Status: model.ExpenseStatusRejected, AdminComment: &comment}
	resubmitted, err := s.transition(ctx, actor, expense, action,
		[]string{model.ExpenseStatusSubmitted, model.ExpenseStatusVerified}, change, comment, nil)
	if err != nil {
		return nil, err
	}

	s.Events.Publish(EventExpenseRejected, eventPayload(expense, actor))
	return toExpenseResponse(expense, resubmitted), nil
}

// Resubmit replaces the claim of a rejected expense and returns it to SUBMITTED.
// The verifier assignment and the last reviewer comment are kept.
func (s *lifecycleService) Resubmit(ctx context.Context, actor model.Actor, expenseID uuid.UUID, input ClaimInput) (*ExpenseResponse, error) {
	const action = model.ActionResubmitted
	expense, err := s.load(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, s.settle(action, actor, nil, err)
	}
	if expense.SubmitterID != actor.UserID || expense.Status != model.ExpenseStatusRejected {
		return nil, s.settle(action, actor, expense, ErrInvalidTransition)
	}

	policy, claim, err := s.validate(ctx, actor.OrganizationID, input)
	if err != nil {
		return nil, s.settle(action, actor, expense, err)
	}
	fieldValues, err := claim.fieldValuesJSON()
	if err != nil {
		return nil, s.settle(action, actor, expense, err)
	}

	updated := *expense
	updated.Status = model.ExpenseStatusSubmitted
	updated.TotalAmount = claim.Amount
	updated.Category = claim.Category
	updated.Description = claim.Description
	updated.FieldValues = fieldValues

	err = s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		if lockErr := s.Attachments.LockPool(txCtx, actor.OrganizationID, actor.UserID); lockErr != nil {
			return fmt.Errorf("failed to lock attachment pool: %w", lockErr)
		}
		committed, countErr := s.Attachments.CountByExpense(txCtx, actor.OrganizationID, expense.ID)
		if countErr != nil {
			return fmt.Errorf("failed to count attachments: %w", countErr)
		}
		pending, listErr := s.Attachments.ListUncommitted(txCtx, actor.OrganizationID, actor.UserID, strings.TrimSpace(input.TemporarySlot))
		if listErr != nil {
			return fmt.Errorf("failed to list pending attachments: %w", listErr)
		}
		if policy.RequiresAttachment(claim.Amount) && committed == 0 && len(pending) == 0 {
			return ErrAttachmentRequired
		}

		if replaceErr := s.Expenses.ReplaceClaim(txCtx, &updated, model.ExpenseStatusRejected); replaceErr != nil {
			return replaceErr
		}
		if bindErr := s.bindPending(txCtx, actor.OrganizationID, pending, expense.ID); bindErr != nil {
			return bindErr
		}
		return s.appendAudit(txCtx, &updated, actor, model.ActionResubmitted, "")
	})
	if err != nil {
		return nil, s.settle(action, actor, expense, storageError(err, ErrNotFound))
	}

	updated.UpdatedAt = time.Now()
	s.settle(action, actor, &updated, nil)
	s.Events.Publish(EventExpenseResubmitted, eventPayload(&updated, actor))
	return toExpenseResponse(&updated, true), nil
}

func (s *lifecycleService) Get(ctx context.Context, actor model.Actor, expenseID uuid.UUID) (*ExpenseResponse, error) {
	expense, err := s.loadVisible(ctx, actor, expenseID)
	if err != nil {
		return nil, err
	}
	resubmitted, err := s.isResubmitted(ctx, expense)
	if err != nil {
		return nil, err
	}
	return toExpenseResponse(expense, resubmitted), nil
}

func (s *lifecycleService) List(ctx context.Context, actor model.Actor, filter ExpenseListFilter) ([]ExpenseResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	repoFilter := repository.ExpenseFilter{Status: filter.Status}
	if !actor.SeesOrganization() {
		uid := actor.UserID
		repoFilter.VisibleTo = &uid
	}

	expenses, total, err := s.Expenses.List(ctx, actor.OrganizationID, repoFilter, filter.Page, filter.Limit)
	if err != nil {
		return nil, 0, storageError(err, ErrNotFound)
	}

	result := make([]ExpenseResponse, 0, len(expenses))
	for i := range expenses {
		resubmitted, err := s.isResubmitted(ctx, &expenses[i])
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *toExpenseResponse(&expenses[i], resubmitted))
	}
	return result, total, nil
}

// --- Helpers ---

func (s *lifecycleService) validate(ctx context.Context, orgID uuid.UUID, input ClaimInput) (*model.Policy, validatedClaim, error) {
	policy, err := s.Policies.GetPolicy(ctx, orgID)
	if err != nil {
		return nil, validatedClaim{}, storageError(err, ErrStorageUnavailable)
	}
	claim, err := validateClaim(policy, input)
	if err != nil {
		return nil, validatedClaim{}, err
	}
	return policy, claim, nil
}

// transition runs the conditional status write, the optional side effect and the
// audit entry in one transaction, then applies change to expense.
func (s *lifecycleService) transition(
	ctx context.Context,
	actor model.Actor,
	expense *model.Expense,
	action string,
	expected []string,
	change repository.StatusChange,
	comment string,
	sideEffect func(txCtx context.Context) error,
) (bool, error) {
	var resubmitted bool
	err := s.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.Expenses.Transition(txCtx, expense.OrganizationID, expense.ID, expected, change); err != nil {
			return err
		}
		if sideEffect != nil {
			if err := sideEffect(txCtx); err != nil {
				return err
			}
		}
		if err := s.appendAudit(txCtx, expense, actor, action, comment); err != nil {
			return err
		}
		n, err := s.Audit.CountByAction(txCtx, expense.OrganizationID, expense.ID, model.ActionResubmitted)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		resubmitted = n > 0
		return nil
	})
	if err != nil {
		return false, s.settle(action, actor, expense, storageError(err, ErrNotFound))
	}

	expense.Status = change.Status
	if change.AssignedVerifierID != nil {
		v := *change.AssignedVerifierID
		expense.AssignedVerifierID = &v
	}
	if change.AdminComment != nil {
		expense.AdminComment = *change.AdminComment
	}
	expense.UpdatedAt = time.Now()

	s.settle(action, actor, expense, nil)
	return resubmitted, nil
}

func (s *lifecycleService) bindPending(ctx context.Context, orgID uuid.UUID, pending []model.Attachment, expenseID uuid.UUID) error {
	if len(pending) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(pending))
	for _, a := range pending {
		ids = append(ids, a.ID)
	}
	bound, err := s.Attachments.Commit(ctx, orgID, ids, expenseID)
	if err != nil {
		return fmt.Errorf("failed to bind attachments: %w", err)
	}
	if bound != int64(len(ids)) {
		return fmt.Errorf("%w: bound %d of %d pending attachments", ErrStorageUnavailable, bound, len(ids))
	}
	return nil
}

func (s *lifecycleService) appendAudit(ctx context.Context, expense *model.Expense, actor model.Actor, action, comment string) error {
	entry := model.AuditLogEntry{
		ExpenseID:      expense.ID,
		OrganizationID: expense.OrganizationID,
		ActorID:        actor.UserID,
		Action:         action,
		Comment:        comment,
	}
	if err := s.Audit.Append(ctx, &entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *lifecycleService) load(ctx context.Context, orgID, id uuid.UUID) (*model.Expense, error) {
	expense, err := s.Expenses.FindByID(ctx, orgID, id)
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}
	return expense, nil
}

func (s *lifecycleService) loadVisible(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Expense, error) {
	expense, err := s.load(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, expense) {
		return nil, ErrForbidden
	}
	return expense, nil
}

func (s *lifecycleService) isResubmitted(ctx context.Context, expense *model.Expense) (bool, error) {
	n, err := s.Audit.CountByAction(ctx, expense.OrganizationID, expense.ID, model.ActionResubmitted)
	if err != nil {
		return false, storageError(err, ErrNotFound)
	}
	return n > 0, nil
}

// settle records the outcome of an operation and returns err unchanged.
func (s *lifecycleService) settle(action string, actor model.Actor, expense *model.Expense, err error) error {
	s.Recorder.RecordTransition(action, err)

	fields := []zap.Field{
		zap.String("action", action),
		zap.String("actor_id", actor.UserID.String()),
		zap.String("organization_id", actor.OrganizationID.String()),
	}
	if expense != nil {
		fields = append(fields, zap.String("expense_id", expense.ID.String()), zap.String("status", expense.Status))
	}

	switch {
	case err == nil:
		s.Logger.Info("expense transition committed", fields...)
	case errors.Is(err, ErrStorageUnavailable):
		s.Logger.Error("expense transition failed", append(fields, zap.Error(err))...)
	default:
		s.Logger.Info("expense transition refused", append(fields, zap.String("code", ErrorCode(err)))...)
	}
	return err
}

// canView applies read visibility: admin and cashier see the organization,
// everyone else sees claims they submitted or are assigned to verify.
func canView(actor model.Actor, expense *model.Expense) bool {
	if actor.SeesOrganization() || expense.SubmitterID == actor.UserID {
		return true
	}
	return expense.AssignedVerifierID != nil && *expense.AssignedVerifierID == actor.UserID
}

// eventPayload carries the ids the hub routes on: organization, submitter and
// assigned verifier.
func eventPayload(expense *model.Expense, actor model.Actor) map[string]interface{} {
	payload := map[string]interface{}{
		"expense_id":      expense.ID.String(),
		"organization_id": expense.OrganizationID.String(),
		"submitter_id":    expense.SubmitterID.String(),
		"status":          expense.Status,
		"total_amount":    expense.TotalAmount.StringFixed(2),
		"actor_id":        actor.UserID.String(),
	}
	if expense.AssignedVerifierID != nil {
		payload["assigned_verifier_id"] = expense.AssignedVerifierID.String()
	}
	return payload
}

func toExpenseResponse(e *model.Expense, resubmitted bool) *ExpenseResponse {
	var verifierID *string
	if e.AssignedVerifierID != nil {
		s := e.AssignedVerifierID.String()
		verifierID = &s
	}
	fieldValues := e.FieldValues
	if fieldValues == "" {
		fieldValues = "{}"
	}
	return &ExpenseResponse{
		ID:                 e.ID.String(),
		OrganizationID:     e.OrganizationID.String(),
		SubmitterID:        e.SubmitterID.String(),
		Status:             e.Status,
		TotalAmount:        e.TotalAmount.StringFixed(2),
		Category:           e.Category,
		Description:        e.Description,
		FieldValues:        json.RawMessage(fieldValues),
		AssignedVerifierID: verifierID,
		AdminComment:       e.AdminComment,
		Resubmitted:        resubmitted,
		CreatedAt:          e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          e.UpdatedAt.Format(time.RFC3339),
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(string, error) {}
func (nopRecorder) RecordDebit(decimal.Decimal, decimal.Decimal) {}
