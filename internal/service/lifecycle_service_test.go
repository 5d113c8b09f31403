package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pettycash/internal/model"
	"pettycash/internal/repository"
	"pettycash/internal/repository/memory"
	"pettycash/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store       *memory.Store
	lifecycle   service.LifecycleService
	audit       service.AuditService
	attachments service.AttachmentService
	balances    service.BalanceService
	events      *recordingPublisher

	org       uuid.UUID
	employee  model.Actor
	colleague model.Actor
	engineer  model.Actor
	admin     model.Actor
	cashier   model.Actor
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(event string, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	org := uuid.New()

	f := &fixture{
		store:     store,
		org:       org,
		events:    &recordingPublisher{},
		employee:  model.Actor{UserID: uuid.New(), Role: model.RoleEmployee, OrganizationID: org},
		colleague: model.Actor{UserID: uuid.New(), Role: model.RoleEmployee, OrganizationID: org},
		engineer:  model.Actor{UserID: uuid.New(), Role: model.RoleEngineer, OrganizationID: org},
		admin:     model.Actor{UserID: uuid.New(), Role: model.RoleAdmin, OrganizationID: org},
		cashier:   model.Actor{UserID: uuid.New(), Role: model.RoleCashier, OrganizationID: org},
	}
	for _, a := range []model.Actor{f.employee, f.colleague, f.engineer, f.admin, f.cashier} {
		store.SeedUser(model.User{ID: a.UserID, OrganizationID: org, Username: a.Role, Role: a.Role})
	}
	store.SeedPolicy(testPolicy(org))

	f.lifecycle = service.NewLifecycleService(service.LifecycleDeps{
		Expenses:    store.Expenses(),
		Attachments: store.Attachments(),
		Audit:       store.AuditLog(),
		Balances:    store.Balances(),
		Users:       store.Users(),
		Policies:    store.Policies(),
		TxManager:   store,
		Events:      f.events,
	})
	f.audit = service.NewAuditService(store.Expenses(), store.AuditLog())
	f.attachments = service.NewAttachmentService(store.Attachments(), store.Expenses(), nil)
	f.balances = service.NewBalanceService(store.Balances())
	return f
}

func testPolicy(org uuid.UUID) *model.Policy {
	p := model.DefaultPolicy(org)
	p.Categories["Travel"] = true
	p.Categories["Meals"] = true
	p.Categories["Legacy"] = false
	p.CategoryFields["Travel"] = []model.FieldRule{
		{
			Key:      "distance_km",
			Type:     model.FieldTypeNumber,
			Required: true,
			Min:      decimal.NewNullDecimal(decimal.NewFromInt(1)),
			Max:      decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		},
		{Key: "trip_date", Type: model.FieldTypeDate},
		{Key: "mode", Type: model.FieldTypeSelect, Options: []string{"car", "train"}},
		{Key: "policy_ack", Type: model.FieldTypeCheckbox, Required: true},
	}
	return p
}

func meals(amount string) service.ClaimInput {
	return service.ClaimInput{TotalAmount: amount, Category: "Meals", Description: "team lunch"}
}

func (f *fixture) upload(t *testing.T, actor model.Actor, slot string) *service.AttachmentResponse {
	t.Helper()
	a, err := f.attachments.Register(context.Background(), actor, service.RegisterAttachmentRequest{
		TemporarySlot: slot,
		FileName:      "receipt.pdf",
		StorageKey:    "uploads/" + uuid.NewString(),
		ContentType:   "application/pdf",
		SizeBytes:     2048,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) submit(t *testing.T, actor model.Actor, amount string) *service.ExpenseResponse {
	t.Helper()
	exp, err := f.lifecycle.CreateAndSubmit(context.Background(), actor, meals(amount))
	require.NoError(t, err)
	return exp
}

func mustID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func (f *fixture) timelineActions(t *testing.T, expenseID uuid.UUID) []string {
	t.Helper()
	entries, err := f.audit.Timeline(context.Background(), f.admin, expenseID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestCreateAndSubmit_AttachmentThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	atThreshold, err := f.lifecycle.CreateAndSubmit(ctx, f.employee, meals("50.00"))
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusSubmitted, atThreshold.Status)
	assert.Equal(t, "50.00", atThreshold.TotalAmount)

	_, err = f.lifecycle.CreateAndSubmit(ctx, f.employee, meals("50.01"))
	assert.ErrorIs(t, err, service.ErrAttachmentRequired)

	list, total, err := f.lifecycle.List(ctx, f.admin, service.ExpenseListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "refused submission must not leave an expense behind")
	assert.Len(t, list, 1)

	receipt := f.upload(t, f.employee, "")
	withReceipt, err := f.lifecycle.CreateAndSubmit(ctx, f.employee, meals("50.01"))
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusSubmitted, withReceipt.Status)

	bound, err := f.attachments.ListForExpense(ctx, f.employee, mustID(t, withReceipt.ID))
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, receipt.ID, bound[0].ID)
	assert.True(t, bound[0].Committed)

	pending, err := f.attachments.ListPending(ctx, f.employee, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, []string{model.ActionSubmitted, model.ActionCreated}, f.timelineActions(t, mustID(t, withReceipt.ID)))
}

func TestCreateAndSubmit_BindsOnlyTheRequestedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upload(t, f.employee, "draft-a")
	f.upload(t, f.employee, "draft-b")

	input := meals("75")
	input.TemporarySlot = "draft-a"
	exp, err := f.lifecycle.CreateAndSubmit(ctx, f.employee, input)
	require.NoError(t, err)

	bound, err := f.attachments.ListForExpense(ctx, f.employee, mustID(t, exp.ID))
	require.NoError(t, err)
	assert.Len(t, bound, 1)

	pending, err := f.attachments.ListPending(ctx, f.employee, "draft-b")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	input.TemporarySlot = "draft-c"
	_, err = f.lifecycle.CreateAndSubmit(ctx, f.employee, input)
	assert.ErrorIs(t, err, service.ErrAttachmentRequired)
}

func TestCreateAndSubmit_OtherUploadersPoolDoesNotCount(t *testing.T) {
	f := newFixture(t)
	f.upload(t, f.colleague, "")

	_, err := f.lifecycle.CreateAndSubmit(context.Background(), f.employee, meals("120"))
	assert.ErrorIs(t, err, service.ErrAttachmentRequired)
}

func TestCreateAndSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	validTravel := func() service.ClaimInput {
		return service.ClaimInput{
			TotalAmount: "30",
			Category:    "Travel",
			Fields: map[string]string{
				"distance_km": "42",
				"trip_date":   "2026-03-14",
				"mode":        "train",
				"policy_ack":  "true",
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(in *service.ClaimInput)
		err    error
		field  string
	}{
		{name: "unknown category", mutate: func(in *service.ClaimInput) { in.Category = "Yachts" }, err: service.ErrInvalidCategory},
		{name: "inactive category", mutate: func(in *service.ClaimInput) { in.Category = "Legacy" }, err: service.ErrInvalidCategory},
		{name: "missing required number", mutate: func(in *service.ClaimInput) { delete(in.Fields, "distance_km") }, err: service.ErrFieldValidation, field: "distance_km"},
		{name: "blank required number", mutate: func(in *service.ClaimInput) { in.Fields["distance_km"] = "  " }, err: service.ErrFieldValidation, field: "distance_km"},
		{name: "non numeric", mutate: func(in *service.ClaimInput) { in.Fields["distance_km"] = "far" }, err: service.ErrFieldValidation, field: "distance_km"},
		{name: "below min", mutate: func(in *service.ClaimInput) { in.Fields["distance_km"] = "0.5" }, err: service.ErrFieldValidation, field: "distance_km"},
		{name: "above max", mutate: func(in *service.ClaimInput) { in.Fields["distance_km"] = "1000.01" }, err: service.ErrFieldValidation, field: "distance_km"},
		{name: "bad date", mutate: func(in *service.ClaimInput) { in.Fields["trip_date"] = "14/03/2026" }, err: service.ErrFieldValidation, field: "trip_date"},
		{name: "option not offered", mutate: func(in *service.ClaimInput) { in.Fields["mode"] = "plane" }, err: service.ErrFieldValidation, field: "mode"},
		{name: "required checkbox unchecked", mutate: func(in *service.ClaimInput) { in.Fields["policy_ack"] = "false" }, err: service.ErrFieldValidation, field: "policy_ack"},
		{name: "zero amount", mutate: func(in *service.ClaimInput) { in.TotalAmount = "0" }, err: service.ErrInvalidAmount},
		{name: "negative amount", mutate: func(in *service.ClaimInput) { in.TotalAmount = "-5" }, err: service.ErrInvalidAmount},
		{name: "garbage amount", mutate: func(in *service.ClaimInput) { in.TotalAmount = "ten" }, err: service.ErrInvalidAmount},
		{name: "category checked before amount", mutate: func(in *service.ClaimInput) { in.Category = "Yachts"; in.TotalAmount = "-1" }, err: service.ErrInvalidCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validTravel()
			tt.mutate(&in)
			_, err := f.lifecycle.CreateAndSubmit(ctx, f.employee, in)
			require.ErrorIs(t, err, tt.err)
			if tt.field != "" {
				var fe *service.FieldValidationError
				require.True(t, errors.As(err, &fe))
				assert.Equal(t, tt.field, fe.Field)
			}
		})
	}

	_, total, err := f.lifecycle.List(ctx, f.admin, service.ExpenseListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	exp, err := f.lifecycle.CreateAndSubmit(ctx, f.employee, validTravel())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"distance_km":{"type":"number","number":"42"},"trip_date":{"type":"date","date":"2026-03-14"},"mode":{"type":"select","text":"train"},"policy_ack":{"type":"checkbox","checked":true}}`,
		string(exp.FieldValues))
}

func TestCreateAndSubmit_CashierCannotSubmit(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.CreateAndSubmit(context.Background(), f.cashier, meals("10"))
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestApprove_DebitsBelowZeroWithWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedBalance(f.org, f.employee.UserID, decimal.NewFromInt(400))

	f.upload(t, f.employee, "")
	exp := f.submit(t, f.employee, "1000.00")

	approved, err := f.lifecycle.Approve(ctx, f.admin, mustID(t, exp.ID), "ok")
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusApproved, approved.Status)
	assert.Equal(t, "ok", approved.AdminComment)
	require.NotNil(t, approved.BalanceAfter)
	assert.Equal(t, "-600.00", *approved.BalanceAfter)
	assert.True(t, approved.BalanceWarning)

	bal, err := f.balances.GetBalance(ctx, f.employee, f.employee.UserID)
	require.NoError(t, err)
	assert.Equal(t, "-600.00", bal.Balance)
	assert.True(t, bal.Negative)

	assert.Contains(t, f.events.names(), service.EventExpenseApproved)
}

func TestApprove_SecondCallIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := f.submit(t, f.employee, "20")
	id := mustID(t, exp.ID)

	_, err := f.lifecycle.Approve(ctx, f.admin, id, "")
	require.NoError(t, err)

	_, err = f.lifecycle.Approve(ctx, f.admin, id, "")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	assert.Equal(t, 1, f.store.DebitCount(id))
	bal, err := f.balances.GetBalance(ctx, f.admin, f.employee.UserID)
	require.NoError(t, err)
	assert.Equal(t, "-20.00", bal.Balance)

	approvals := 0
	for _, a := range f.timelineActions(t, id) {
		if a == model.ActionApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestApprove_ConcurrentCallsDebitOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedBalance(f.org, f.employee.UserID, decimal.NewFromInt(100))
	exp := f.submit(t, f.employee, "40")
	id := mustID(t, exp.ID)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.lifecycle.Approve(ctx, f.admin, id, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.store.DebitCount(id))

	bal, err := f.balances.GetBalance(ctx, f.admin, f.employee.UserID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", bal.Balance)
}

func TestApproveAndRejectRace_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := f.submit(t, f.employee, "15")
	id := mustID(t, exp.ID)

	var wg sync.WaitGroup
	var approveErr, rejectErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, approveErr = f.lifecycle.Approve(ctx, f.admin, id, "") }()
	go func() { defer wg.Done(); _, rejectErr = f.lifecycle.Reject(ctx, f.admin, id, "duplicate claim") }()
	wg.Wait()

	assert.True(t, (approveErr == nil) != (rejectErr == nil), "approve=%v reject=%v", approveErr, rejectErr)

	got, err := f.lifecycle.Get(ctx, f.admin, id)
	require.NoError(t, err)
	if approveErr == nil {
		assert.Equal(t, model.ExpenseStatusApproved, got.Status)
		assert.Equal(t, 1, f.store.DebitCount(id))
	} else {
		assert.ErrorIs(t, approveErr, service.ErrInvalidTransition)
		assert.Equal(t, model.ExpenseStatusRejected, got.Status)
		assert.Equal(t, 0, f.store.DebitCount(id))
	}
}

func TestApprove_BlockedByPolicyLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testPolicy(f.org)
	p.BlockOnInsufficientBalance = true
	f.store.SeedPolicy(p)
	f.store.SeedBalance(f.org, f.employee.UserID, decimal.NewFromInt(10))

	exp := f.submit(t, f.employee, "25")
	id := mustID(t, exp.ID)

	_, err := f.lifecycle.Approve(ctx, f.admin, id, "")
	assert.ErrorIs(t, err, service.ErrInsufficientBalance)

	got, err := f.lifecycle.Get(ctx, f.admin, id)
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusSubmitted, got.Status)
	assert.Equal(t, 0, f.store.DebitCount(id))
	assert.NotContains(t, f.timelineActions(t, id), model.ActionApproved)

	bal, err := f.balances.GetBalance(ctx, f.admin, f.employee.UserID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", bal.Balance)

	f.store.SeedBalance(f.org, f.employee.UserID, decimal.NewFromInt(25))
	approved, err := f.lifecycle.Approve(ctx, f.admin, id, "")
	require.NoError(t, err)
	assert.Equal(t, "0.00", *approved.BalanceAfter)
	assert.False(t, approved.BalanceWarning)
}

func TestReviewActions_RequireAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustID(t, f.submit(t, f.employee, "10").ID)

	for _, actor := range []model.Actor{f.employee, f.engineer, f.cashier} {
		_, err := f.lifecycle.Approve(ctx, actor, id, "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition, actor.Role)
		_, err = f.lifecycle.Reject(ctx, actor, id, "no")
		assert.ErrorIs(t, err, service.ErrInvalidTransition, actor.Role)
		_, err = f.lifecycle.Assign(ctx, actor, id, f.engineer.UserID)
		assert.ErrorIs(t, err, service.ErrInvalidTransition, actor.Role)
	}
	assert.Equal(t, []string{model.ActionSubmitted, model.ActionCreated}, f.timelineActions(t, id))
}

func TestUnknownExpense_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := uuid.New()

	_, err := f.lifecycle.Approve(ctx, f.admin, missing, "")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.lifecycle.Verify(ctx, f.admin, missing, "")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.lifecycle.Get(ctx, f.admin, missing)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.audit.Timeline(ctx, f.admin, missing)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestExpensesAreScopedToOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustID(t, f.submit(t, f.employee, "10").ID)

	outsider := model.Actor{UserID: uuid.New(), Role: model.RoleAdmin, OrganizationID: uuid.New()}
	_, err := f.lifecycle.Approve(ctx, outsider, id, "")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.lifecycle.Get(ctx, outsider, id)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestVerifyThenReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustID(t, f.submit(t, f.employee, "30").ID)

	_, err := f.lifecycle.Verify(ctx, f.engineer, id, "")
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "unassigned engineer")

	assigned, err := f.lifecycle.Assign(ctx, f.admin, id, f.engineer.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusSubmitted, assigned.Status)
	require.NotNil(t, assigned.AssignedVerifierID)
	assert.Equal(t, f.engineer.UserID.String(), *assigned.AssignedVerifierID)

	verified, err := f.lifecycle.Verify(ctx, f.engineer, id, "")
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusVerified, verified.Status)

	_, err = f.lifecycle.Verify(ctx, f.engineer, id, "")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
	_, err = f.lifecycle.Assign(ctx, f.admin, id, f.engineer.UserID)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	rejected, err := f.lifecycle.Reject(ctx, f.admin, id, "receipt illegible")
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusRejected, rejected.Status)
	assert.Equal(t, "receipt illegible", rejected.AdminComment)

	entries, err := f.audit.Timeline(ctx, f.employee, id)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, model.ActionRejected, entries[0].Action)
	assert.Equal(t, service.ToneFailure, entries[0].Tone)
	assert.Equal(t, "receipt illegible", entries[0].Comment)
	assert.Equal(t, model.ActionVerified, entries[1].Action)
	assert.Equal(t, model.ActionAssigned, entries[2].Action)
	assert.Equal(t, model.ActionSubmitted, entries[3].Action)
	assert.Equal(t, model.ActionCreated, entries[4].Action)
}

func TestAdminMayVerifyWithoutAssignment(t *testing.T) {
	f := newFixture(t)
	id := mustID(t, f.submit(t, f.employee, "30").ID)

	verified, err := f.lifecycle.Verify(context.Background(), f.admin, id, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusVerified, verified.Status)
	assert.Equal(t, "looks fine", verified.AdminComment)
}

func TestAssign_VerifierMustBeEngineerOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustID(t, f.submit(t, f.employee, "30").ID)

	_, err := f.lifecycle.Assign(ctx, f.admin, id, f.colleague.UserID)
	var fe *service.FieldValidationError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "verifier_id", fe.Field)

	_, err = f.lifecycle.Assign(ctx, f.admin, id, uuid.New())
	assert.ErrorIs(t, err, service.ErrFieldValidation)

	_, err = f.lifecycle.Assign(ctx, f.admin, id, f.admin.UserID)
	assert.NoError(t, err)
}

func TestReject_RequiresComment(t *testing.T) {
	f := newFixture(t)
	id := mustID(t, f.submit(t, f.employee, "30").ID)

	_, err := f.lifecycle.Reject(context.Background(), f.admin, id, "   ")
	assert.ErrorIs(t, err, service.ErrFieldValidation)
	assert.Equal(t, []string{model.ActionSubmitted, model.ActionCreated}, f.timelineActions(t, id))
}

func TestRejectThenResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustID(t, f.submit(t, f.employee, "30").ID)

	_, err := f.lifecycle.Resubmit(ctx, f.employee, id, meals("31"))
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "only rejected claims can be resubmitted")

	_, err = f.lifecycle.Reject(ctx, f.admin, id, "wrong amount")
	require.NoError(t, err)

	_, err = f.lifecycle.Resubmit(ctx, f.colleague, id, meals("31"))
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "only the submitter can resubmit")

	_, err = f.lifecycle.Resubmit(ctx, f.employee, id, service.ClaimInput{TotalAmount: "31", Category: "Legacy"})
	assert.ErrorIs(t, err, service.ErrInvalidCategory)

	resubmitted, err := f.lifecycle.Resubmit(ctx, f.employee, id, meals("31.50"))
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusSubmitted, resubmitted.Status)
	assert.Equal(t, "31.50", resubmitted.TotalAmount)
	assert.True(t, resubmitted.Resubmitted)
	assert.Equal(t, "wrong amount", resubmitted.AdminComment)

	actions := f.timelineActions(t, id)
	assert.Equal(t, []string{model.ActionResubmitted, model.ActionRejected, model.ActionSubmitted, model.ActionCreated}, actions)

	got, err := f.lifecycle.Get(ctx, f.employee, id)
	require.NoError(t, err)
	assert.True(t, got.Resubmitted)

	other := f.submit(t, f.employee, "5")
	assert.False(t, other.Resubmitted)
	assert.NotContains(t, f.timelineActions(t, mustID(t, other.ID)), model.ActionResubmitted)
}

func TestResubmit_AttachmentGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upload(t, f.employee, "")
	withReceipt := mustID(t, f.submit(t, f.employee, "80").ID)
	_, err := f.lifecycle.Reject(ctx, f.admin, withReceipt, "missing project code")
	require.NoError(t, err)
	_, err = f.lifecycle.Resubmit(ctx, f.employee, withReceipt, meals("90"))
	require.NoError(t, err, "committed receipt satisfies the gate")

	bare := mustID(t, f.submit(t, f.employee, "40").ID)
	_, err = f.lifecycle.Reject(ctx, f.admin, bare, "too vague")
	require.NoError(t, err)

	_, err = f.lifecycle.Resubmit(ctx, f.employee, bare, meals("60"))
	assert.ErrorIs(t, err, service.ErrAttachmentRequired)
	got, err := f.lifecycle.Get(ctx, f.employee, bare)
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusRejected, got.Status)
	assert.Equal(t, "40.00", got.TotalAmount)

	f.upload(t, f.employee, "")
	_, err = f.lifecycle.Resubmit(ctx, f.employee, bare, meals("60"))
	require.NoError(t, err)
	bound, err := f.attachments.ListForExpense(ctx, f.employee, bare)
	require.NoError(t, err)
	assert.Len(t, bound, 1)
}

func TestTerminalStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	approved := mustID(t, f.submit(t, f.employee, "10").ID)
	_, err := f.lifecycle.Approve(ctx, f.admin, approved, "")
	require.NoError(t, err)

	rejected := mustID(t, f.submit(t, f.employee, "10").ID)
	_, err = f.lifecycle.Reject(ctx, f.admin, rejected, "no")
	require.NoError(t, err)

	for _, id := range []uuid.UUID{approved, rejected} {
		_, err = f.lifecycle.Approve(ctx, f.admin, id, "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
		_, err = f.lifecycle.Reject(ctx, f.admin, id, "again")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
		_, err = f.lifecycle.Verify(ctx, f.admin, id, "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
		_, err = f.lifecycle.Assign(ctx, f.admin, id, f.engineer.UserID)
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
	}
	_, err = f.lifecycle.Resubmit(ctx, f.employee, approved, meals("10"))
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	assert.Equal(t, 1, f.store.DebitCount(approved))
	assert.Equal(t, 0, f.store.DebitCount(rejected))
}

func TestStorageFailure_RollsBackCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, f.employee, "")

	f.store.FailOn(memory.OpAuditAppend, errors.New("connection reset"))
	_, err := f.lifecycle.CreateAndSubmit(ctx, f.employee, meals("70"))
	assert.ErrorIs(t, err, service.ErrStorageUnavailable)

	_, total, err := f.lifecycle.List(ctx, f.admin, service.ExpenseListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	pending, err := f.attachments.ListPending(ctx, f.employee, "")
	require.NoError(t, err)
	assert.Len(t, pending, 1, "binding must be undone with the expense")
	assert.False(t, pending[0].Committed)

	_, err = f.lifecycle.CreateAndSubmit(ctx, f.employee, meals("70"))
	assert.NoError(t, err, "retry after a transient failure succeeds")
}

func TestStorageFailure_RollsBackApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := mustID(t, f.submit(t, f.employee, "10").ID)

	f.store.FailOn(memory.OpAuditAppend, errors.New("connection reset"))
	_, err := f.lifecycle.Approve(ctx, f.admin, id, "")
	assert.ErrorIs(t, err, service.ErrStorageUnavailable)

	got, err := f.lifecycle.Get(ctx, f.admin, id)
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusSubmitted, got.Status)
	assert.Equal(t, 0, f.store.DebitCount(id))

	_, err = f.lifecycle.Approve(ctx, f.admin, id, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.DebitCount(id))
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	own := mustID(t, f.submit(t, f.employee, "10").ID)
	f.submit(t, f.colleague, "11")
	assignedToEngineer := mustID(t, f.submit(t, f.colleague, "12").ID)
	_, err := f.lifecycle.Assign(ctx, f.admin, assignedToEngineer, f.engineer.UserID)
	require.NoError(t, err)

	_, err = f.lifecycle.Get(ctx, f.colleague, own)
	assert.ErrorIs(t, err, service.ErrForbidden)
	_, err = f.audit.Timeline(ctx, f.colleague, own)
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.lifecycle.Get(ctx, f.engineer, assignedToEngineer)
	assert.NoError(t, err)

	tests := []struct {
		actor model.Actor
		total int64
	}{
		{f.employee, 1},
		{f.colleague, 2},
		{f.engineer, 1},
		{f.admin, 3},
		{f.cashier, 3},
	}
	for _, tt := range tests {
		_, total, err := f.lifecycle.List(ctx, tt.actor, service.ExpenseListFilter{})
		require.NoError(t, err)
		assert.Equal(t, tt.total, total, tt.actor.Role)
	}

	_, total, err := f.lifecycle.List(ctx, f.admin, service.ExpenseListFilter{Status: model.ExpenseStatusApproved})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestList_Paginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.submit(t, f.employee, "10")
	}

	page, total, err := f.lifecycle.List(context.Background(), f.employee, service.ExpenseListFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)

	last, _, err := f.lifecycle.List(context.Background(), f.employee, service.ExpenseListFilter{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, last, 1)
}

func TestCreateAndSubmit_WithoutSlotLeavesOtherDraftsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	staged := f.upload(t, f.employee, "draft-b")
	exp := f.submit(t, f.employee, "20.00")

	bound, err := f.attachments.ListForExpense(ctx, f.employee, mustID(t, exp.ID))
	require.NoError(t, err)
	assert.Empty(t, bound)

	pending, err := f.attachments.ListPending(ctx, f.employee, "draft-b")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, staged.ID, pending[0].ID)
	assert.False(t, pending[0].Committed)

	_, err = f.lifecycle.CreateAndSubmit(ctx, f.employee, meals("120"))
	assert.ErrorIs(t, err, service.ErrAttachmentRequired, "a receipt in another slot does not satisfy the default slot")
}

// reassigningExpenses lets a test interleave an action between the lifecycle
// read of an expense and its conditional write.
type reassigningExpenses struct {
	repository.ExpenseRepository
	once      sync.Once
	afterLoad func()
}

func (r *reassigningExpenses) FindByID(ctx context.Context, orgID, id uuid.UUID) (*model.Expense, error) {
	e, err := r.ExpenseRepository.FindByID(ctx, orgID, id)
	if err == nil {
		r.once.Do(r.afterLoad)
	}
	return e, err
}

func TestVerify_ReassignedBetweenReadAndWriteIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := model.Actor{UserID: uuid.New(), Role: model.RoleEngineer, OrganizationID: f.org}
	f.store.SeedUser(model.User{ID: other.UserID, OrganizationID: f.org, Username: "other", Role: model.RoleEngineer})

	id := mustID(t, f.submit(t, f.employee, "30").ID)
	_, err := f.lifecycle.Assign(ctx, f.admin, id, f.engineer.UserID)
	require.NoError(t, err)

	expenses := &reassigningExpenses{ExpenseRepository: f.store.Expenses()}
	racing := service.NewLifecycleService(service.LifecycleDeps{
		Expenses:    expenses,
		Attachments: f.store.Attachments(),
		Audit:       f.store.AuditLog(),
		Balances:    f.store.Balances(),
		Users:       f.store.Users(),
		Policies:    f.store.Policies(),
		TxManager:   f.store,
	})
	expenses.afterLoad = func() {
		_, assignErr := f.lifecycle.Assign(ctx, f.admin, id, other.UserID)
		require.NoError(t, assignErr)
	}

	_, err = racing.Verify(ctx, f.engineer, id, "")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	got, err := f.lifecycle.Get(ctx, f.admin, id)
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusSubmitted, got.Status)
	require.NotNil(t, got.AssignedVerifierID)
	assert.Equal(t, other.UserID.String(), *got.AssignedVerifierID)
	assert.NotContains(t, f.timelineActions(t, id), model.ActionVerified)

	verified, err := f.lifecycle.Verify(ctx, other, id, "")
	require.NoError(t, err)
	assert.Equal(t, model.ExpenseStatusVerified, verified.Status)
}

func TestDebitRecordedOnlyForApprovedExpenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	balances := f.store.Balances()

	approved := mustID(t, f.submit(t, f.employee, "12.50").ID)
	_, err := f.lifecycle.Approve(ctx, f.admin, approved, "")
	require.NoError(t, err)

	rejected := mustID(t, f.submit(t, f.employee, "9").ID)
	_, err = f.lifecycle.Reject(ctx, f.admin, rejected, "personal")
	require.NoError(t, err)

	pending := mustID(t, f.submit(t, f.employee, "7").ID)

	blocked := testPolicy(f.org)
	blocked.BlockOnInsufficientBalance = true
	f.store.SeedPolicy(blocked)
	refused := mustID(t, f.submit(t, f.employee, "3").ID)
	_, err = f.lifecycle.Approve(ctx, f.admin, refused, "")
	require.ErrorIs(t, err, service.ErrInsufficientBalance)

	for _, id := range []uuid.UUID{approved, rejected, pending, refused} {
		debit, findErr := balances.FindDebit(ctx, f.org, id)
		hasApproval := false
		for _, a := range f.timelineActions(t, id) {
			hasApproval = hasApproval || a == model.ActionApproved
		}
		if hasApproval {
			require.NoError(t, findErr)
			assert.Equal(t, "12.50", debit.Amount.StringFixed(2))
			assert.Equal(t, f.employee.UserID, debit.UserID)
			assert.Equal(t, "-12.50", debit.BalanceAfter.StringFixed(2))
		} else {
			assert.ErrorIs(t, findErr, repository.ErrNotFound)
		}
	}

	_, err = balances.FindDebit(ctx, uuid.New(), approved)
	assert.ErrorIs(t, err, repository.ErrNotFound, "debits are scoped to the organization")
}
