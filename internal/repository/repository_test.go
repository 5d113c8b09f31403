package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"pettycash/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestExpenseRepository_TransitionMatchesExpectedStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExpenseRepository(db)
	orgID, id := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "expenses" SET`) + `.*` + regexp.QuoteMeta(`status IN ($`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	comment := "ok"
	err := repo.Transition(context.Background(), orgID, id,
		[]string{model.ExpenseStatusSubmitted, model.ExpenseStatusVerified},
		StatusChange{Status: model.ExpenseStatusApproved, AdminComment: &comment})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpenseRepository_TransitionNoRowsIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExpenseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "expenses" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), uuid.New(), uuid.New(),
		[]string{model.ExpenseStatusSubmitted},
		StatusChange{Status: model.ExpenseStatusVerified})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpenseRepository_FindByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExpenseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "expenses" WHERE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepository_CommitReportsBoundRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttachmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "attachments" SET "expense_id"=$1`) + `.*` + regexp.QuoteMeta(`expense_id IS NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.Commit(context.Background(), uuid.New(), []uuid.UUID{uuid.New(), uuid.New()}, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepository_LockPoolUsesAdvisoryLock(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttachmentRepository(db)
	orgID, uploaderID := uuid.New(), uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("attachments:" + orgID.String() + ":" + uploaderID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.LockPool(context.Background(), orgID, uploaderID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_RollsBackAndJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	var inner *gorm.DB
	err := tm.RunInTx(context.Background(), func(txCtx context.Context) error {
		return tm.RunInTx(txCtx, func(nested context.Context) error {
			inner = GetDB(nested, db)
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	assert.NotSame(t, db, inner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ListCountsThenPages(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	orgID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "users" WHERE organization_id = $1 AND role = $2`)).
		WithArgs(orgID, model.RoleEngineer).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE organization_id = $1 AND role = $2`) + `.*` + regexp.QuoteMeta(`ORDER BY username ASC,id ASC LIMIT`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "username", "role"}).
			AddRow(uuid.New(), orgID, "ana", model.RoleEngineer).
			AddRow(uuid.New(), orgID, "ben", model.RoleEngineer))

	users, total, err := repo.List(context.Background(), orgID, model.RoleEngineer, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, users, 2)
	assert.Equal(t, "ana", users[0].Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatisticsRepository_StatusTotalsGroupsByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewStatisticsRepository(db)
	orgID := uuid.New()
	start, end := time.Now().Add(-time.Hour), time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS total FROM "expenses" WHERE`) + `.*` + regexp.QuoteMeta(`GROUP BY "status"`)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count", "total"}).
			AddRow(model.ExpenseStatusApproved, 2, "150.5000").
			AddRow(model.ExpenseStatusSubmitted, 1, "20.0000"))

	totals, err := repo.GetStatusTotals(context.Background(), orgID, start, end)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, int64(2), totals[0].Count)
	assert.Equal(t, "150.5", totals[0].Total.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepository_DebitUpsertsAndRecordsBalanceAfter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalanceRepository(db)
	orgID, userID, expenseID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "balance_accounts"`) + `.*` +
		regexp.QuoteMeta(`ON CONFLICT ("user_id","organization_id") DO UPDATE SET "balance"=balance_accounts.balance - $`) + `.*` +
		regexp.QuoteMeta(`RETURNING "balance"`)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("-612.5000"))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "balance_debits"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectCommit()

	debit, err := repo.Debit(context.Background(), orgID, userID, expenseID, decimal.RequireFromString("1000.00"))
	require.NoError(t, err)
	assert.Equal(t, expenseID, debit.ExpenseID)
	assert.Equal(t, "1000.00", debit.Amount.StringFixed(2))
	assert.Equal(t, "-612.50", debit.BalanceAfter.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepository_DebitDuplicateExpenseIsErrDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "balance_accounts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("-20.0000"))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "balance_debits"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_balance_debits_expense_id"})
	mock.ExpectRollback()

	_, err := repo.Debit(context.Background(), uuid.New(), uuid.New(), uuid.New(), decimal.NewFromInt(20))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepository_FindDebitNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "balance_debits" WHERE organization_id = $1 AND expense_id = $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindDebit(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpenseRepository_ReplaceClaimIsConditional(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExpenseRepository(db)
	expense := &model.Expense{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		SubmitterID:    uuid.New(),
		Status:         model.ExpenseStatusSubmitted,
		TotalAmount:    decimal.RequireFromString("31.50"),
		Category:       "Meals",
		FieldValues:    "{}",
	}
	guard := regexp.QuoteMeta(`UPDATE "expenses" SET`) + `.*` +
		regexp.QuoteMeta(`WHERE id = $`) + `.*` + regexp.QuoteMeta(`AND submitter_id = $`) + `.*` + regexp.QuoteMeta(`AND status = $`)

	mock.ExpectBegin()
	mock.ExpectExec(guard).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, repo.ReplaceClaim(context.Background(), expense, model.ExpenseStatusRejected))

	mock.ExpectBegin()
	mock.ExpectExec(guard).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	assert.ErrorIs(t, repo.ReplaceClaim(context.Background(), expense, model.ExpenseStatusRejected), ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpenseRepository_TransitionGuardsAssignedVerifier(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExpenseRepository(db)
	verifier := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "expenses" SET`) + `.*` + regexp.QuoteMeta(`AND assigned_verifier_id = $`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), uuid.New(), uuid.New(),
		[]string{model.ExpenseStatusSubmitted},
		StatusChange{Status: model.ExpenseStatusVerified, ExpectedVerifierID: &verifier})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepository_ListUncommittedMatchesSlotExactly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttachmentRepository(db)
	orgID, uploaderID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "attachments" WHERE organization_id = $1 AND uploader_id = $2 AND expense_id IS NULL AND temporary_slot = $3`)).
		WithArgs(orgID, uploaderID, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	list, err := repo.ListUncommitted(context.Background(), orgID, uploaderID, "")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyRepository_GetPolicyAssemblesRules(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPolicyRepository(db)
	orgID := uuid.New()
	distance, notes := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "organization_policies" WHERE organization_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "attachment_required_above_amount", "block_on_insufficient_balance"}).
			AddRow(orgID, "100.0000", true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "categories" WHERE organization_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "active"}).
			AddRow(uuid.New(), orgID, "Travel", true).
			AddRow(uuid.New(), orgID, "Legacy", false))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "category_form_fields" WHERE organization_id = $1 ORDER BY category_name asc,position asc`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "category_name", "template_id", "position", "required"}).
			AddRow(uuid.New(), orgID, "Travel", distance, 0, true).
			AddRow(uuid.New(), orgID, "Travel", notes, 1, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "form_field_templates" WHERE "form_field_templates"."id" IN`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "key", "label", "field_type", "required", "options"}).
			AddRow(distance, orgID, "distance_km", "Distance", model.FieldTypeNumber, false, "[]").
			AddRow(notes, orgID, "notes", "Notes", model.FieldTypeText, true, "[]"))

	p, err := repo.GetPolicy(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, "100", p.AttachmentRequiredAboveAmount.String())
	assert.True(t, p.BlockOnInsufficientBalance)
	assert.True(t, p.CategoryActive("Travel"))
	assert.False(t, p.CategoryActive("Legacy"))

	rules := p.CategoryFields["Travel"]
	require.Len(t, rules, 2)
	assert.Equal(t, "distance_km", rules[0].Key)
	assert.True(t, rules[0].Required, "assignment override wins over the template default")
	assert.Equal(t, "notes", rules[1].Key)
	assert.True(t, rules[1].Required, "template default applies without an override")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveFieldRule(t *testing.T) {
	optional := false
	template := model.FormFieldTemplate{Key: "mode", FieldType: model.FieldTypeSelect, Required: true, Options: `["car","train"]`}

	rule, err := ResolveFieldRule(model.CategoryFormField{Template: template, Required: &optional})
	require.NoError(t, err)
	assert.False(t, rule.Required)
	assert.Equal(t, []string{"car", "train"}, rule.Options)

	rule, err = ResolveFieldRule(model.CategoryFormField{Template: template})
	require.NoError(t, err)
	assert.True(t, rule.Required)

	template.Options = "car,train"
	_, err = ResolveFieldRule(model.CategoryFormField{Template: template})
	assert.Error(t, err)
}
