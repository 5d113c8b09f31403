package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type expenseRepo struct{ s *Store }

func (r *expenseRepo) Create(ctx context.Context, expense *model.Expense) error {
	return r.s.write(ctx, OpExpenseCreate, func(st *state) error {
		if expense.ID == uuid.Nil {
			expense.ID = uuid.New()
		}
		if _, exists := st.expenses[expense.ID]; exists {
			return repository.ErrDuplicate
		}
		now := time.Now()
		if expense.CreatedAt.IsZero() {
			expense.CreatedAt = now
		}
		expense.UpdatedAt = now
		st.expenses[expense.ID] = *expense
		st.seq++
		st.expenseOrder[expense.ID] = st.seq
		return nil
	})
}

func (r *expenseRepo) FindByID(ctx context.Context, orgID, id uuid.UUID) (*model.Expense, error) {
	var found model.Expense
	err := r.s.read(ctx, func(st *state) error {
		e, ok := st.expenses[id]
		if !ok || e.OrganizationID != orgID {
			return repository.ErrNotFound
		}
		found = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (r *expenseRepo) List(ctx context.Context, orgID uuid.UUID, filter repository.ExpenseFilter, page, limit int) ([]model.Expense, int64, error) {
	var matched []model.Expense
	var order map[uuid.UUID]int64
	_ = r.s.read(ctx, func(st *state) error {
		order = make(map[uuid.UUID]int64, len(st.expenseOrder))
		for id, e := range st.expenses {
			if e.OrganizationID != orgID {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			if v := filter.VisibleTo; v != nil {
				assigned := e.AssignedVerifierID != nil && *e.AssignedVerifierID == *v
				if e.SubmitterID != *v && !assigned {
					continue
				}
			}
			matched = append(matched, e)
			order[id] = st.expenseOrder[id]
		}
		return nil
	})

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return order[matched[i].ID] > order[matched[j].ID]
	})

	total := int64(len(matched))
	offset := (page - 1) * limit
	if offset >= len(matched) {
		return []model.Expense{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *expenseRepo) Transition(ctx context.Context, orgID, id uuid.UUID, expected []string, change repository.StatusChange) error {
	return r.s.write(ctx, OpExpenseTransition, func(st *state) error {
		e, ok := st.expenses[id]
		if !ok || e.OrganizationID != orgID || !contains(expected, e.Status) {
			return repository.ErrConflict
		}
		if v := change.ExpectedVerifierID; v != nil && (e.AssignedVerifierID == nil || *e.AssignedVerifierID != *v) {
			return repository.ErrConflict
		}
		e.Status = change.Status
		if change.AssignedVerifierID != nil {
			v := *change.AssignedVerifierID
			e.AssignedVerifierID = &v
		}
		if change.AdminComment != nil {
			e.AdminComment = *change.AdminComment
		}
		e.UpdatedAt = time.Now()
		st.expenses[id] = e
		return nil
	})
}

func (r *expenseRepo) ReplaceClaim(ctx context.Context, expense *model.Expense, expected string) error {
	return r.s.write(ctx, OpExpenseTransition, func(st *state) error {
		e, ok := st.expenses[expense.ID]
		if !ok || e.OrganizationID != expense.OrganizationID || e.SubmitterID != expense.SubmitterID || e.Status != expected {
			return repository.ErrConflict
		}
		e.Status = expense.Status
		e.TotalAmount = expense.TotalAmount
		e.Category = expense.Category
		e.Description = expense.Description
		e.FieldValues = expense.FieldValues
		e.UpdatedAt = time.Now()
		st.expenses[e.ID] = e
		return nil
	})
}

type attachmentRepo struct{ s *Store }

func (r *attachmentRepo) Create(ctx context.Context, attachment *model.Attachment) error {
	return r.s.write(ctx, OpAttachmentCreate, func(st *state) error {
		if attachment.ID == uuid.Nil {
			attachment.ID = uuid.New()
		}
		if attachment.CreatedAt.IsZero() {
			attachment.CreatedAt = time.Now()
		}
		st.attachments[attachment.ID] = *attachment
		return nil
	})
}

func (r *attachmentRepo) FindByID(ctx context.Context, orgID, id uuid.UUID) (*model.Attachment, error) {
	var found model.Attachment
	err := r.s.read(ctx, func(st *state) error {
		a, ok := st.attachments[id]
		if !ok || a.OrganizationID != orgID {
			return repository.ErrNotFound
		}
		found = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (r *attachmentRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	return r.s.write(ctx, OpAttachmentDelete, func(st *state) error {
		a, ok := st.attachments[id]
		if !ok || a.OrganizationID != orgID {
			return repository.ErrNotFound
		}
		delete(st.attachments, id)
		return nil
	})
}

func (r *attachmentRepo) ListByExpense(ctx context.Context, orgID, expenseID uuid.UUID) ([]model.Attachment, error) {
	return r.collect(ctx, func(a model.Attachment) bool {
		return a.OrganizationID == orgID && a.ExpenseID != nil && *a.ExpenseID == expenseID
	}), nil
}

func (r *attachmentRepo) ListUncommitted(ctx context.Context, orgID, uploaderID uuid.UUID, slot string) ([]model.Attachment, error) {
	return r.collect(ctx, func(a model.Attachment) bool {
		return a.OrganizationID == orgID && a.UploaderID == uploaderID && a.ExpenseID == nil && a.TemporarySlot == slot
	}), nil
}

func (r *attachmentRepo) ListPool(ctx context.Context, orgID, uploaderID uuid.UUID) ([]model.Attachment, error) {
	return r.collect(ctx, func(a model.Attachment) bool {
		return a.OrganizationID == orgID && a.UploaderID == uploaderID && a.ExpenseID == nil
	}), nil
}

func (r *attachmentRepo) CountByExpense(ctx context.Context, orgID, expenseID uuid.UUID) (int64, error) {
	list, _ := r.ListByExpense(ctx, orgID, expenseID)
	return int64(len(list)), nil
}

func (r *attachmentRepo) Commit(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID, expenseID uuid.UUID) (int64, error) {
	var bound int64
	err := r.s.write(ctx, OpAttachmentCommit, func(st *state) error {
		for _, id := range ids {
			a, ok := st.attachments[id]
			if !ok || a.OrganizationID != orgID || a.ExpenseID != nil {
				continue
			}
			eid := expenseID
			a.ExpenseID = &eid
			st.attachments[id] = a
			bound++
		}
		return nil
	})
	return bound, err
}

// LockPool is a no-op: binding only happens inside RunInTx, which is serialized.
func (r *attachmentRepo) LockPool(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (r *attachmentRepo) collect(ctx context.Context, match func(model.Attachment) bool) []model.Attachment {
	var out []model.Attachment
	_ = r.s.read(ctx, func(st *state) error {
		for _, a := range st.attachments {
			if match(a) {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type auditRepo struct{ s *Store }

func (r *auditRepo) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	return r.s.write(ctx, OpAuditAppend, func(st *state) error {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		st.seq++
		entry.Seq = st.seq
		st.audit = append(st.audit, *entry)
		return nil
	})
}

func (r *auditRepo) ListByExpense(ctx context.Context, orgID, expenseID uuid.UUID) ([]model.AuditLogEntry, error) {
	var out []model.AuditLogEntry
	_ = r.s.read(ctx, func(st *state) error {
		for _, e := range st.audit {
			if e.OrganizationID == orgID && e.ExpenseID == expenseID {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

func (r *auditRepo) CountByAction(ctx context.Context, orgID, expenseID uuid.UUID, action string) (int64, error) {
	var n int64
	_ = r.s.read(ctx, func(st *state) error {
		for _, e := range st.audit {
			if e.OrganizationID == orgID && e.ExpenseID == expenseID && e.Action == action {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (r *auditRepo) ListByOrganization(ctx context.Context, orgID uuid.UUID, action string, offset, limit int) ([]model.AuditLogEntry, int64, error) {
	var out []model.AuditLogEntry
	_ = r.s.read(ctx, func(st *state) error {
		for _, e := range st.audit {
			if e.OrganizationID == orgID && (action == "" || e.Action == action) {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})

	total := int64(len(out))
	if offset >= len(out) {
		return []model.AuditLogEntry{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

type balanceRepo struct{ s *Store }

func (r *balanceRepo) Get(ctx context.Context, orgID, userID uuid.UUID) (*model.BalanceAccount, error) {
	var found model.BalanceAccount
	err := r.s.read(ctx, func(st *state) error {
		a, ok := st.balances[balanceKey{orgID: orgID, userID: userID}]
		if !ok {
			return repository.ErrNotFound
		}
		found = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (r *balanceRepo) Debit(ctx context.Context, orgID, userID, expenseID uuid.UUID, amount decimal.Decimal) (*model.BalanceDebit, error) {
	var debit model.BalanceDebit
	err := r.s.write(ctx, OpBalanceDebit, func(st *state) error {
		if _, dup := st.debits[expenseID]; dup {
			return repository.ErrDuplicate
		}
		key := balanceKey{orgID: orgID, userID: userID}
		now := time.Now()
		account, ok := st.balances[key]
		if !ok {
			account = model.BalanceAccount{UserID: userID, OrganizationID: orgID, Balance: decimal.Zero, CreatedAt: now}
		}
		account.Balance = account.Balance.Sub(amount)
		account.UpdatedAt = now
		st.balances[key] = account

		debit = model.BalanceDebit{
			ID:             uuid.New(),
			OrganizationID: orgID,
			UserID:         userID,
			ExpenseID:      expenseID,
			Amount:         amount,
			BalanceAfter:   account.Balance,
			CreatedAt:      now,
		}
		st.debits[expenseID] = debit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &debit, nil
}

func (r *balanceRepo) FindDebit(ctx context.Context, orgID, expenseID uuid.UUID) (*model.BalanceDebit, error) {
	var found model.BalanceDebit
	err := r.s.read(ctx, func(st *state) error {
		d, ok := st.debits[expenseID]
		if !ok || d.OrganizationID != orgID {
			return repository.ErrNotFound
		}
		found = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	return r.s.write(ctx, OpUserCreate, func(st *state) error {
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		if _, exists := st.users[user.ID]; exists {
			return repository.ErrDuplicate
		}
		for _, u := range st.users {
			if u.OrganizationID == user.OrganizationID && strings.EqualFold(u.Email, user.Email) {
				return repository.ErrDuplicate
			}
		}
		now := time.Now()
		if user.CreatedAt.IsZero() {
			user.CreatedAt = now
		}
		user.UpdatedAt = now
		st.users[user.ID] = *user
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*model.User, error) {
	var found model.User
	err := r.s.read(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.OrganizationID != orgID {
			return repository.ErrNotFound
		}
		found = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (r *userRepo) List(ctx context.Context, orgID uuid.UUID, role string, offset, limit int) ([]model.User, int64, error) {
	var members []model.User
	_ = r.s.read(ctx, func(st *state) error {
		for _, u := range st.users {
			if u.OrganizationID == orgID && (role == "" || u.Role == role) {
				members = append(members, u)
			}
		}
		return nil
	})
	sort.Slice(members, func(i, j int) bool {
		if members[i].Username != members[j].Username {
			return members[i].Username < members[j].Username
		}
		return members[i].ID.String() < members[j].ID.String()
	})

	total := int64(len(members))
	if offset >= len(members) {
		return []model.User{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(members) {
		end = len(members)
	}
	return members[offset:end], total, nil
}

type policyRepo struct{ s *Store }

func (r *policyRepo) GetPolicy(ctx context.Context, orgID uuid.UUID) (*model.Policy, error) {
	policy := model.DefaultPolicy(orgID)
	_ = r.s.read(ctx, func(st *state) error {
		if p, ok := st.policies[orgID]; ok {
			policy = p
		}
		return nil
	})
	return policy, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
