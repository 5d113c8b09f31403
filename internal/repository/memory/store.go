// Package memory provides an in-process implementation of every repository.
// It backs the service and handler tests and the api binary when STORE=memory.
package memory

import (
	"context"
	"sync"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fault injection points understood by FailOn.
const (
	OpExpenseCreate     = "expense.create"
	OpExpenseTransition = "expense.transition"
	OpAttachmentCommit  = "attachment.commit"
	OpAuditAppend       = "audit.append"
	OpBalanceDebit      = "balance.debit"
	OpAttachmentCreate  = "attachment.create"
	OpAttachmentDelete  = "attachment.delete"
	OpUserCreate        = "user.create"
)

type txCtxKey struct{}

type balanceKey struct {
	orgID  uuid.UUID
	userID uuid.UUID
}

type state struct {
	expenses     map[uuid.UUID]model.Expense
	expenseOrder map[uuid.UUID]int64
	attachments  map[uuid.UUID]model.Attachment
	audit        []model.AuditLogEntry
	seq          int64
	balances     map[balanceKey]model.BalanceAccount
	debits       map[uuid.UUID]model.BalanceDebit // by expense id
	users        map[uuid.UUID]model.User
	policies     map[uuid.UUID]*model.Policy
}

func newState() *state {
	return &state{
		expenses:     make(map[uuid.UUID]model.Expense),
		expenseOrder: make(map[uuid.UUID]int64),
		attachments:  make(map[uuid.UUID]model.Attachment),
		balances:     make(map[balanceKey]model.BalanceAccount),
		debits:       make(map[uuid.UUID]model.BalanceDebit),
		users:        make(map[uuid.UUID]model.User),
		policies:     make(map[uuid.UUID]*model.Policy),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.expenses {
		c.expenses[k] = v
	}
	for k, v := range s.expenseOrder {
		c.expenseOrder[k] = v
	}
	for k, v := range s.attachments {
		c.attachments[k] = v
	}
	c.audit = append([]model.AuditLogEntry(nil), s.audit...)
	c.seq = s.seq
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.debits {
		c.debits[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	return c
}

// Store keeps all records in memory. Transactions are serialized and rolled back
// by restoring a snapshot; writes outside a transaction are serialized against them.
// Reads outside a transaction see the last committed state.
type Store struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	st        *state
	committed *state // set while a transaction runs
	faults    map[string]error
}

var _ repository.TransactionManager = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), faults: make(map[string]error)}
}

func (s *Store) Expenses() repository.ExpenseRepository       { return &expenseRepo{s: s} }
func (s *Store) Attachments() repository.AttachmentRepository { return &attachmentRepo{s: s} }
func (s *Store) AuditLog() repository.AuditRepository         { return &auditRepo{s: s} }
func (s *Store) Balances() repository.BalanceRepository       { return &balanceRepo{s: s} }
func (s *Store) Users() repository.UserRepository             { return &userRepo{s: s} }
func (s *Store) Policies() repository.PolicyRepository        { return &policyRepo{s: s} }

func (s *Store) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.committed = snapshot
	s.mu.Unlock()

	committed := false
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.committed = nil
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(context.WithValue(ctx, txCtxKey{}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

// FailOn makes the next write at op return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// SeedPolicy installs the policy returned for p.OrganizationID.
func (s *Store) SeedPolicy(p *model.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.policies[p.OrganizationID] = p
}

func (s *Store) SeedUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// SeedBalance opens (or resets) a member's float.
func (s *Store) SeedBalance(orgID, userID uuid.UUID, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.balances[balanceKey{orgID: orgID, userID: userID}] = model.BalanceAccount{
		UserID:         userID,
		OrganizationID: orgID,
		Balance:        amount,
	}
}

// DebitCount reports how many debits were recorded for expenseID.
func (s *Store) DebitCount(expenseID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.st.debits[expenseID]; ok {
		return 1
	}
	return 0
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txCtxKey{}).(bool)
	return v
}

func (s *Store) write(ctx context.Context, op string, fn func(st *state) error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return fn(s.st)
}

func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.committed != nil && !inTx(ctx) {
		return fn(s.committed)
	}
	return fn(s.st)
}
