package service

import (
	"context"
	"errors"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BalanceResponse struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Balance        string `json:"balance"`
	Negative       bool   `json:"negative"`
}

type BalanceService interface {
	// GetBalance reads a member's float. Members read their own; admins and cashiers read anyone's.
	GetBalance(ctx context.Context, actor model.Actor, userID uuid.UUID) (*BalanceResponse, error)
}

type balanceService struct {
	repo repository.BalanceRepository
}

func NewBalanceService(repo repository.BalanceRepository) BalanceService {
	return &balanceService{repo: repo}
}

func (s *balanceService) GetBalance(ctx context.Context, actor model.Actor, userID uuid.UUID) (*BalanceResponse, error) {
	if userID != actor.UserID && !actor.SeesOrganization() {
		return nil, ErrForbidden
	}

	balance := decimal.Zero
	account, err := s.repo.Get(ctx, actor.OrganizationID, userID)
	switch {
	case err == nil:
		balance = account.Balance
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, storageError(err, ErrNotFound)
	}

	return &BalanceResponse{
		UserID:         userID.String(),
		OrganizationID: actor.OrganizationID.String(),
		Balance:        balance.StringFixed(2),
		Negative:       balance.IsNegative(),
	}, nil
}
