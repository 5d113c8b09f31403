package service

import (
	"context"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/shopspring/decimal"
)

const topCategoryLimit = 5

type StatusSummary struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
	Total  string `json:"total"`
}

type CategorySummary struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
	Total    string `json:"total"`
}

type StatisticsResponse struct {
	TimeRangeStartDate    string            `json:"time_range_start_date"`
	TimeRangeEndDate      string            `json:"time_range_end_date"`
	ByStatus              []StatusSummary   `json:"by_status"`
	PendingTotal          string            `json:"pending_total"`  // SUBMITTED + VERIFIED
	ApprovedTotal         string            `json:"approved_total"` // Debited from balances
	TopApprovedCategories []CategorySummary `json:"top_approved_categories"`
}

type StatisticsService interface {
	// GetStatistics summarizes the expenses created in [startDate, endDate]. Admins and cashiers only.
	GetStatistics(ctx context.Context, actor model.Actor, startDate, endDate time.Time) (*StatisticsResponse, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo}
}

func (s *statisticsService) GetStatistics(ctx context.Context, actor model.Actor, startDate, endDate time.Time) (*StatisticsResponse, error) {
	if !actor.SeesOrganization() {
		return nil, ErrForbidden
	}
	if endDate.Before(startDate) {
		return nil, fieldError("end_date", "must not be before start_date")
	}

	totals, err := s.repo.GetStatusTotals(ctx, actor.OrganizationID, startDate, endDate)
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}
	top, err := s.repo.GetTopCategories(ctx, actor.OrganizationID, model.ExpenseStatusApproved, startDate, endDate, topCategoryLimit)
	if err != nil {
		return nil, storageError(err, ErrNotFound)
	}

	resp := &StatisticsResponse{
		TimeRangeStartDate:    startDate.Format(time.RFC3339),
		TimeRangeEndDate:      endDate.Format(time.RFC3339),
		ByStatus:              make([]StatusSummary, 0, len(totals)),
		TopApprovedCategories: make([]CategorySummary, 0, len(top)),
	}
	pending, approved := decimal.Zero, decimal.Zero
	for _, t := range totals {
		resp.ByStatus = append(resp.ByStatus, StatusSummary{Status: t.Status, Count: t.Count, Total: t.Total.StringFixed(2)})
		switch t.Status {
		case model.ExpenseStatusSubmitted, model.ExpenseStatusVerified:
			pending = pending.Add(t.Total)
		case model.ExpenseStatusApproved:
			approved = approved.Add(t.Total)
		}
	}
	resp.PendingTotal = pending.StringFixed(2)
	resp.ApprovedTotal = approved.StringFixed(2)

	for _, c := range top {
		resp.TopApprovedCategories = append(resp.TopApprovedCategories, CategorySummary{Category: c.Category, Count: c.Count, Total: c.Total.StringFixed(2)})
	}
	return resp, nil
}
