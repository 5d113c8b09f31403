package memory

import (
	"context"
	"sort"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Statistics aggregates over the stored expenses.
func (s *Store) Statistics() repository.StatisticsRepository { return &statisticsRepo{s: s} }

type statisticsRepo struct{ s *Store }

func (r *statisticsRepo) inWindow(ctx context.Context, orgID uuid.UUID, start, end time.Time, keep func(model.Expense) bool) []model.Expense {
	var out []model.Expense
	_ = r.s.read(ctx, func(st *state) error {
		for _, e := range st.expenses {
			if e.OrganizationID != orgID || e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
				continue
			}
			if keep == nil || keep(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out
}

func (r *statisticsRepo) GetStatusTotals(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]model.StatusTotal, error) {
	byStatus := make(map[string]*model.StatusTotal)
	for _, e := range r.inWindow(ctx, orgID, start, end, nil) {
		t, ok := byStatus[e.Status]
		if !ok {
			t = &model.StatusTotal{Status: e.Status, Total: decimal.Zero}
			byStatus[e.Status] = t
		}
		t.Count++
		t.Total = t.Total.Add(e.TotalAmount)
	}

	totals := make([]model.StatusTotal, 0, len(byStatus))
	for _, t := range byStatus {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Status < totals[j].Status })
	return totals, nil
}

func (r *statisticsRepo) GetTopCategories(ctx context.Context, orgID uuid.UUID, status string, start, end time.Time, limit int) ([]model.CategoryRanking, error) {
	byCategory := make(map[string]*model.CategoryRanking)
	for _, e := range r.inWindow(ctx, orgID, start, end, func(e model.Expense) bool { return e.Status == status }) {
		c, ok := byCategory[e.Category]
		if !ok {
			c = &model.CategoryRanking{Category: e.Category, Total: decimal.Zero}
			byCategory[e.Category] = c
		}
		c.Count++
		c.Total = c.Total.Add(e.TotalAmount)
	}

	rankings := make([]model.CategoryRanking, 0, len(byCategory))
	for _, c := range byCategory {
		rankings = append(rankings, *c)
	}
	sort.Slice(rankings, func(i, j int) bool {
		if cmp := rankings[i].Total.Cmp(rankings[j].Total); cmp != 0 {
			return cmp > 0
		}
		return rankings[i].Category < rankings[j].Category
	})
	if limit > 0 && len(rankings) > limit {
		rankings = rankings[:limit]
	}
	return rankings, nil
}
