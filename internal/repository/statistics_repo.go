package repository

import (
	"context"
	"fmt"
	"time"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StatisticsRepository aggregates expenses created within [start, end].
type StatisticsRepository interface {
	GetStatusTotals(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]model.StatusTotal, error)
	GetTopCategories(ctx context.Context, orgID uuid.UUID, status string, start, end time.Time, limit int) ([]model.CategoryRanking, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) GetStatusTotals(ctx context.Context, orgID uuid.UUID, start, end time.Time) ([]model.StatusTotal, error) {
	var totals []model.StatusTotal
	if err := GetDB(ctx, r.db).Model(&model.Expense{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS total").
		Where("organization_id = ? AND created_at >= ? AND created_at <= ?", orgID, start, end).
		Group("status").
		Order("status").
		Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("failed to query status totals: %w", err)
	}
	return totals, nil
}

func (r *statisticsRepository) GetTopCategories(ctx context.Context, orgID uuid.UUID, status string, start, end time.Time, limit int) ([]model.CategoryRanking, error) {
	var rankings []model.CategoryRanking
	if err := GetDB(ctx, r.db).Model(&model.Expense{}).
		Select("category, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS total").
		Where("organization_id = ? AND status = ? AND created_at >= ? AND created_at <= ?", orgID, status, start, end).
		Group("category").
		Order("total DESC").Order("category").
		Limit(limit).
		Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query top categories: %w", err)
	}
	return rankings, nil
}
