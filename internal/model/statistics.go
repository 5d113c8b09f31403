package model

import "github.com/shopspring/decimal"

// StatusTotal aggregates the expenses in one lifecycle state.
type StatusTotal struct {
	Status string          `json:"status"`
	Count  int64           `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

// CategoryRanking aggregates the expenses filed under one category.
type CategoryRanking struct {
	Category string          `json:"category"`
	Count    int64           `json:"count"`
	Total    decimal.Decimal `json:"total"`
}
