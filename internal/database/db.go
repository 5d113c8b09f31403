package database

import (
	"fmt"
	"time"

	"pettycash/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.OrganizationPolicy{},
		&model.Category{},
		&model.FormFieldTemplate{},
		&model.CategoryFormField{},
		&model.Expense{},
		&model.Attachment{},
		&model.AuditLogEntry{},
		&model.BalanceAccount{},
		&model.BalanceDebit{},
	}
}

// NewConnection opens a postgres pool with driver errors translated to gorm's
// sentinels, then auto-migrates. A failed migration is logged, not fatal.
func NewConnection(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if logger.Core().Enabled(zap.DebugLevel) {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(Models()...); err != nil {
		logger.Warn("failed to auto-migrate models", zap.Error(err))
	}

	return db, nil
}
