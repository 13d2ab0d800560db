// Package repo implements the persistence layer for rules, executions, and
// their satellites, backed by GORM on SQLite. This file bootstraps the
// database handle and migrates the schema.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/giftflow/go-autogift-backend/internal/domain"
)

// sqlitePragmas is applied to every new handle. WAL lets the serve process
// and a concurrent sweep read while the other writes; busy_timeout covers the
// short write lock the sweep takes per execution.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// OpenSQLite opens (or creates) the database at path, applies the PRAGMAs,
// and attaches OpenTelemetry query spans so DB time shows up under the
// request and sweep traces.
func OpenSQLite(path string) (*gorm.DB, error) {
	// A missing parent directory surfaces from the driver as an opaque
	// "out of memory (14)", so check it up front.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	for _, p := range sqlitePragmas {
		db.Exec(p)
	}

	// Spans only; the Prometheus middleware covers metrics.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all persisted models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.AutoGiftRule{},
		&domain.Execution{},
		&domain.ExecutionProduct{},
		&domain.PaymentMethod{},
		&domain.Idempotency{},
	)
}
