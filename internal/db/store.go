// Package db is the Store: durable persistence for the controller's data
// model. All writes go through it; reads are either direct or cached by the
// caller. The schema is GORM-managed and migrated on open.
package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/errs"
)

// Store wraps a GORM connection over the full data model.
type Store struct {
	db *gorm.DB
}

// allModels lists every table the Store owns, for AutoMigrate.
var allModels = []any{
	&mf.Miner{},
	&mf.Pool{},
	&mf.MinerPoolSlot{},
	&mf.Telemetry{},
	&mf.EnergyPrice{},
	&mf.AgileStrategy{},
	&mf.AgileStrategyBand{},
	&mf.MinerStrategy{},
	&mf.PoolStrategy{},
	&mf.PoolStrategyLog{},
	&mf.AutomationRule{},
	&mf.HighDiffShare{},
	&mf.BlockFound{},
	&mf.PoolHealth{},
	&mf.HealthScore{},
	&mf.Event{},
	&mf.AuditLog{},
}

// Open connects to dsn (a MySQL DSN, e.g.
// "user:pass@tcp(host:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local")
// and migrates the schema.
func Open(dsn string) (*Store, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	s := &Store{db: gdb}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenWithDB wraps an already-open GORM connection (used by tests against
// go-sqlmock).
func OpenWithDB(gdb *gorm.DB, migrate bool) (*Store, error) {
	s := &Store{db: gdb}
	if migrate {
		if err := s.migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(allModels...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// DB exposes the underlying GORM handle for callers (e.g. the CLI's status
// command) that need ad-hoc queries.
func (s *Store) DB() *gorm.DB { return s.db }

// optimizeTables lists the high-churn append-only tables worth reclaiming
// space on periodically; the low-churn reference tables (Miner, Pool,
// MinerStrategy, ...) are never large enough to matter.
var optimizeTables = []string{
	"telemetry", "energy_prices", "events", "pool_health",
	"high_diff_shares", "health_scores", "audit_log",
}

// Optimize runs OPTIMIZE TABLE against the append-only, purge-bearing
// tables, reclaiming space the
// periodic purge jobs free up. Best-effort: a failure on one table does
// not stop the rest.
func (s *Store) Optimize() error {
	var firstErr error
	for _, table := range optimizeTables {
		if err := s.db.Exec(fmt.Sprintf("OPTIMIZE TABLE %s", table)).Error; err != nil && firstErr == nil {
			firstErr = fmt.Errorf("optimize table %s: %w", table, err)
		}
	}
	return firstErr
}

// WithRetry runs fn up to 3 attempts with linear back-off on
// StoreTransientError-shaped failures (write-lock contention).
func WithRetry(fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("%w: %v", errs.StoreTransientError, lastErr)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	// GORM/driver errors for lock contention do not carry a stable
	// sentinel across dialects; treat anything that is not a "record not
	// found" as potentially transient so the retry loop can help.
	return !errors.Is(err, gorm.ErrRecordNotFound)
}
