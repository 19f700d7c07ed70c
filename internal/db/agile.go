package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// AgileStrategyRow loads the singleton strategy row, creating it disabled
// if it does not yet exist.
func (s *Store) AgileStrategyRow() (*mf.AgileStrategy, error) {
	var st mf.AgileStrategy
	err := s.db.First(&st).Error
	if isNotFound(err) {
		st = mf.AgileStrategy{Enabled: false}
		if err := s.db.Create(&st).Error; err != nil {
			return nil, fmt.Errorf("create agile strategy row: %w", err)
		}
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agile strategy row: %w", err)
	}
	return &st, nil
}

// SaveAgileStrategy persists the full strategy row.
func (s *Store) SaveAgileStrategy(st *mf.AgileStrategy) error {
	if err := s.db.Save(st).Error; err != nil {
		return fmt.Errorf("save agile strategy row: %w", err)
	}
	return nil
}

// AgileStrategyBands returns the bands for a strategy, ordered by
// sort_order ascending (worst/OFF first).
func (s *Store) AgileStrategyBands(strategyID uint) ([]mf.AgileStrategyBand, error) {
	var bands []mf.AgileStrategyBand
	err := s.db.Where("strategy_id = ?", strategyID).Order("sort_order asc").Find(&bands).Error
	if err != nil {
		return nil, fmt.Errorf("list agile strategy bands for %d: %w", strategyID, err)
	}
	return bands, nil
}

// MinerStrategyRow loads the enrolment row for a miner, or nil if absent.
func (s *Store) MinerStrategyRow(minerID uint) (*mf.MinerStrategy, error) {
	var ms mf.MinerStrategy
	err := s.db.First(&ms, "miner_id = ?", minerID).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load miner strategy for %d: %w", minerID, err)
	}
	return &ms, nil
}

// DisableAgileStrategy disables the strategy and writes an audit entry,
// the action required when a StrategyInvariantViolation occurs.
func (s *Store) DisableAgileStrategy(reason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var st mf.AgileStrategy
		if err := tx.First(&st).Error; err != nil {
			return fmt.Errorf("load agile strategy row: %w", err)
		}
		st.Enabled = false
		if err := tx.Save(&st).Error; err != nil {
			return fmt.Errorf("disable agile strategy: %w", err)
		}
		audit := mf.AuditLog{
			Timestamp:    time.Now(),
			Actor:        "agile_solo",
			Action:       "strategy_disabled",
			ResourceType: "agile_strategy",
			ResourceID:   st.ID,
			Status:       "error",
			ErrorMessage: reason,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("record disable audit: %w", err)
		}
		return nil
	})
}
