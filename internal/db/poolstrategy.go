package db

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// EnabledPoolStrategies returns every enabled generic pool strategy.
func (s *Store) EnabledPoolStrategies() ([]mf.PoolStrategy, error) {
	var strategies []mf.PoolStrategy
	if err := s.db.Where("enabled = ?", true).Find(&strategies).Error; err != nil {
		return nil, fmt.Errorf("list enabled pool strategies: %w", err)
	}
	return strategies, nil
}

// SavePoolStrategy persists a strategy's new state (current_pool_index,
// last_switch, config). Only called when at least one miner switch
// succeeded, so a failed tick retries from unchanged state.
func (s *Store) SavePoolStrategy(ps *mf.PoolStrategy) error {
	if err := s.db.Save(ps).Error; err != nil {
		return fmt.Errorf("save pool strategy %d: %w", ps.ID, err)
	}
	return nil
}

// RecordPoolStrategyLog appends one tick's outcome.
func (s *Store) RecordPoolStrategyLog(strategyID uint, outcome mf.JSONMap, allFailed bool) error {
	log := mf.PoolStrategyLog{
		StrategyID: strategyID,
		Timestamp:  time.Now(),
		Outcome:    outcome,
		AllFailed:  allFailed,
	}
	if err := s.db.Create(&log).Error; err != nil {
		return fmt.Errorf("record pool strategy log for %d: %w", strategyID, err)
	}
	return nil
}

// StrategyMiners resolves a PoolStrategy's target miner ids into Miner
// rows: the explicit MinerIDs list, or every enabled miner when empty.
func (s *Store) StrategyMiners(ps mf.PoolStrategy) ([]mf.Miner, error) {
	if len(ps.MinerIDs) == 0 {
		return s.EnabledMiners(nil)
	}
	var miners []mf.Miner
	if err := s.db.Where("id IN ? AND enabled = ?", []uint(ps.MinerIDs), true).Find(&miners).Error; err != nil {
		return nil, fmt.Errorf("list strategy miners for %d: %w", ps.ID, err)
	}
	return miners, nil
}

// RecentPoolHealth returns the last n PoolHealth rows for a pool, newest
// first, used by the load-balance score calculation.
func (s *Store) RecentPoolHealth(poolID uint, n int) ([]mf.PoolHealth, error) {
	var rows []mf.PoolHealth
	err := s.db.Where("pool_id = ?", poolID).Order("timestamp desc").Limit(n).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent pool health for %d: %w", poolID, err)
	}
	return rows, nil
}
