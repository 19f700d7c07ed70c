package db

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// RecordPoolHealth appends one reachability/health sample.
func (s *Store) RecordPoolHealth(row mf.PoolHealth) error {
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("record pool health for pool %d: %w", row.PoolID, err)
	}
	return nil
}

// RecentPoolHealthWindow returns every PoolHealth row for a pool within the
// last d, newest first — used by the consecutive-failure counters that
// drive the failover decision.
func (s *Store) RecentPoolHealthWindow(poolID uint, d time.Duration, now time.Time) ([]mf.PoolHealth, error) {
	var rows []mf.PoolHealth
	err := s.db.Where("pool_id = ? AND timestamp >= ?", poolID, now.Add(-d)).
		Order("timestamp desc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent pool health window for %d: %w", poolID, err)
	}
	return rows, nil
}

// PurgePoolHealthBefore deletes rows older than cutoff (30-day retention).
func (s *Store) PurgePoolHealthBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&mf.PoolHealth{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge pool health before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}

// RecordHealthScore appends one hourly composite score snapshot.
func (s *Store) RecordHealthScore(row mf.HealthScore) error {
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("record health score for miner %d: %w", row.MinerID, err)
	}
	return nil
}
