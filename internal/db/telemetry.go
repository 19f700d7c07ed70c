package db

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// RecordTelemetry appends one Telemetry row.
func (s *Store) RecordTelemetry(t *mf.Telemetry) error {
	if err := s.db.Create(t).Error; err != nil {
		return fmt.Errorf("record telemetry for miner %d: %w", t.MinerID, err)
	}
	return nil
}

// LatestTelemetry returns the most recent Telemetry row for a miner, or nil
// if none exists.
func (s *Store) LatestTelemetry(minerID uint) (*mf.Telemetry, error) {
	var t mf.Telemetry
	err := s.db.Where("miner_id = ?", minerID).Order("timestamp desc").First(&t).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest telemetry for miner %d: %w", minerID, err)
	}
	return &t, nil
}

// LatestTelemetryForAll returns the most recent Telemetry row per miner
// id, driven by the composite (miner_id, timestamp) index.
func (s *Store) LatestTelemetryForAll() (map[uint]mf.Telemetry, error) {
	var rows []mf.Telemetry
	sub := s.db.Model(&mf.Telemetry{}).
		Select("miner_id, MAX(timestamp) as timestamp").
		Group("miner_id")
	err := s.db.Joins("JOIN (?) latest ON latest.miner_id = telemetry.miner_id AND latest.timestamp = telemetry.timestamp", sub).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest telemetry for all miners: %w", err)
	}
	out := make(map[uint]mf.Telemetry, len(rows))
	for _, r := range rows {
		out[r.MinerID] = r
	}
	return out, nil
}

// PurgeTelemetryBefore deletes every Telemetry row older than cutoff
// (retention is 30 days).
func (s *Store) PurgeTelemetryBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&mf.Telemetry{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge telemetry before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeEventsBefore deletes every Event row older than cutoff.
func (s *Store) PurgeEventsBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&mf.Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge events before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}

// TelemetrySince returns every Telemetry row for a miner at or after since,
// used by reject-rate aggregation and alert triggers.
func (s *Store) TelemetrySince(minerID uint, since time.Time) ([]mf.Telemetry, error) {
	var rows []mf.Telemetry
	err := s.db.Where("miner_id = ? AND timestamp >= ?", minerID, since).
		Order("timestamp asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("telemetry since %s for miner %d: %w", since, minerID, err)
	}
	return rows, nil
}

// TelemetryForPoolSince returns telemetry rows across all miners whose
// pool_in_use matches poolURL, used by the pool-health reject-rate
// aggregation.
func (s *Store) TelemetryForPoolSince(poolURL string, since time.Time) ([]mf.Telemetry, error) {
	var rows []mf.Telemetry
	err := s.db.Where("pool_in_use = ? AND timestamp >= ?", poolURL, since).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("telemetry for pool %s since %s: %w", poolURL, since, err)
	}
	return rows, nil
}
