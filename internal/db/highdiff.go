package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// BestShareForMiner returns the highest difficulty recorded for a miner, or
// nil if it has none yet.
func (s *Store) BestShareForMiner(minerID uint) (*float64, error) {
	var row mf.HighDiffShare
	err := s.db.Where("miner_id = ?", minerID).Order("difficulty desc").First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("best share for miner %d: %w", minerID, err)
	}
	return &row.Difficulty, nil
}

// InsertHighDiffShare appends a row and trims the per-miner table to the
// top 30 by difficulty.
func (s *Store) InsertHighDiffShare(row mf.HighDiffShare) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert high diff share for miner %d: %w", row.MinerID, err)
		}

		var count int64
		if err := tx.Model(&mf.HighDiffShare{}).Where("miner_id = ?", row.MinerID).Count(&count).Error; err != nil {
			return fmt.Errorf("count high diff shares for miner %d: %w", row.MinerID, err)
		}
		if count <= 30 {
			return nil
		}

		var toDelete []uint
		err := tx.Model(&mf.HighDiffShare{}).
			Where("miner_id = ?", row.MinerID).
			Order("difficulty asc").
			Limit(int(count-30)).
			Pluck("id", &toDelete).Error
		if err != nil {
			return fmt.Errorf("find excess high diff shares for miner %d: %w", row.MinerID, err)
		}
		if len(toDelete) == 0 {
			return nil
		}
		if err := tx.Where("id IN ?", toDelete).Delete(&mf.HighDiffShare{}).Error; err != nil {
			return fmt.Errorf("trim high diff shares for miner %d: %w", row.MinerID, err)
		}
		return nil
	})
}

// RecordBlockFound appends a permanent block-solve record.
func (s *Store) RecordBlockFound(row mf.BlockFound) error {
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("record block found for miner %d: %w", row.MinerID, err)
	}
	return nil
}

// PurgeHighDiffSharesBefore deletes rows older than cutoff (180-day
// global retention).
func (s *Store) PurgeHighDiffSharesBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&mf.HighDiffShare{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge high diff shares before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}
