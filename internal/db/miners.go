package db

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// EnabledMiners returns every enabled miner, optionally filtered by family.
func (s *Store) EnabledMiners(family *mf.Family) ([]mf.Miner, error) {
	var miners []mf.Miner
	q := s.db.Where("enabled = ?", true)
	if family != nil {
		q = q.Where("family = ?", *family)
	}
	if err := q.Find(&miners).Error; err != nil {
		return nil, fmt.Errorf("list enabled miners: %w", err)
	}
	return miners, nil
}

// Miner loads a single miner by id.
func (s *Store) Miner(id uint) (*mf.Miner, error) {
	var m mf.Miner
	if err := s.db.First(&m, id).Error; err != nil {
		return nil, fmt.Errorf("load miner %d: %w", id, err)
	}
	return &m, nil
}

// SetMinerCurrentMode records the device's observed or commanded mode.
// Callers enforce the "never from telemetry auto-detect while enrolled in
// Agile Solo" invariant before calling this for an auto-detected value.
func (s *Store) SetMinerCurrentMode(minerID uint, mode string) error {
	now := time.Now()
	res := s.db.Model(&mf.Miner{}).Where("id = ?", minerID).Updates(map[string]any{
		"current_mode":     mode,
		"last_mode_change": now,
	})
	if res.Error != nil {
		return fmt.Errorf("set miner %d mode: %w", minerID, res.Error)
	}
	return nil
}

// SetMinerFirmware updates the stored firmware version if it differs.
func (s *Store) SetMinerFirmware(minerID uint, firmware string) error {
	res := s.db.Model(&mf.Miner{}).Where("id = ? AND firmware_version <> ?", minerID, firmware).
		Update("firmware_version", firmware)
	if res.Error != nil {
		return fmt.Errorf("set miner %d firmware: %w", minerID, res.Error)
	}
	return nil
}

// IsEnrolledInAgileSolo reports whether a miner is enrolled and enabled in
// the Agile Solo strategy.
func (s *Store) IsEnrolledInAgileSolo(minerID uint) (bool, error) {
	var ms mf.MinerStrategy
	err := s.db.First(&ms, "miner_id = ?", minerID).Error
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("load miner strategy for miner %d: %w", minerID, err)
	}
	return ms.StrategyEnabled, nil
}

// EnrolledMiners returns every miner currently enrolled in Agile Solo.
func (s *Store) EnrolledMiners() ([]mf.Miner, error) {
	var miners []mf.Miner
	err := s.db.Joins("JOIN miner_strategies ON miner_strategies.miner_id = miners.id").
		Where("miner_strategies.strategy_enabled = ? AND miners.enabled = ?", true, true).
		Find(&miners).Error
	if err != nil {
		return nil, fmt.Errorf("list enrolled miners: %w", err)
	}
	return miners, nil
}
