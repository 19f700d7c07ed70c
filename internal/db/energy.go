package db

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// UpsertEnergyPrice inserts a tariff slot, deduplicating on
// (region, valid_from).
func (s *Store) UpsertEnergyPrice(p mf.EnergyPrice) error {
	var existing mf.EnergyPrice
	err := s.db.Where("region = ? AND valid_from = ?", p.Region, p.ValidFrom).First(&existing).Error
	switch {
	case isNotFound(err):
		if err := s.db.Create(&p).Error; err != nil {
			return fmt.Errorf("insert energy price %s@%s: %w", p.Region, p.ValidFrom, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup energy price %s@%s: %w", p.Region, p.ValidFrom, err)
	default:
		existing.PricePence = p.PricePence
		existing.ValidTo = p.ValidTo
		if err := s.db.Save(&existing).Error; err != nil {
			return fmt.Errorf("update energy price %s@%s: %w", p.Region, p.ValidFrom, err)
		}
		return nil
	}
}

// CurrentPrice returns the exactly-one row with valid_from <= now <
// valid_to for region.
func (s *Store) CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error) {
	var p mf.EnergyPrice
	err := s.db.Where("region = ? AND valid_from <= ? AND valid_to > ?", region, now, now).First(&p).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("current price for %s at %s: %w", region, now, err)
	}
	return &p, nil
}

// NextPrice returns the minimum-valid_from row with valid_from > now.
func (s *Store) NextPrice(region string, now time.Time) (*mf.EnergyPrice, error) {
	var p mf.EnergyPrice
	err := s.db.Where("region = ? AND valid_from > ?", region, now).
		Order("valid_from asc").First(&p).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("next price for %s after %s: %w", region, now, err)
	}
	return &p, nil
}

// PriceAt returns the slot covering ts, used by cost-attribution jobs.
func (s *Store) PriceAt(region string, ts time.Time) (*mf.EnergyPrice, error) {
	return s.CurrentPrice(region, ts)
}

// PurgeEnergyPricesBefore deletes tariff slots older than cutoff (60-day
// retention).
func (s *Store) PurgeEnergyPricesBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("valid_to < ?", cutoff).Delete(&mf.EnergyPrice{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge energy prices before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}
