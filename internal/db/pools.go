package db

import (
	"fmt"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// EnabledPools returns every enabled pool.
func (s *Store) EnabledPools() ([]mf.Pool, error) {
	var pools []mf.Pool
	if err := s.db.Where("enabled = ?", true).Order("priority desc").Find(&pools).Error; err != nil {
		return nil, fmt.Errorf("list enabled pools: %w", err)
	}
	return pools, nil
}

// Pool loads a single pool by id.
func (s *Store) Pool(id uint) (*mf.Pool, error) {
	var p mf.Pool
	if err := s.db.First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("load pool %d: %w", id, err)
	}
	return &p, nil
}

// PoolByHostPort finds a pool matching host:port, enabled or not, used to resolve
// Telemetry.PoolInUse and device slot entries to a Pool row.
func (s *Store) PoolByHostPort(host string, port int) (*mf.Pool, error) {
	var p mf.Pool
	err := s.db.Where("host = ? AND port = ?", host, port).First(&p).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pool by host:port %s:%d: %w", host, port, err)
	}
	return &p, nil
}

// PoolByCoin finds the first enabled Solo pool for a coin symbol, matched
// on the pool name prefix (the convention the Agile Solo strategy and
// high-diff tracker use to derive a coin from a pool).
func (s *Store) PoolByCoin(coin string) (*mf.Pool, error) {
	var p mf.Pool
	err := s.db.Where("enabled = ? AND name LIKE ?", true, coin+"%").First(&p).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pool for coin %s: %w", coin, err)
	}
	return &p, nil
}

// UpsertMinerPoolSlots rewrites a miner's fixed pool slots in place for
// the pool-slot sync job.
func (s *Store) UpsertMinerPoolSlots(minerID uint, slots []mf.MinerPoolSlot) error {
	for i := range slots {
		slot := slots[i]
		slot.MinerID = minerID
		if slot.PoolID == nil {
			if p, err := s.PoolByHostPort(slot.PoolURL, slot.PoolPort); err == nil && p != nil {
				slot.PoolID = &p.ID
			}
		}
		if err := s.db.Save(&slot).Error; err != nil {
			return fmt.Errorf("upsert pool slot %d/%d: %w", minerID, slot.SlotNumber, err)
		}
	}
	return nil
}

// MinerPoolSlots returns the known slots for a miner, ordered by slot
// number.
func (s *Store) MinerPoolSlots(minerID uint) ([]mf.MinerPoolSlot, error) {
	var slots []mf.MinerPoolSlot
	err := s.db.Where("miner_id = ?", minerID).Order("slot_number").Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("list pool slots for miner %d: %w", minerID, err)
	}
	return slots, nil
}
