// Package ingest implements the telemetry collection and pool-slot sync
// jobs: poll every enabled miner's adapter, persist a Telemetry row, feed
// the high-diff tracker, and keep fixed-slot devices' known pool slots in
// sync.
package ingest

import (
	"context"
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/db"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/highdiff"
)

// pollStagger spaces per-miner polls so a large fleet does not hit the
// network at one instant.
const pollStagger = 250 * time.Millisecond

// Store is the subset of *db.Store the ingest jobs need.
type Store interface {
	EnabledMiners(family *mf.Family) ([]mf.Miner, error)
	RecordTelemetry(t *mf.Telemetry) error
	SetMinerFirmware(minerID uint, firmware string) error
	SetMinerCurrentMode(minerID uint, mode string) error
	IsEnrolledInAgileSolo(minerID uint) (bool, error)
	RecordEvent(e mf.Event) error
	UpsertMinerPoolSlots(minerID uint, slots []mf.MinerPoolSlot) error
}

// AdapterFactory builds the adapter for one miner.
type AdapterFactory func(miner mf.Miner) (adapter.Adapter, error)

// HighDiffObserver is the subset of pkg/highdiff.Tracker the telemetry job
// feeds best-share readings into.
type HighDiffObserver interface {
	Observe(ctx context.Context, minerID uint, rawBestShare, pool, mode string, hashrate float64, at time.Time) (highdiff.Result, error)
}

// Collector polls every enabled miner once per call and persists what it
// learns.
type Collector struct {
	store      Store
	newAdapter AdapterFactory
	highDiff   HighDiffObserver
}

// New builds a Collector. highDiff may be nil, skipping best-share
// tracking (e.g. in deployments without a block-explorer fetcher wired
// up).
func New(store Store, newAdapter AdapterFactory, highDiff HighDiffObserver) *Collector {
	return &Collector{store: store, newAdapter: newAdapter, highDiff: highDiff}
}

// MinerOutcome is one miner's poll result within a CollectAll call.
type MinerOutcome struct {
	MinerID uint
	Success bool
	Err     error
}

// CollectAll polls every enabled, non-passive miner and persists its
// telemetry. Passive families (NMMiner) are fed by the UDP listener
// instead and are skipped here.
func (c *Collector) CollectAll(ctx context.Context, at time.Time) []MinerOutcome {
	miners, err := c.store.EnabledMiners(nil)
	if err != nil {
		return []MinerOutcome{{Err: fmt.Errorf("list enabled miners: %w", err)}}
	}
	outcomes := make([]MinerOutcome, 0, len(miners))
	for i, m := range miners {
		if m.Family.IsPassive() {
			continue
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return outcomes
			case <-time.After(pollStagger):
			}
		}
		outcomes = append(outcomes, c.collectOne(ctx, m, at))
	}
	return outcomes
}

func (c *Collector) collectOne(ctx context.Context, m mf.Miner, at time.Time) MinerOutcome {
	a, err := c.newAdapter(m)
	if err != nil {
		c.warn(m.ID, fmt.Sprintf("build adapter: %v", err))
		return MinerOutcome{MinerID: m.ID, Err: err}
	}

	tctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
	rec, err := a.GetTelemetry(tctx)
	cancel()
	if err != nil {
		c.warn(m.ID, fmt.Sprintf("poll failed: %v", err))
		return MinerOutcome{MinerID: m.ID, Err: fmt.Errorf("poll miner %d: %w", m.ID, err)}
	}

	if err := c.PersistTelemetryRecord(ctx, m.ID, m.Family, m.CurrentMode, rec, at); err != nil {
		return MinerOutcome{MinerID: m.ID, Err: err}
	}
	return MinerOutcome{MinerID: m.ID, Success: true}
}

// PersistTelemetryRecord applies one adapter poll result for minerID: it
// persists the Telemetry row, conditionally updates firmware and
// CurrentMode (never for an Agile-Solo-enrolled miner), and feeds the
// high-diff tracker for ASIC families. Both collectOne (active families,
// polled on the 60s tick) and the passive-family UDP listener (delivering
// frames as they arrive) go through this single path so persistence
// semantics stay identical regardless of how the record was obtained.
func (c *Collector) PersistTelemetryRecord(ctx context.Context, minerID uint, family mf.Family, currentMode *string, rec *adapter.TelemetryRecord, at time.Time) error {
	t := &mf.Telemetry{
		MinerID:        minerID,
		Timestamp:      at,
		Hashrate:       rec.Hashrate,
		HashrateUnit:   rec.HashrateUnit,
		Temperature:    rec.Temperature,
		PowerWatts:     rec.PowerWatts,
		SharesAccepted: rec.SharesAccepted,
		SharesRejected: rec.SharesRejected,
		PoolInUse:      rec.PoolInUse,
		Data:           rec.Extra,
	}
	if err := db.WithRetry(func() error { return c.store.RecordTelemetry(t) }); err != nil {
		return err
	}

	if rec.Firmware != "" {
		_ = c.store.SetMinerFirmware(minerID, rec.Firmware)
	}

	// Agile Solo owns CurrentMode for enrolled miners; never overwrite it
	// with an auto-detected value.
	if rec.DetectedMode != "" {
		enrolled, err := c.store.IsEnrolledInAgileSolo(minerID)
		if err == nil && !enrolled {
			_ = c.store.SetMinerCurrentMode(minerID, rec.DetectedMode)
		}
	}

	// Best-share tracking is ASIC-only: CPU miners' session difficulty
	// figures are not comparable to ASIC share difficulties.
	if c.highDiff != nil && family.IsASIC() && rec.BestShare != "" {
		mode := rec.DetectedMode
		if currentMode != nil {
			mode = *currentMode
		}
		if _, err := c.highDiff.Observe(ctx, minerID, rec.BestShare, rec.PoolInUse, mode, rec.Hashrate, at); err != nil {
			c.warn(minerID, fmt.Sprintf("high-diff tracking: %v", err))
		}
	}

	return nil
}

func (c *Collector) warn(minerID uint, msg string) {
	_ = c.store.RecordEvent(mf.Event{
		Timestamp: time.Now(),
		EventType: mf.EventWarning,
		Source:    "ingest",
		Message:   msg,
		Data:      mf.JSONMap{"miner_id": minerID},
	})
}

// SlotSyncer keeps fixed-slot families' known pool slots up to date with
// what the device actually reports.
type SlotSyncer struct {
	store      Store
	newAdapter AdapterFactory
}

// NewSlotSyncer builds a SlotSyncer.
func NewSlotSyncer(store Store, newAdapter AdapterFactory) *SlotSyncer {
	return &SlotSyncer{store: store, newAdapter: newAdapter}
}

// slotReader is implemented by fixed-slot adapters (currently only
// *adapter.AvalonAdapter) to expose their device-reported slot table.
type slotReader interface {
	Slots(ctx context.Context) ([]mf.MinerPoolSlot, error)
}

// SyncAll reads and persists pool slots for every enabled fixed-slot
// miner.
func (s *SlotSyncer) SyncAll(ctx context.Context) error {
	fixedSlot := mf.FamilyAvalonNano
	miners, err := s.store.EnabledMiners(&fixedSlot)
	if err != nil {
		return fmt.Errorf("list fixed-slot miners: %w", err)
	}
	for _, m := range miners {
		a, err := s.newAdapter(m)
		if err != nil {
			continue
		}
		sr, ok := a.(slotReader)
		if !ok {
			continue
		}
		tctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		slots, err := sr.Slots(tctx)
		cancel()
		if err != nil {
			continue
		}
		_ = s.store.UpsertMinerPoolSlots(m.ID, slots)
	}
	return nil
}
