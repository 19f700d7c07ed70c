// Package agilesolo implements the Agile Solo energy-price strategy: a
// band-based state machine that watches the current and
// next tariff slot and drives enrolled miners toward the coin/mode the
// cheapest-available band calls for, with look-ahead confirmation damping
// single-slot price noise.
package agilesolo

import (
	"context"
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/errs"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
)

// Store is the subset of *db.Store the strategy needs. Defined here,
// satisfied structurally, so this package never imports internal/db.
type Store interface {
	AgileStrategyRow() (*mf.AgileStrategy, error)
	SaveAgileStrategy(st *mf.AgileStrategy) error
	AgileStrategyBands(strategyID uint) ([]mf.AgileStrategyBand, error)
	EnrolledMiners() ([]mf.Miner, error)
	PoolByCoin(coin string) (*mf.Pool, error)
	DisableAgileStrategy(reason string) error
	RecordAudit(a mf.AuditLog) error
	RecordEvent(e mf.Event) error
	LatestTelemetry(minerID uint) (*mf.Telemetry, error)
	SetMinerCurrentMode(minerID uint, mode string) error
	CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error)
	NextPrice(region string, now time.Time) (*mf.EnergyPrice, error)
}

// AdapterFactory builds the adapter for one miner. Production callers pass
// adapter.New; tests substitute a fake.
type AdapterFactory func(miner mf.Miner) (adapter.Adapter, error)

// Engine runs Agile Solo ticks against a Store.
type Engine struct {
	store      Store
	region     string
	newAdapter AdapterFactory
}

// New builds an Engine for the configured tariff region.
func New(store Store, region string, newAdapter AdapterFactory) *Engine {
	return &Engine{store: store, region: region, newAdapter: newAdapter}
}

// MinerOutcome is one miner's result within a tick's audit entry.
type MinerOutcome struct {
	MinerID uint   `json:"miner_id"`
	Action  string `json:"action"` // "skipped", "applied", "failed"
	Detail  string `json:"detail,omitempty"`
}

// TickResult summarises one Execute call for logging and tests.
type TickResult struct {
	Aborted     bool
	AbortReason string
	BandID      uint
	TargetCoin  string
	Outcomes    []MinerOutcome
}

// Execute runs one Agile Solo tick: validate, select the target
// band with look-ahead confirmation, and apply it to every enrolled miner.
func (e *Engine) Execute(ctx context.Context, now time.Time) (TickResult, error) {
	st, err := e.store.AgileStrategyRow()
	if err != nil {
		return TickResult{}, fmt.Errorf("load agile strategy: %w", err)
	}
	if !st.Enabled {
		return TickResult{Aborted: true, AbortReason: "disabled"}, nil
	}

	bands, err := e.store.AgileStrategyBands(st.ID)
	if err != nil {
		return TickResult{}, fmt.Errorf("load agile strategy bands: %w", err)
	}
	if len(bands) == 0 {
		return TickResult{Aborted: true, AbortReason: "no bands configured"}, nil
	}

	current, err := e.store.CurrentPrice(e.region, now)
	if err != nil || current == nil {
		return TickResult{Aborted: true, AbortReason: "no current price"}, nil
	}

	if err := e.validateBandCoins(bands); err != nil {
		_ = e.store.DisableAgileStrategy(err.Error())
		return TickResult{Aborted: true, AbortReason: err.Error()}, nil
	}

	candidate, ok := coveringBand(bands, current.PricePence)
	if !ok {
		return TickResult{Aborted: true, AbortReason: "no band covers current price"}, nil
	}

	currentBand, ok := bandByID(bands, st.CurrentPriceBand)
	if !ok {
		// First tick, or the stored band no longer exists: adopt the
		// candidate directly, there is no prior state to confirm against.
		currentBand = candidate
	}

	target := e.selectBand(bands, candidate, currentBand, e.region, now)

	outcomes := e.apply(ctx, st, target)

	price := current.PricePence
	st.CurrentPriceBand = &target.ID
	st.LastPriceChecked = &price
	st.LastActionTime = &now
	st.HysteresisCounter = 0
	if err := e.store.SaveAgileStrategy(st); err != nil {
		return TickResult{}, fmt.Errorf("save agile strategy state: %w", err)
	}

	_ = e.store.RecordAudit(mf.AuditLog{
		Timestamp:    now,
		Actor:        "agile_solo",
		Action:       "tick",
		ResourceType: "agile_strategy",
		ResourceID:   st.ID,
		Changes:      mf.JSONMap{"band_id": target.ID, "target_coin": target.TargetCoin, "outcomes": outcomesToMap(outcomes)},
		Status:       "ok",
	})

	return TickResult{BandID: target.ID, TargetCoin: target.TargetCoin, Outcomes: outcomes}, nil
}

// validateBandCoins requires a Solo pool to exist for every non-OFF coin
// referenced by any band.
func (e *Engine) validateBandCoins(bands []mf.AgileStrategyBand) error {
	seen := map[string]bool{}
	for _, b := range bands {
		if b.TargetCoin == mf.OffCoin || seen[b.TargetCoin] {
			continue
		}
		seen[b.TargetCoin] = true
		p, err := e.store.PoolByCoin(b.TargetCoin)
		if err != nil || p == nil {
			return fmt.Errorf("%w: no pool configured for coin %q", errs.StrategyInvariantViolation, b.TargetCoin)
		}
	}
	return nil
}

func coveringBand(bands []mf.AgileStrategyBand, price float64) (mf.AgileStrategyBand, bool) {
	for _, b := range bands {
		if b.Covers(price) {
			return b, true
		}
	}
	return mf.AgileStrategyBand{}, false
}

func bandByID(bands []mf.AgileStrategyBand, id *uint) (mf.AgileStrategyBand, bool) {
	if id == nil {
		return mf.AgileStrategyBand{}, false
	}
	for _, b := range bands {
		if b.ID == *id {
			return b, true
		}
	}
	return mf.AgileStrategyBand{}, false
}

// selectBand implements the look-ahead band-selection rule.
func (e *Engine) selectBand(bands []mf.AgileStrategyBand, candidate, current mf.AgileStrategyBand, region string, now time.Time) mf.AgileStrategyBand {
	if candidate.TargetCoin == mf.OffCoin {
		return candidate
	}
	if candidate.SortOrder < current.SortOrder {
		return candidate
	}
	if candidate.SortOrder == current.SortOrder {
		return current
	}

	// Upgrade: require confirmation from the next slot's price.
	next, err := e.store.NextPrice(region, now)
	if err != nil || next == nil {
		// No forward visibility: conservatively stay put.
		return current
	}
	nextBand, ok := coveringBand(bands, next.PricePence)
	if !ok || nextBand.SortOrder < candidate.SortOrder {
		return current
	}
	return candidate
}

// apply drives every enrolled miner toward the target band.
func (e *Engine) apply(ctx context.Context, st *mf.AgileStrategy, target mf.AgileStrategyBand) []MinerOutcome {
	miners, err := e.store.EnrolledMiners()
	if err != nil {
		return []MinerOutcome{{Action: "failed", Detail: fmt.Sprintf("load enrolled miners: %v", err)}}
	}

	if target.TargetCoin == mf.OffCoin {
		_ = e.store.RecordEvent(mf.Event{
			Timestamp: time.Now(),
			EventType: mf.EventInfo,
			Source:    "agile_solo",
			Message:   "price band requires shutdown; delegated externally",
		})
		return []MinerOutcome{{Action: "applied", Detail: "off"}}
	}

	pool, err := e.store.PoolByCoin(target.TargetCoin)
	if err != nil || pool == nil {
		return []MinerOutcome{{Action: "failed", Detail: fmt.Sprintf("no pool for coin %s: %v", target.TargetCoin, err)}}
	}

	outcomes := make([]MinerOutcome, 0, len(miners))
	for _, m := range miners {
		outcomes = append(outcomes, e.applyOne(ctx, m, target, *pool))
	}
	return outcomes
}

func (e *Engine) applyOne(ctx context.Context, m mf.Miner, target mf.AgileStrategyBand, pool mf.Pool) MinerOutcome {
	mode, hasMode := target.ModeFor(m.Family)
	if hasMode && mode == mf.ManagedExternally {
		return MinerOutcome{MinerID: m.ID, Action: "skipped", Detail: "managed externally"}
	}

	a, err := e.newAdapter(m)
	if err != nil {
		return MinerOutcome{MinerID: m.ID, Action: "failed", Detail: err.Error()}
	}

	tctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
	defer cancel()
	rec, err := a.GetTelemetry(tctx)

	currentPoolMatches := err == nil && rec.PoolInUse == pool.URL()
	currentModeMatches := !hasMode || (m.CurrentMode != nil && *m.CurrentMode == mode)
	if currentPoolMatches && currentModeMatches {
		return MinerOutcome{MinerID: m.ID, Action: "skipped", Detail: "already converged"}
	}

	if !currentPoolMatches {
		sctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		if err := a.SwitchPool(sctx, adapter.PoolTarget{Host: pool.Host, Port: pool.Port, User: pool.User, Password: pool.Password}); err != nil {
			cancel()
			return MinerOutcome{MinerID: m.ID, Action: "failed", Detail: fmt.Sprintf("switch pool: %v", err)}
		}
		cancel()
	}

	if hasMode && !currentModeMatches {
		mctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		err := a.SetMode(mctx, mode)
		cancel()
		if err != nil {
			return MinerOutcome{MinerID: m.ID, Action: "failed", Detail: fmt.Sprintf("set mode: %v", err)}
		}
		_ = e.store.SetMinerCurrentMode(m.ID, mode)
	}

	return MinerOutcome{MinerID: m.ID, Action: "applied"}
}

// Reconcile re-derives the intended band from the current price (not from
// stored state, so manual band edits take effect) and re-applies mode to
// any enrolled miner whose current_mode drifted.
func (e *Engine) Reconcile(ctx context.Context, now time.Time) error {
	st, err := e.store.AgileStrategyRow()
	if err != nil {
		return fmt.Errorf("load agile strategy: %w", err)
	}
	if !st.Enabled {
		return nil
	}

	bands, err := e.store.AgileStrategyBands(st.ID)
	if err != nil {
		return fmt.Errorf("load agile strategy bands: %w", err)
	}
	current, err := e.store.CurrentPrice(e.region, now)
	if err != nil || current == nil {
		return nil // no price data yet; nothing to reconcile against
	}
	target, ok := coveringBand(bands, current.PricePence)
	if !ok || target.TargetCoin == mf.OffCoin {
		return nil
	}

	miners, err := e.store.EnrolledMiners()
	if err != nil {
		return fmt.Errorf("load enrolled miners: %w", err)
	}
	for _, m := range miners {
		mode, hasMode := target.ModeFor(m.Family)
		if !hasMode || mode == mf.ManagedExternally {
			continue
		}
		if m.CurrentMode != nil && *m.CurrentMode == mode {
			continue
		}
		a, err := e.newAdapter(m)
		if err != nil {
			continue
		}
		mctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		err = a.SetMode(mctx, mode)
		cancel()
		if err == nil {
			_ = e.store.SetMinerCurrentMode(m.ID, mode)
		}
	}
	return nil
}

func outcomesToMap(outcomes []MinerOutcome) []map[string]any {
	out := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, map[string]any{"miner_id": o.MinerID, "action": o.Action, "detail": o.Detail})
	}
	return out
}
