// Package reconcile implements the strategy-miner and automation-rule
// reconciliation loops: both observe actual device state via the adapter
// layer and re-apply intended state on drift, backstopping the control
// loops against interleaved ticks, transient failures, and manual
// overrides during downtime.
package reconcile

import (
	"context"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/util"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
)

// AdapterFactory builds the adapter for one miner.
type AdapterFactory func(miner mf.Miner) (adapter.Adapter, error)

// retryAttempts/retryDelay bound the per-miner switch retry: up to 2
// attempts spaced 2s apart.
const (
	retryAttempts = 2
	retryDelay    = 2 * time.Second
)

// PoolStrategyStore is the subset of *db.Store the strategy-miner
// reconciler needs.
type PoolStrategyStore interface {
	EnabledPoolStrategies() ([]mf.PoolStrategy, error)
	Pool(id uint) (*mf.Pool, error)
	StrategyMiners(ps mf.PoolStrategy) ([]mf.Miner, error)
}

// StrategyReconciler re-applies each generic pool strategy's single
// expected target pool to its miners on drift.
type StrategyReconciler struct {
	store      PoolStrategyStore
	newAdapter AdapterFactory
}

// NewStrategyReconciler builds a StrategyReconciler.
func NewStrategyReconciler(store PoolStrategyStore, newAdapter AdapterFactory) *StrategyReconciler {
	return &StrategyReconciler{store: store, newAdapter: newAdapter}
}

// MinerDrift records one miner found out of sync and whether reconciliation
// fixed it.
type MinerDrift struct {
	MinerID     uint
	CurrentPool string
	WantPool    string
	Fixed       bool
}

// Run evaluates every enabled pool strategy and reconciles its miners.
// Load-balance strategies are skipped: no single expected pool
// exists for them.
func (r *StrategyReconciler) Run(ctx context.Context) ([]MinerDrift, error) {
	strategies, err := r.store.EnabledPoolStrategies()
	if err != nil {
		return nil, err
	}
	var drifts []MinerDrift
	for _, ps := range strategies {
		expectedPoolID, ok := r.expectedPool(ps)
		if !ok {
			continue
		}
		pool, err := r.store.Pool(expectedPoolID)
		if err != nil || pool == nil {
			continue
		}
		miners, err := r.store.StrategyMiners(ps)
		if err != nil {
			continue
		}
		for _, m := range miners {
			if d, found := r.reconcileMiner(ctx, m, *pool); found {
				drifts = append(drifts, d)
			}
		}
	}
	return drifts, nil
}

// expectedPool derives the single expected target pool id for a strategy,
// or ok=false if none exists (load_balance, or pro_mode before its first
// execution).
func (r *StrategyReconciler) expectedPool(ps mf.PoolStrategy) (uint, bool) {
	switch ps.StrategyType {
	case mf.StrategyRoundRobin:
		if len(ps.PoolIDs) == 0 {
			return 0, false
		}
		idx := ps.CurrentPoolIndex
		if idx < 0 || idx >= len(ps.PoolIDs) {
			idx = 0
		}
		return ps.PoolIDs[idx], true
	case mf.StrategyProMode:
		mode, _ := ps.Config["current_mode"].(string)
		switch mode {
		case "low":
			return toUint(ps.Config["low_mode_pool_id"])
		case "high":
			return toUint(ps.Config["high_mode_pool_id"])
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

func (r *StrategyReconciler) reconcileMiner(ctx context.Context, m mf.Miner, pool mf.Pool) (MinerDrift, bool) {
	a, err := r.newAdapter(m)
	if err != nil {
		return MinerDrift{}, false
	}
	tctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
	rec, err := a.GetTelemetry(tctx)
	cancel()
	if err != nil || rec == nil || rec.PoolInUse == "" {
		return MinerDrift{}, false
	}

	wantURL := util.NormalizePoolURL(pool.URL())
	gotURL := util.NormalizePoolURL(rec.PoolInUse)
	if gotURL == wantURL {
		return MinerDrift{}, false
	}

	drift := MinerDrift{MinerID: m.ID, CurrentPool: rec.PoolInUse, WantPool: pool.URL()}
	target := adapter.PoolTarget{Host: pool.Host, Port: pool.Port, User: pool.User, Password: pool.Password}
	for attempt := 0; attempt < retryAttempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		err := a.SwitchPool(sctx, target)
		cancel()
		if err == nil {
			drift.Fixed = true
			break
		}
		if attempt < retryAttempts-1 {
			time.Sleep(retryDelay)
		}
	}
	return drift, true
}

func toUint(v any) (uint, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	}
	return 0, false
}

// AutomationStore is the subset of *db.Store the automation reconciler
// needs.
type AutomationStore interface {
	EnabledRulesByPriority() ([]mf.AutomationRule, error)
	Miner(id uint) (*mf.Miner, error)
	EnabledMiners(family *mf.Family) ([]mf.Miner, error)
	SetMinerCurrentMode(minerID uint, mode string) error
}

// AutomationReconciler re-applies every currently-triggered apply_mode or
// switch_pool rule's intended state on drift.
type AutomationReconciler struct {
	store      AutomationStore
	newAdapter AdapterFactory
}

// NewAutomationReconciler builds an AutomationReconciler.
func NewAutomationReconciler(store AutomationStore, newAdapter AdapterFactory) *AutomationReconciler {
	return &AutomationReconciler{store: store, newAdapter: newAdapter}
}

// Run re-applies the mode/pool target of every enabled apply_mode and
// switch_pool rule that is currently triggered to the miners its action
// config names. A rule counts as triggered while its stored execution
// context holds an idempotency key: the rule engine records one when the
// rule fires and clears it when the condition clears.
func (r *AutomationReconciler) Run(ctx context.Context) error {
	rules, err := r.store.EnabledRulesByPriority()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if key, _ := rule.LastExecutionContext["idempotency_key"].(string); key == "" {
			continue
		}
		switch rule.ActionType {
		case mf.ActionApplyMode:
			r.reconcileApplyMode(ctx, rule)
		case mf.ActionSwitchPool:
			r.reconcileSwitchPool(ctx, rule)
		}
	}
	return nil
}

func (r *AutomationReconciler) reconcileApplyMode(ctx context.Context, rule mf.AutomationRule) {
	mode, _ := rule.ActionConfig["mode"].(string)
	if mode == "" {
		return
	}
	miners := r.resolveMiners(rule.ActionConfig)
	for _, m := range miners {
		if m.CurrentMode != nil && *m.CurrentMode == mode {
			continue
		}
		a, err := r.newAdapter(m)
		if err != nil {
			continue
		}
		mctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		err = a.SetMode(mctx, mode)
		cancel()
		if err == nil {
			_ = r.store.SetMinerCurrentMode(m.ID, mode)
		}
	}
}

func (r *AutomationReconciler) reconcileSwitchPool(ctx context.Context, rule mf.AutomationRule) {
	miners := r.resolveMiners(rule.ActionConfig)
	if len(miners) != 1 {
		return
	}
	host, _ := rule.ActionConfig["host"].(string)
	if host == "" {
		return
	}
	port, _ := toFloat(rule.ActionConfig["port"])
	user, _ := rule.ActionConfig["user"].(string)
	password, _ := rule.ActionConfig["password"].(string)

	a, err := r.newAdapter(miners[0])
	if err != nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
	rec, err := a.GetTelemetry(tctx)
	cancel()
	if err != nil || rec == nil {
		return
	}
	want := util.NormalizePoolURL(host)
	if util.NormalizePoolURL(rec.PoolInUse) == want {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
	defer cancel()
	_ = a.SwitchPool(sctx, adapter.PoolTarget{Host: host, Port: int(port), User: user, Password: password})
}

func (r *AutomationReconciler) resolveMiners(cfg mf.JSONMap) []mf.Miner {
	raw, ok := cfg["miner_id"]
	if !ok {
		return nil
	}
	if s, ok := raw.(string); ok && len(s) > 5 && s[:5] == "type:" {
		family := mf.Family(s[5:])
		miners, _ := r.store.EnabledMiners(&family)
		return miners
	}
	id, ok := toUint(raw)
	if !ok {
		return nil
	}
	m, err := r.store.Miner(id)
	if err != nil || m == nil {
		return nil
	}
	return []mf.Miner{*m}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
