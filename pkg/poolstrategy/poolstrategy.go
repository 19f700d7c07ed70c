// Package poolstrategy implements the generic pool-strategy engine:
// round-robin, load-balance, and pro-mode, sharing one execution contract —
// compute a target, attempt switches, and persist new strategy state only
// if at least one miner succeeded.
package poolstrategy

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
)

// Store is the subset of *db.Store this engine needs.
type Store interface {
	EnabledPoolStrategies() ([]mf.PoolStrategy, error)
	SavePoolStrategy(ps *mf.PoolStrategy) error
	RecordPoolStrategyLog(strategyID uint, outcome mf.JSONMap, allFailed bool) error
	StrategyMiners(ps mf.PoolStrategy) ([]mf.Miner, error)
	Pool(id uint) (*mf.Pool, error)
	EnabledPools() ([]mf.Pool, error)
	RecentPoolHealth(poolID uint, n int) ([]mf.PoolHealth, error)
	CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error)
}

// AdapterFactory builds the adapter for one miner.
type AdapterFactory func(miner mf.Miner) (adapter.Adapter, error)

// Engine runs pool-strategy ticks against a Store.
type Engine struct {
	store              Store
	newAdapter         AdapterFactory
	region             string
	energyOptEnabled   bool
	energyOptThreshold float64
	rand               *rand.Rand
}

// New builds an Engine. energyOptEnabled/threshold come from configs.Data's
// energy_optimization keys, required by pro-mode.
func New(store Store, newAdapter AdapterFactory, region string, energyOptEnabled bool, energyOptThreshold float64) *Engine {
	return &Engine{
		store:              store,
		newAdapter:         newAdapter,
		region:             region,
		energyOptEnabled:   energyOptEnabled,
		energyOptThreshold: energyOptThreshold,
		rand:               rand.New(rand.NewSource(1)),
	}
}

// MinerSwitchOutcome is one miner's result within a tick.
type MinerSwitchOutcome struct {
	MinerID uint
	Success bool
	Detail  string
}

// TickResult summarises one strategy's execution.
type TickResult struct {
	StrategyID uint
	Switched   bool
	Reason     string
	Outcomes   []MinerSwitchOutcome
}

// ExecuteAll runs every enabled strategy's tick.
func (e *Engine) ExecuteAll(ctx context.Context, now time.Time) ([]TickResult, error) {
	strategies, err := e.store.EnabledPoolStrategies()
	if err != nil {
		return nil, fmt.Errorf("list enabled pool strategies: %w", err)
	}
	results := make([]TickResult, 0, len(strategies))
	for _, ps := range strategies {
		var res TickResult
		switch ps.StrategyType {
		case mf.StrategyRoundRobin:
			res = e.executeRoundRobin(ctx, ps, now)
		case mf.StrategyLoadBalance:
			res = e.executeLoadBalance(ctx, ps, now)
		case mf.StrategyProMode:
			res = e.executeProMode(ctx, ps, now)
		default:
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// switchMiners attempts target pool on every one of a strategy's miners,
// returning per-miner outcomes. A fixed-slot miner without the target pool
// in its device slots fails that miner without aborting the strategy.
func (e *Engine) switchMiners(ctx context.Context, ps mf.PoolStrategy, pool mf.Pool) []MinerSwitchOutcome {
	miners, err := e.store.StrategyMiners(ps)
	if err != nil {
		return []MinerSwitchOutcome{{Success: false, Detail: fmt.Sprintf("load strategy miners: %v", err)}}
	}
	outcomes := make([]MinerSwitchOutcome, 0, len(miners))
	for _, m := range miners {
		a, err := e.newAdapter(m)
		if err != nil {
			outcomes = append(outcomes, MinerSwitchOutcome{MinerID: m.ID, Detail: err.Error()})
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		err = a.SwitchPool(sctx, adapter.PoolTarget{Host: pool.Host, Port: pool.Port, User: pool.User, Password: pool.Password})
		cancel()
		if err != nil {
			outcomes = append(outcomes, MinerSwitchOutcome{MinerID: m.ID, Detail: err.Error()})
			continue
		}
		outcomes = append(outcomes, MinerSwitchOutcome{MinerID: m.ID, Success: true})
	}
	return outcomes
}

func successCount(outcomes []MinerSwitchOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

func outcomesToMap(outcomes []MinerSwitchOutcome) []map[string]any {
	out := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, map[string]any{"miner_id": o.MinerID, "success": o.Success, "detail": o.Detail})
	}
	return out
}

// executeRoundRobin advances current_pool_index to the next enabled pool,
// skipping disabled pools in the cycle.
func (e *Engine) executeRoundRobin(ctx context.Context, ps mf.PoolStrategy, now time.Time) TickResult {
	cfg := roundRobinConfig(ps.Config)
	if ps.LastSwitch != nil && now.Sub(*ps.LastSwitch) < cfg.interval {
		return TickResult{StrategyID: ps.ID, Reason: "interval_not_reached"}
	}
	if len(ps.PoolIDs) == 0 {
		return TickResult{StrategyID: ps.ID, Reason: "no_pools_configured"}
	}

	enabled := make(map[uint]mf.Pool)
	for _, id := range ps.PoolIDs {
		p, err := e.store.Pool(id)
		if err == nil && p != nil && p.Enabled {
			enabled[id] = *p
		}
	}
	if len(enabled) == 0 {
		return TickResult{StrategyID: ps.ID, Reason: "no_enabled_pools"}
	}

	next := ps.CurrentPoolIndex
	var target mf.Pool
	found := false
	for i := 0; i < len(ps.PoolIDs); i++ {
		next = (next + 1) % len(ps.PoolIDs)
		if p, ok := enabled[ps.PoolIDs[next]]; ok {
			target = p
			found = true
			break
		}
	}
	if !found {
		return TickResult{StrategyID: ps.ID, Reason: "no_enabled_pools"}
	}

	outcomes := e.switchMiners(ctx, ps, target)
	allFailed := successCount(outcomes) == 0
	_ = e.store.RecordPoolStrategyLog(ps.ID, mf.JSONMap{"strategy": "round_robin", "target_pool_id": target.ID, "outcomes": outcomesToMap(outcomes)}, allFailed)
	if allFailed {
		return TickResult{StrategyID: ps.ID, Reason: "all_miners_failed", Outcomes: outcomes}
	}

	ps.CurrentPoolIndex = next
	ps.LastSwitch = &now
	_ = e.store.SavePoolStrategy(&ps)
	return TickResult{StrategyID: ps.ID, Switched: true, Outcomes: outcomes}
}

type roundRobinCfg struct {
	interval time.Duration
}

func roundRobinConfig(cfg mf.JSONMap) roundRobinCfg {
	minutes := 60.0
	if v, ok := cfg["interval_minutes"]; ok {
		if f, ok := toFloat(v); ok {
			minutes = f
		}
	}
	return roundRobinCfg{interval: time.Duration(minutes * float64(time.Minute))}
}

// executeLoadBalance computes a weighted composite score per pool from its
// last 10 PoolHealth rows and distributes miners proportionally, shuffled
// so list order never biases the outcome.
func (e *Engine) executeLoadBalance(ctx context.Context, ps mf.PoolStrategy, now time.Time) TickResult {
	cfg := loadBalanceConfig(ps.Config)
	if ps.LastSwitch != nil && now.Sub(*ps.LastSwitch) < cfg.interval {
		return TickResult{StrategyID: ps.ID, Reason: "interval_not_reached"}
	}

	type scoredPool struct {
		pool  mf.Pool
		score float64
	}
	var scored []scoredPool
	for _, id := range ps.PoolIDs {
		p, err := e.store.Pool(id)
		if err != nil || p == nil || !p.Enabled {
			continue
		}
		recent, _ := e.store.RecentPoolHealth(p.ID, 10)
		score, ok := loadBalanceScore(*p, recent, cfg)
		if !ok {
			continue
		}
		scored = append(scored, scoredPool{pool: *p, score: score})
	}
	if len(scored) == 0 {
		return TickResult{StrategyID: ps.ID, Reason: "no_healthy_pools"}
	}

	miners, err := e.store.StrategyMiners(ps)
	if err != nil {
		return TickResult{StrategyID: ps.ID, Reason: fmt.Sprintf("load strategy miners: %v", err)}
	}
	if len(miners) == 0 {
		return TickResult{StrategyID: ps.ID, Reason: "no_miners"}
	}

	totalScore := 0.0
	for _, sp := range scored {
		totalScore += sp.score
	}

	assignments := make([]mf.Pool, 0, len(miners))
	allocated := 0
	bestIdx := 0
	for i, sp := range scored {
		count := int((sp.score / totalScore) * float64(len(miners)))
		for j := 0; j < count; j++ {
			assignments = append(assignments, sp.pool)
		}
		allocated += count
		if sp.score > scored[bestIdx].score {
			bestIdx = i
		}
	}
	for allocated < len(miners) {
		assignments = append(assignments, scored[bestIdx].pool)
		allocated++
	}

	e.rand.Shuffle(len(assignments), func(i, j int) { assignments[i], assignments[j] = assignments[j], assignments[i] })

	outcomes := make([]MinerSwitchOutcome, 0, len(miners))
	for i, m := range miners {
		if i >= len(assignments) {
			break
		}
		a, err := e.newAdapter(m)
		if err != nil {
			outcomes = append(outcomes, MinerSwitchOutcome{MinerID: m.ID, Detail: err.Error()})
			continue
		}
		target := assignments[i]
		sctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		err = a.SwitchPool(sctx, adapter.PoolTarget{Host: target.Host, Port: target.Port, User: target.User, Password: target.Password})
		cancel()
		outcomes = append(outcomes, MinerSwitchOutcome{MinerID: m.ID, Success: err == nil, Detail: errString(err)})
	}

	allFailed := successCount(outcomes) == 0
	_ = e.store.RecordPoolStrategyLog(ps.ID, mf.JSONMap{"strategy": "load_balance", "outcomes": outcomesToMap(outcomes)}, allFailed)
	if allFailed {
		return TickResult{StrategyID: ps.ID, Reason: "all_miners_failed", Outcomes: outcomes}
	}

	ps.LastSwitch = &now
	_ = e.store.SavePoolStrategy(&ps)
	return TickResult{StrategyID: ps.ID, Switched: true, Outcomes: outcomes}
}

type loadBalanceCfg struct {
	interval           time.Duration
	healthWeight       float64
	latencyWeight      float64
	rejectWeight       float64
	minHealthThreshold float64
}

func loadBalanceConfig(cfg mf.JSONMap) loadBalanceCfg {
	c := loadBalanceCfg{interval: 60 * time.Minute, healthWeight: 0.4, latencyWeight: 0.3, rejectWeight: 0.3, minHealthThreshold: 50}
	if v, ok := toFloat(cfg["rebalance_interval_minutes"]); ok {
		c.interval = time.Duration(v * float64(time.Minute))
	}
	if v, ok := toFloat(cfg["health_weight"]); ok {
		c.healthWeight = v
	}
	if v, ok := toFloat(cfg["latency_weight"]); ok {
		c.latencyWeight = v
	}
	if v, ok := toFloat(cfg["reject_weight"]); ok {
		c.rejectWeight = v
	}
	if v, ok := toFloat(cfg["min_health_threshold"]); ok {
		c.minHealthThreshold = v
	}
	return c
}

// loadBalanceScore computes the composite 0-100ish score for one pool from
// its recent health samples. Returns ok=false if the pool falls
// below the configured minimum health.
func loadBalanceScore(p mf.Pool, recent []mf.PoolHealth, cfg loadBalanceCfg) (float64, bool) {
	if len(recent) == 0 {
		return 25.0, true
	}
	var healthSum, latencySum, rejectSum float64
	for _, h := range recent {
		healthSum += float64(h.HealthScore)
		latencySum += float64(h.ResponseTimeMs)
		rejectSum += h.RejectRate
	}
	n := float64(len(recent))
	avgHealth := healthSum / n
	avgLatency := latencySum / n
	avgReject := rejectSum / n

	if avgHealth < cfg.minHealthThreshold {
		return 0, false
	}

	latencyScore := 100 - avgLatency/10
	if latencyScore < 0 {
		latencyScore = 0
	}
	rejectScore := 100 - avgReject*10
	if rejectScore < 0 {
		rejectScore = 0
	}

	score := avgHealth*cfg.healthWeight + latencyScore*cfg.latencyWeight + rejectScore*cfg.rejectWeight
	score += float64(p.Priority) * 2
	return score, true
}

// executeProMode switches between a low-mode and a high-mode pool based on
// the current energy price relative to a configurable threshold with a
// ±0.5p dead-band, enforcing a minimum dwell time between switches.
func (e *Engine) executeProMode(ctx context.Context, ps mf.PoolStrategy, now time.Time) TickResult {
	if !e.energyOptEnabled {
		return TickResult{StrategyID: ps.ID, Reason: "energy_optimization_disabled"}
	}
	lowPoolID, lowOK := toUint(ps.Config["low_mode_pool_id"])
	highPoolID, highOK := toUint(ps.Config["high_mode_pool_id"])
	if !lowOK || !highOK {
		return TickResult{StrategyID: ps.ID, Reason: "missing_pool_config"}
	}
	dwellHours := 6.0
	if v, ok := toFloat(ps.Config["dwell_hours"]); ok {
		dwellHours = v
	}

	price, err := e.store.CurrentPrice(e.region, now)
	if err != nil || price == nil {
		return TickResult{StrategyID: ps.ID, Reason: "no_price_data"}
	}

	lowThreshold := e.energyOptThreshold + 0.5
	highThreshold := e.energyOptThreshold - 0.5

	var targetPoolID uint
	var targetMode string
	switch {
	case price.PricePence >= lowThreshold:
		targetPoolID, targetMode = lowPoolID, "low"
	case price.PricePence <= highThreshold:
		targetPoolID, targetMode = highPoolID, "high"
	default:
		return TickResult{StrategyID: ps.ID, Reason: "price_in_deadzone"}
	}

	currentMode, _ := ps.Config["current_mode"].(string)
	if currentMode == targetMode {
		return TickResult{StrategyID: ps.ID, Reason: "already_in_target_mode"}
	}
	if ps.LastSwitch != nil && currentMode != "" && now.Sub(*ps.LastSwitch) < time.Duration(dwellHours*float64(time.Hour)) {
		return TickResult{StrategyID: ps.ID, Reason: "dwell_time_not_elapsed"}
	}

	pool, err := e.store.Pool(targetPoolID)
	if err != nil || pool == nil || !pool.Enabled {
		return TickResult{StrategyID: ps.ID, Reason: "target_pool_unavailable"}
	}

	outcomes := e.switchMiners(ctx, ps, *pool)
	allFailed := successCount(outcomes) == 0
	_ = e.store.RecordPoolStrategyLog(ps.ID, mf.JSONMap{"strategy": "pro_mode", "mode": targetMode, "outcomes": outcomesToMap(outcomes)}, allFailed)
	if allFailed {
		return TickResult{StrategyID: ps.ID, Reason: "all_miners_failed", Outcomes: outcomes}
	}

	if ps.Config == nil {
		ps.Config = mf.JSONMap{}
	}
	ps.Config["current_mode"] = targetMode
	ps.LastSwitch = &now
	_ = e.store.SavePoolStrategy(&ps)
	return TickResult{StrategyID: ps.ID, Switched: true, Outcomes: outcomes}
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

func toUint(v any) (uint, bool) {
	f, ok := toFloat(v)
	if !ok || f < 0 {
		return 0, false
	}
	return uint(f), true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
