// Package automation implements the generic automation-rule engine: a set
// of pure trigger functions over store+config+time, and a small set of
// actions, evaluated ascending by priority with per-rule idempotency via
// last_execution_context.
package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
)

// Store is the subset of *db.Store this engine needs.
type Store interface {
	EnabledRulesByPriority() ([]mf.AutomationRule, error)
	RecordRuleExecution(ruleID uint, ctx mf.JSONMap) error
	ClearRuleExecutionContext(ruleID uint) error
	RecordEvent(e mf.Event) error
	Miner(id uint) (*mf.Miner, error)
	EnabledMiners(family *mf.Family) ([]mf.Miner, error)
	LatestTelemetry(minerID uint) (*mf.Telemetry, error)
	CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error)
	SetMinerCurrentMode(minerID uint, mode string) error
}

// AdapterFactory builds the adapter for one miner.
type AdapterFactory func(miner mf.Miner) (adapter.Adapter, error)

// Engine evaluates automation rules against a Store.
type Engine struct {
	store      Store
	newAdapter AdapterFactory
	region     string
}

// New builds an Engine for the configured tariff region (price_threshold
// triggers read from it).
func New(store Store, newAdapter AdapterFactory, region string) *Engine {
	return &Engine{store: store, newAdapter: newAdapter, region: region}
}

// RuleOutcome is one rule's evaluation result.
type RuleOutcome struct {
	RuleID    uint
	Triggered bool
	Executed  bool
	Detail    string
}

// EvaluateAll runs every enabled rule, ascending by priority.
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) ([]RuleOutcome, error) {
	rules, err := e.store.EnabledRulesByPriority()
	if err != nil {
		return nil, fmt.Errorf("list enabled automation rules: %w", err)
	}
	outcomes := make([]RuleOutcome, 0, len(rules))
	for _, r := range rules {
		outcomes = append(outcomes, e.evaluateOne(ctx, r, now))
	}
	return outcomes, nil
}

func (e *Engine) evaluateOne(ctx context.Context, r mf.AutomationRule, now time.Time) RuleOutcome {
	triggered, idemKey, err := e.evaluateTrigger(r, now)
	if err != nil {
		return RuleOutcome{RuleID: r.ID, Detail: err.Error()}
	}
	if !triggered {
		// The condition has cleared: reset the idempotency context so the
		// rule fires again the next time the condition trips.
		if last, ok := r.LastExecutionContext["idempotency_key"].(string); ok && last != "" {
			_ = e.store.ClearRuleExecutionContext(r.ID)
		}
		return RuleOutcome{RuleID: r.ID}
	}

	if idemKey != "" {
		if last, ok := r.LastExecutionContext["idempotency_key"].(string); ok && last == idemKey {
			return RuleOutcome{RuleID: r.ID, Triggered: true, Detail: "already executed for this key"}
		}
	}

	if err := e.executeAction(ctx, r); err != nil {
		return RuleOutcome{RuleID: r.ID, Triggered: true, Detail: err.Error()}
	}

	newCtx := mf.JSONMap{}
	if idemKey != "" {
		newCtx["idempotency_key"] = idemKey
	}
	_ = e.store.RecordRuleExecution(r.ID, newCtx)
	return RuleOutcome{RuleID: r.ID, Triggered: true, Executed: true}
}

// evaluateTrigger is a pure function of the rule, the store, and now. It
// returns whether the rule fired and an idempotency key for the caller's
// already-acted check: price_threshold is keyed on the price slot id, and
// the condition triggers (offline, overheat, pool failure, time window) are
// keyed so a continuously-true condition acts once, not once per tick.
func (e *Engine) evaluateTrigger(r mf.AutomationRule, now time.Time) (bool, string, error) {
	switch r.TriggerType {
	case mf.TriggerPriceThreshold:
		return e.evalPriceThreshold(r, now)
	case mf.TriggerTimeWindow:
		if !evalTimeWindow(r.TriggerConfig, now) {
			return false, "", nil
		}
		start, _ := r.TriggerConfig["start"].(string)
		end, _ := r.TriggerConfig["end"].(string)
		return true, fmt.Sprintf("time_window:%s-%s", start, end), nil
	case mf.TriggerMinerOffline:
		return e.evalMinerOffline(r, now)
	case mf.TriggerMinerOverheat:
		return e.evalMinerOverheat(r)
	case mf.TriggerPoolFailure:
		return e.evalPoolFailure(r)
	default:
		return false, "", fmt.Errorf("unknown trigger type %q", r.TriggerType)
	}
}

func (e *Engine) evalPriceThreshold(r mf.AutomationRule, now time.Time) (bool, string, error) {
	price, err := e.store.CurrentPrice(e.region, now)
	if err != nil || price == nil {
		return false, "", nil
	}
	cond, _ := r.TriggerConfig["condition"].(string)
	below, hasBelow := toFloat(r.TriggerConfig["below"])
	above, hasAbove := toFloat(r.TriggerConfig["above"])

	var ok bool
	switch cond {
	case "below":
		ok = hasBelow && price.PricePence < below
	case "above":
		ok = hasAbove && price.PricePence > above
	case "between":
		ok = hasAbove && hasBelow && price.PricePence > above && price.PricePence < below
	case "outside":
		ok = hasAbove && hasBelow && (price.PricePence < above || price.PricePence > below)
	default:
		return false, "", fmt.Errorf("unknown price_threshold condition %q", cond)
	}
	if !ok {
		return false, "", nil
	}
	return true, strconv.FormatUint(uint64(price.ID), 10), nil
}

// evalTimeWindow checks a daily HH:MM-HH:MM window with overnight wrap
// (e.g. "22:00"-"06:00" spans midnight).
func evalTimeWindow(cfg mf.JSONMap, now time.Time) bool {
	start, ok1 := cfg["start"].(string)
	end, ok2 := cfg["end"].(string)
	if !ok1 || !ok2 {
		return false
	}
	startMin, err1 := parseHHMM(start)
	endMin, err2 := parseHHMM(end)
	if err1 != nil || err2 != nil {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// overnight wrap: window spans midnight
	return nowMin >= startMin || nowMin < endMin
}

func parseHHMM(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

func (e *Engine) evalMinerOffline(r mf.AutomationRule, now time.Time) (bool, string, error) {
	minerID, ok := toUint(r.TriggerConfig["miner_id"])
	if !ok {
		return false, "", fmt.Errorf("miner_offline rule missing miner_id")
	}
	minutes, _ := toFloat(r.TriggerConfig["minutes"])
	if minutes == 0 {
		minutes = 10
	}
	t, err := e.store.LatestTelemetry(minerID)
	if err != nil {
		return false, "", err
	}
	if t == nil || now.Sub(t.Timestamp) > time.Duration(minutes*float64(time.Minute)) {
		return true, fmt.Sprintf("miner_offline:%d", minerID), nil
	}
	return false, "", nil
}

func (e *Engine) evalMinerOverheat(r mf.AutomationRule) (bool, string, error) {
	minerID, ok := toUint(r.TriggerConfig["miner_id"])
	if !ok {
		return false, "", fmt.Errorf("miner_overheat rule missing miner_id")
	}
	threshold, _ := toFloat(r.TriggerConfig["threshold"])
	t, err := e.store.LatestTelemetry(minerID)
	if err != nil || t == nil || t.Temperature == nil {
		return false, "", nil
	}
	if *t.Temperature > threshold {
		return true, fmt.Sprintf("miner_overheat:%d", minerID), nil
	}
	return false, "", nil
}

func (e *Engine) evalPoolFailure(r mf.AutomationRule) (bool, string, error) {
	minerID, ok := toUint(r.TriggerConfig["miner_id"])
	if !ok {
		return false, "", fmt.Errorf("pool_failure rule missing miner_id")
	}
	t, err := e.store.LatestTelemetry(minerID)
	if err != nil || t == nil {
		return false, "", nil
	}
	if t.PoolInUse == "" {
		return true, fmt.Sprintf("pool_failure:%d", minerID), nil
	}
	return false, "", nil
}

// executeAction dispatches to the rule's configured action.
func (e *Engine) executeAction(ctx context.Context, r mf.AutomationRule) error {
	switch r.ActionType {
	case mf.ActionApplyMode:
		return e.actionApplyMode(ctx, r)
	case mf.ActionSwitchPool:
		return e.actionSwitchPool(ctx, r)
	case mf.ActionSendAlert:
		return e.actionSendAlert(r)
	case mf.ActionLogEvent:
		return e.actionLogEvent(r)
	default:
		return fmt.Errorf("unknown action type %q", r.ActionType)
	}
}

// resolveMiners resolves action_config's miner_id, which is either a
// numeric id or the pseudo-id "type:<family>" meaning every enabled miner
// of that family.
func (e *Engine) resolveMiners(cfg mf.JSONMap) ([]mf.Miner, error) {
	raw, ok := cfg["miner_id"]
	if !ok {
		return nil, fmt.Errorf("action missing miner_id")
	}
	if s, ok := raw.(string); ok && strings.HasPrefix(s, "type:") {
		family := mf.Family(strings.TrimPrefix(s, "type:"))
		return e.store.EnabledMiners(&family)
	}
	id, ok := toUint(raw)
	if !ok {
		return nil, fmt.Errorf("malformed miner_id %v", raw)
	}
	m, err := e.store.Miner(id)
	if err != nil || m == nil {
		return nil, fmt.Errorf("miner %d not found", id)
	}
	return []mf.Miner{*m}, nil
}

func (e *Engine) actionApplyMode(ctx context.Context, r mf.AutomationRule) error {
	mode, _ := r.ActionConfig["mode"].(string)
	if mode == "" {
		return fmt.Errorf("apply_mode action missing mode")
	}
	miners, err := e.resolveMiners(r.ActionConfig)
	if err != nil {
		return err
	}
	var lastErr error
	for _, m := range miners {
		if m.CurrentMode != nil && *m.CurrentMode == mode {
			continue // already in the target mode; no device call
		}
		a, err := e.newAdapter(m)
		if err != nil {
			lastErr = err
			continue
		}
		mctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
		err = a.SetMode(mctx, mode)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		_ = e.store.SetMinerCurrentMode(m.ID, mode)
	}
	return lastErr
}

func (e *Engine) actionSwitchPool(ctx context.Context, r mf.AutomationRule) error {
	miners, err := e.resolveMiners(r.ActionConfig)
	if err != nil {
		return err
	}
	if len(miners) != 1 {
		return fmt.Errorf("switch_pool action requires a single miner")
	}
	host, _ := r.ActionConfig["host"].(string)
	port, _ := toFloat(r.ActionConfig["port"])
	user, _ := r.ActionConfig["user"].(string)
	password, _ := r.ActionConfig["password"].(string)

	a, err := e.newAdapter(miners[0])
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, adapter.DefaultTimeout)
	defer cancel()
	return a.SwitchPool(sctx, adapter.PoolTarget{Host: host, Port: int(port), User: user, Password: password})
}

func (e *Engine) actionSendAlert(r mf.AutomationRule) error {
	message, _ := r.ActionConfig["message"].(string)
	return e.store.RecordEvent(mf.Event{
		Timestamp: time.Now(),
		EventType: mf.EventAlert,
		Source:    "automation:" + r.Name,
		Message:   message,
		Data:      r.ActionConfig,
	})
}

func (e *Engine) actionLogEvent(r mf.AutomationRule) error {
	message, _ := r.ActionConfig["message"].(string)
	return e.store.RecordEvent(mf.Event{
		Timestamp: time.Now(),
		EventType: mf.EventInfo,
		Source:    "automation:" + r.Name,
		Message:   message,
		Data:      r.ActionConfig,
	})
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
