package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
)

type fakeStore struct {
	rules     []mf.AutomationRule
	telemetry map[uint]*mf.Telemetry
	miners    map[uint]mf.Miner
	price     *mf.EnergyPrice
	events    []mf.Event
	execs     map[uint]mf.JSONMap
	modeCalls map[uint]string
}

func (f *fakeStore) EnabledRulesByPriority() ([]mf.AutomationRule, error) { return f.rules, nil }
func (f *fakeStore) RecordRuleExecution(ruleID uint, ctx mf.JSONMap) error {
	if f.execs == nil {
		f.execs = map[uint]mf.JSONMap{}
	}
	f.execs[ruleID] = ctx
	return nil
}
func (f *fakeStore) ClearRuleExecutionContext(ruleID uint) error {
	if f.execs != nil {
		delete(f.execs, ruleID)
	}
	for i := range f.rules {
		if f.rules[i].ID == ruleID {
			f.rules[i].LastExecutionContext = nil
		}
	}
	return nil
}
func (f *fakeStore) RecordEvent(e mf.Event) error { f.events = append(f.events, e); return nil }
func (f *fakeStore) Miner(id uint) (*mf.Miner, error) {
	m, ok := f.miners[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}
func (f *fakeStore) EnabledMiners(family *mf.Family) ([]mf.Miner, error) {
	var out []mf.Miner
	for _, m := range f.miners {
		if family == nil || m.Family == *family {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeStore) LatestTelemetry(minerID uint) (*mf.Telemetry, error) {
	return f.telemetry[minerID], nil
}
func (f *fakeStore) CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error) {
	return f.price, nil
}
func (f *fakeStore) SetMinerCurrentMode(minerID uint, mode string) error {
	if f.modeCalls == nil {
		f.modeCalls = map[uint]string{}
	}
	f.modeCalls[minerID] = mode
	return nil
}

type fakeAdapter struct{ setMode string }

func (a *fakeAdapter) GetTelemetry(ctx context.Context) (*adapter.TelemetryRecord, error) {
	return &adapter.TelemetryRecord{}, nil
}
func (a *fakeAdapter) GetMode(ctx context.Context) (string, error) { return "", nil }
func (a *fakeAdapter) SetMode(ctx context.Context, mode string) error {
	a.setMode = mode
	return nil
}
func (a *fakeAdapter) GetAvailableModes() []string                                { return nil }
func (a *fakeAdapter) SwitchPool(ctx context.Context, t adapter.PoolTarget) error { return nil }
func (a *fakeAdapter) Restart(ctx context.Context) error                          { return nil }
func (a *fakeAdapter) IsOnline(ctx context.Context) bool                          { return true }
func (a *fakeAdapter) Family() mf.Family                                          { return mf.FamilyBitaxe }

func TestPriceThresholdIdempotentPerSlot(t *testing.T) {
	store := &fakeStore{
		rules: []mf.AutomationRule{{
			ID: 1, TriggerType: mf.TriggerPriceThreshold,
			TriggerConfig: mf.JSONMap{"condition": "below", "below": float64(10)},
			ActionType:    mf.ActionLogEvent,
			ActionConfig:  mf.JSONMap{"message": "cheap"},
		}},
		price: &mf.EnergyPrice{ID: 42, PricePence: 5},
	}
	eng := New(store, func(m mf.Miner) (adapter.Adapter, error) { return &fakeAdapter{}, nil }, "LOND")

	outcomes, err := eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, outcomes[0].Executed)
	assert.Equal(t, 1, len(store.events))

	store.rules[0].LastExecutionContext = store.execs[1]
	outcomes, err = eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, outcomes[0].Executed, "same price slot must not re-fire the rule")
	assert.Equal(t, 1, len(store.events), "no second event for the same slot")
}

func TestApplyModeByFamilyPseudoID(t *testing.T) {
	store := &fakeStore{
		rules: []mf.AutomationRule{{
			ID: 1, TriggerType: mf.TriggerTimeWindow,
			TriggerConfig: mf.JSONMap{"start": "00:00", "end": "23:59"},
			ActionType:    mf.ActionApplyMode,
			ActionConfig:  mf.JSONMap{"miner_id": "type:Bitaxe", "mode": "eco"},
		}},
		miners: map[uint]mf.Miner{
			1: {ID: 1, Family: mf.FamilyBitaxe, Enabled: true},
			2: {ID: 2, Family: mf.FamilyXMRig, Enabled: true},
		},
	}
	eng := New(store, func(m mf.Miner) (adapter.Adapter, error) { return &fakeAdapter{}, nil }, "LOND")

	outcomes, err := eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, outcomes[0].Executed)
	assert.Equal(t, "eco", store.modeCalls[1])
	_, xmrigTouched := store.modeCalls[2]
	assert.False(t, xmrigTouched, "only the Bitaxe miner should be touched")
}

func TestMinerOfflineTriggersOnStaleTelemetry(t *testing.T) {
	store := &fakeStore{
		rules: []mf.AutomationRule{{
			ID: 1, TriggerType: mf.TriggerMinerOffline,
			TriggerConfig: mf.JSONMap{"miner_id": float64(1), "minutes": float64(5)},
			ActionType:    mf.ActionSendAlert,
			ActionConfig:  mf.JSONMap{"message": "offline"},
		}},
		telemetry: map[uint]*mf.Telemetry{1: {MinerID: 1, Timestamp: time.Now().Add(-30 * time.Minute)}},
	}
	eng := New(store, func(m mf.Miner) (adapter.Adapter, error) { return &fakeAdapter{}, nil }, "LOND")

	outcomes, err := eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, outcomes[0].Executed)
	assert.Equal(t, mf.EventAlert, store.events[0].EventType)
}

func TestOverheatDoesNotRefireWhileConditionHolds(t *testing.T) {
	hot := 95.0
	cool := 50.0
	store := &fakeStore{
		rules: []mf.AutomationRule{{
			ID: 1, TriggerType: mf.TriggerMinerOverheat,
			TriggerConfig: mf.JSONMap{"miner_id": float64(1), "threshold": float64(80)},
			ActionType:    mf.ActionApplyMode,
			ActionConfig:  mf.JSONMap{"miner_id": float64(1), "mode": "eco"},
		}},
		miners:    map[uint]mf.Miner{1: {ID: 1, Family: mf.FamilyBitaxe, Enabled: true}},
		telemetry: map[uint]*mf.Telemetry{1: {MinerID: 1, Timestamp: time.Now(), Temperature: &hot}},
	}
	fa := &fakeAdapter{}
	eng := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, "LOND")

	outcomes, err := eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, outcomes[0].Executed)

	// Still hot on the next tick: the rule stays triggered but must not act
	// again.
	store.rules[0].LastExecutionContext = mf.JSONMap{"idempotency_key": "miner_overheat:1"}
	fa.setMode = ""
	outcomes, err = eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, outcomes[0].Triggered)
	assert.False(t, outcomes[0].Executed, "a continuously-hot miner must not re-fire every tick")
	assert.Empty(t, fa.setMode)

	// Cooled down: the context clears so the next overheat fires again.
	store.telemetry[1].Temperature = &cool
	outcomes, err = eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, outcomes[0].Triggered)
	assert.Nil(t, store.rules[0].LastExecutionContext)

	store.telemetry[1].Temperature = &hot
	outcomes, err = eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, outcomes[0].Executed)
}

func TestApplyModeSkipsMinersAlreadyInMode(t *testing.T) {
	mode := "eco"
	store := &fakeStore{
		rules: []mf.AutomationRule{{
			ID: 1, TriggerType: mf.TriggerTimeWindow,
			TriggerConfig: mf.JSONMap{"start": "00:00", "end": "23:59"},
			ActionType:    mf.ActionApplyMode,
			ActionConfig:  mf.JSONMap{"miner_id": float64(1), "mode": mode},
		}},
		miners: map[uint]mf.Miner{1: {ID: 1, Family: mf.FamilyBitaxe, Enabled: true, CurrentMode: &mode}},
	}
	fa := &fakeAdapter{}
	eng := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, "LOND")

	outcomes, err := eng.EvaluateAll(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, outcomes[0].Executed)
	assert.Empty(t, fa.setMode, "a miner already in the target mode must see no device call")
}

func TestTimeWindowOvernightWrap(t *testing.T) {
	cfg := mf.JSONMap{"start": "22:00", "end": "06:00"}
	late := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	early := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, evalTimeWindow(cfg, late))
	assert.True(t, evalTimeWindow(cfg, early))
	assert.False(t, evalTimeWindow(cfg, midday))
}
