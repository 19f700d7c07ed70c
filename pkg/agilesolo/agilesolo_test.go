package agilesolo

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
	strategy  mf.AgileStrategy
	bands     []mf.AgileStrategyBand
	miners    []mf.Miner
	pools     map[string]mf.Pool
	prices    map[time.Time]mf.EnergyPrice
	current   *mf.EnergyPrice
	next      *mf.EnergyPrice
	disabled  string
	modeCalls map[uint]string
}

func (f *fakeStore) AgileStrategyRow() (*mf.AgileStrategy, error)            { return &f.strategy, nil }
func (f *fakeStore) SaveAgileStrategy(st *mf.AgileStrategy) error            { f.strategy = *st; return nil }
func (f *fakeStore) AgileStrategyBands(uint) ([]mf.AgileStrategyBand, error) { return f.bands, nil }
func (f *fakeStore) EnrolledMiners() ([]mf.Miner, error)                     { return f.miners, nil }
func (f *fakeStore) PoolByCoin(coin string) (*mf.Pool, error) {
	p, ok := f.pools[coin]
	if !ok {
		return nil, assertErr("no pool for " + coin)
	}
	return &p, nil
}
func (f *fakeStore) DisableAgileStrategy(reason string) error {
	f.disabled = reason
	f.strategy.Enabled = false
	return nil
}
func (f *fakeStore) RecordAudit(mf.AuditLog) error { return nil }
func (f *fakeStore) RecordEvent(mf.Event) error    { return nil }
func (f *fakeStore) LatestTelemetry(uint) (*mf.Telemetry, error) {
	return nil, assertErr("not implemented")
}
func (f *fakeStore) SetMinerCurrentMode(minerID uint, mode string) error {
	if f.modeCalls == nil {
		f.modeCalls = map[uint]string{}
	}
	f.modeCalls[minerID] = mode
	for i := range f.miners {
		if f.miners[i].ID == minerID {
			f.miners[i].CurrentMode = &mode
		}
	}
	return nil
}
func (f *fakeStore) CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error) {
	return f.current, nil
}
func (f *fakeStore) NextPrice(region string, now time.Time) (*mf.EnergyPrice, error) {
	if f.next == nil {
		return nil, assertErr("no next price")
	}
	return f.next, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeAdapter struct {
	family   mf.Family
	pool     string
	mode     string
	switched string
	setMode  string
}

func (a *fakeAdapter) GetTelemetry(ctx context.Context) (*adapter.TelemetryRecord, error) {
	return &adapter.TelemetryRecord{PoolInUse: a.pool}, nil
}
func (a *fakeAdapter) GetMode(ctx context.Context) (string, error)    { return a.mode, nil }
func (a *fakeAdapter) SetMode(ctx context.Context, mode string) error { a.setMode = mode; return nil }
func (a *fakeAdapter) GetAvailableModes() []string                    { return nil }
func (a *fakeAdapter) SwitchPool(ctx context.Context, t adapter.PoolTarget) error {
	a.switched = t.Host
	return nil
}
func (a *fakeAdapter) Restart(ctx context.Context) error { return nil }
func (a *fakeAdapter) IsOnline(ctx context.Context) bool { return true }
func (a *fakeAdapter) Family() mf.Family                 { return a.family }

func band(id uint, sortOrder int, min, max *float64, coin string, modes map[string]any) mf.AgileStrategyBand {
	return mf.AgileStrategyBand{ID: id, SortOrder: sortOrder, MinPrice: min, MaxPrice: max, TargetCoin: coin, FamilyModes: modes}
}

func f64(v float64) *float64 { return &v }

func TestExecuteUpgradeRequiresConfirmation(t *testing.T) {
	bandID := uint(1)
	store := &fakeStore{
		strategy: mf.AgileStrategy{ID: 1, Enabled: true, CurrentPriceBand: &bandID},
		bands: []mf.AgileStrategyBand{
			band(1, 1, nil, f64(20), "BTC", map[string]any{"AvalonNano": "low"}),
			band(2, 2, f64(20), nil, "BTC", map[string]any{"AvalonNano": "high"}),
		},
		pools:   map[string]mf.Pool{"BTC": {Host: "btc.pool", Port: 3333}},
		current: &mf.EnergyPrice{PricePence: 25},
		next:    &mf.EnergyPrice{PricePence: 5}, // next slot drops back below the upgrade band
		miners:  []mf.Miner{{ID: 1, Family: mf.FamilyAvalonNano}},
	}

	eng := New(store, "LOND", func(m mf.Miner) (adapter.Adapter, error) {
		return &fakeAdapter{family: m.Family}, nil
	})

	res, err := eng.Execute(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Equal(t, uint(1), res.BandID, "unconfirmed upgrade must stay in the current band")
}

func TestExecuteUpgradeConfirmedByNextSlot(t *testing.T) {
	bandID := uint(1)
	store := &fakeStore{
		strategy: mf.AgileStrategy{ID: 1, Enabled: true, CurrentPriceBand: &bandID},
		bands: []mf.AgileStrategyBand{
			band(1, 1, nil, f64(20), "BTC", map[string]any{"AvalonNano": "low"}),
			band(2, 2, f64(20), nil, "BTC", map[string]any{"AvalonNano": "high"}),
		},
		pools:   map[string]mf.Pool{"BTC": {Host: "btc.pool", Port: 3333}},
		current: &mf.EnergyPrice{PricePence: 25},
		next:    &mf.EnergyPrice{PricePence: 30},
		miners:  []mf.Miner{{ID: 1, Family: mf.FamilyAvalonNano}},
	}

	eng := New(store, "LOND", func(m mf.Miner) (adapter.Adapter, error) {
		return &fakeAdapter{family: m.Family}, nil
	})

	res, err := eng.Execute(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint(2), res.BandID)
	assert.Equal(t, "applied", res.Outcomes[0].Action)
}

func TestExecuteOffBandSwitchesImmediately(t *testing.T) {
	bandID := uint(2)
	store := &fakeStore{
		strategy: mf.AgileStrategy{ID: 1, Enabled: true, CurrentPriceBand: &bandID},
		bands: []mf.AgileStrategyBand{
			band(1, 1, nil, f64(10), mf.OffCoin, nil),
			band(2, 2, f64(10), nil, "BTC", map[string]any{"AvalonNano": "high"}),
		},
		pools:   map[string]mf.Pool{"BTC": {Host: "btc.pool", Port: 3333}},
		current: &mf.EnergyPrice{PricePence: 5},
		miners:  []mf.Miner{{ID: 1, Family: mf.FamilyAvalonNano}},
	}

	eng := New(store, "LOND", func(m mf.Miner) (adapter.Adapter, error) {
		return &fakeAdapter{family: m.Family}, nil
	})

	res, err := eng.Execute(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint(1), res.BandID)
	assert.Equal(t, mf.OffCoin, res.TargetCoin)
}

func TestExecuteDowngradeIsImmediate(t *testing.T) {
	bandID := uint(2)
	store := &fakeStore{
		strategy: mf.AgileStrategy{ID: 1, Enabled: true, CurrentPriceBand: &bandID},
		bands: []mf.AgileStrategyBand{
			band(1, 1, nil, f64(20), "BTC", map[string]any{"AvalonNano": "low"}),
			band(2, 2, f64(20), nil, "BTC", map[string]any{"AvalonNano": "high"}),
		},
		pools:   map[string]mf.Pool{"BTC": {Host: "btc.pool", Port: 3333}},
		current: &mf.EnergyPrice{PricePence: 15}, // drops into the worse band
		miners:  []mf.Miner{{ID: 1, Family: mf.FamilyAvalonNano}},
	}

	fa := &fakeAdapter{family: mf.FamilyAvalonNano}
	eng := New(store, "LOND", func(m mf.Miner) (adapter.Adapter, error) { return fa, nil })

	res, err := eng.Execute(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint(1), res.BandID, "downgrade needs no look-ahead confirmation")
	assert.Equal(t, "btc.pool", fa.switched)
	assert.Equal(t, "low", fa.setMode)
}

func TestExecuteTwiceIsIdempotent(t *testing.T) {
	bandID := uint(1)
	mode := "high"
	store := &fakeStore{
		strategy: mf.AgileStrategy{ID: 1, Enabled: true, CurrentPriceBand: &bandID},
		bands: []mf.AgileStrategyBand{
			band(1, 1, nil, nil, "BTC", map[string]any{"AvalonNano": mode}),
		},
		pools:   map[string]mf.Pool{"BTC": {Host: "btc.pool", Port: 3333}},
		current: &mf.EnergyPrice{PricePence: 5},
		miners:  []mf.Miner{{ID: 1, Family: mf.FamilyAvalonNano, CurrentMode: &mode}},
	}

	fa := &fakeAdapter{family: mf.FamilyAvalonNano, pool: "btc.pool:3333"}
	eng := New(store, "LOND", func(m mf.Miner) (adapter.Adapter, error) { return fa, nil })

	res, err := eng.Execute(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "skipped", res.Outcomes[0].Action)
	assert.Empty(t, fa.switched, "converged miner must see no device writes")
	assert.Empty(t, fa.setMode)

	res, err = eng.Execute(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "skipped", res.Outcomes[0].Action)
	assert.Empty(t, fa.switched)
	assert.Empty(t, fa.setMode)
}

func TestExecuteDisablesStrategyWhenPoolMissing(t *testing.T) {
	store := &fakeStore{
		strategy: mf.AgileStrategy{ID: 1, Enabled: true},
		bands:    []mf.AgileStrategyBand{band(1, 1, nil, nil, "DOGE", nil)},
		pools:    map[string]mf.Pool{},
		current:  &mf.EnergyPrice{PricePence: 5},
	}

	eng := New(store, "LOND", func(m mf.Miner) (adapter.Adapter, error) { return nil, nil })
	res, err := eng.Execute(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.NotEmpty(t, store.disabled)
}
