package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
)

type fakeStrategyStore struct {
	strategies []mf.PoolStrategy
	pools      map[uint]mf.Pool
	miners     map[uint][]mf.Miner
}

func (f *fakeStrategyStore) EnabledPoolStrategies() ([]mf.PoolStrategy, error) {
	return f.strategies, nil
}
func (f *fakeStrategyStore) Pool(id uint) (*mf.Pool, error) {
	p, ok := f.pools[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
func (f *fakeStrategyStore) StrategyMiners(ps mf.PoolStrategy) ([]mf.Miner, error) {
	return f.miners[ps.ID], nil
}

type fakeAdapter struct {
	poolInUse string
	switched  adapter.PoolTarget
	switchErr error
	calls     int
}

func (a *fakeAdapter) GetTelemetry(ctx context.Context) (*adapter.TelemetryRecord, error) {
	return &adapter.TelemetryRecord{PoolInUse: a.poolInUse}, nil
}
func (a *fakeAdapter) GetMode(ctx context.Context) (string, error)    { return "", nil }
func (a *fakeAdapter) SetMode(ctx context.Context, mode string) error { return nil }
func (a *fakeAdapter) GetAvailableModes() []string                    { return nil }
func (a *fakeAdapter) SwitchPool(ctx context.Context, t adapter.PoolTarget) error {
	a.calls++
	if a.switchErr != nil {
		return a.switchErr
	}
	a.switched = t
	a.poolInUse = t.Host + ":3333"
	return nil
}
func (a *fakeAdapter) Restart(ctx context.Context) error { return nil }
func (a *fakeAdapter) IsOnline(ctx context.Context) bool { return true }
func (a *fakeAdapter) Family() mf.Family                 { return mf.FamilyBitaxe }

func TestStrategyReconcilerFixesDriftedRoundRobinMiner(t *testing.T) {
	store := &fakeStrategyStore{
		strategies: []mf.PoolStrategy{{ID: 1, StrategyType: mf.StrategyRoundRobin, PoolIDs: mf.Uints{5}, CurrentPoolIndex: 0}},
		pools:      map[uint]mf.Pool{5: {ID: 5, Host: "good.pool", Port: 3333}},
		miners:     map[uint][]mf.Miner{1: {{ID: 1}}},
	}
	fa := &fakeAdapter{poolInUse: "stale.pool:3333"}
	r := NewStrategyReconciler(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil })

	drifts, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.True(t, drifts[0].Fixed)
	assert.Equal(t, "good.pool", fa.switched.Host)
}

func TestStrategyReconcilerSkipsLoadBalance(t *testing.T) {
	store := &fakeStrategyStore{
		strategies: []mf.PoolStrategy{{ID: 1, StrategyType: mf.StrategyLoadBalance}},
	}
	r := NewStrategyReconciler(store, func(m mf.Miner) (adapter.Adapter, error) { return &fakeAdapter{}, nil })

	drifts, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestStrategyReconcilerNoOpWhenAlreadyConverged(t *testing.T) {
	store := &fakeStrategyStore{
		strategies: []mf.PoolStrategy{{ID: 1, StrategyType: mf.StrategyRoundRobin, PoolIDs: mf.Uints{5}, CurrentPoolIndex: 0}},
		pools:      map[uint]mf.Pool{5: {ID: 5, Host: "good.pool", Port: 3333}},
		miners:     map[uint][]mf.Miner{1: {{ID: 1}}},
	}
	fa := &fakeAdapter{poolInUse: "good.pool:3333"}
	r := NewStrategyReconciler(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil })

	drifts, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
	assert.Equal(t, 0, fa.calls)
}
