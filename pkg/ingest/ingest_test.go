package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/highdiff"
)

type fakeStore struct {
	miners     []mf.Miner
	recorded   []*mf.Telemetry
	firmware   map[uint]string
	modeCalls  map[uint]string
	enrolled   map[uint]bool
	events     []mf.Event
	slotsSaved map[uint][]mf.MinerPoolSlot
}

func (f *fakeStore) EnabledMiners(family *mf.Family) ([]mf.Miner, error) {
	if family == nil {
		return f.miners, nil
	}
	var out []mf.Miner
	for _, m := range f.miners {
		if m.Family == *family {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeStore) RecordTelemetry(t *mf.Telemetry) error {
	f.recorded = append(f.recorded, t)
	return nil
}
func (f *fakeStore) SetMinerFirmware(minerID uint, firmware string) error {
	if f.firmware == nil {
		f.firmware = map[uint]string{}
	}
	f.firmware[minerID] = firmware
	return nil
}
func (f *fakeStore) SetMinerCurrentMode(minerID uint, mode string) error {
	if f.modeCalls == nil {
		f.modeCalls = map[uint]string{}
	}
	f.modeCalls[minerID] = mode
	return nil
}
func (f *fakeStore) IsEnrolledInAgileSolo(minerID uint) (bool, error) {
	return f.enrolled[minerID], nil
}
func (f *fakeStore) RecordEvent(e mf.Event) error { f.events = append(f.events, e); return nil }
func (f *fakeStore) UpsertMinerPoolSlots(minerID uint, slots []mf.MinerPoolSlot) error {
	if f.slotsSaved == nil {
		f.slotsSaved = map[uint][]mf.MinerPoolSlot{}
	}
	f.slotsSaved[minerID] = slots
	return nil
}

type fakeAdapter struct {
	rec    *adapter.TelemetryRecord
	err    error
	family mf.Family
	slots  []mf.MinerPoolSlot
}

func (a *fakeAdapter) GetTelemetry(ctx context.Context) (*adapter.TelemetryRecord, error) {
	return a.rec, a.err
}
func (a *fakeAdapter) GetMode(ctx context.Context) (string, error)                { return "", nil }
func (a *fakeAdapter) SetMode(ctx context.Context, mode string) error             { return nil }
func (a *fakeAdapter) GetAvailableModes() []string                                { return nil }
func (a *fakeAdapter) SwitchPool(ctx context.Context, t adapter.PoolTarget) error { return nil }
func (a *fakeAdapter) Restart(ctx context.Context) error                          { return nil }
func (a *fakeAdapter) IsOnline(ctx context.Context) bool                          { return true }
func (a *fakeAdapter) Family() mf.Family                                          { return a.family }
func (a *fakeAdapter) Slots(ctx context.Context) ([]mf.MinerPoolSlot, error) {
	return a.slots, nil
}

type fakeHighDiff struct {
	calls []string
}

func (f *fakeHighDiff) Observe(ctx context.Context, minerID uint, rawBestShare, pool, mode string, hashrate float64, at time.Time) (highdiff.Result, error) {
	f.calls = append(f.calls, rawBestShare)
	return highdiff.Result{}, nil
}

func TestCollectAllSkipsPassiveFamily(t *testing.T) {
	store := &fakeStore{miners: []mf.Miner{
		{ID: 1, Family: mf.FamilyBitaxe},
		{ID: 2, Family: mf.FamilyNMMiner},
	}}
	fa := &fakeAdapter{rec: &adapter.TelemetryRecord{}}
	c := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, nil)

	outcomes := c.CollectAll(context.Background(), time.Now())
	require.Len(t, outcomes, 1)
	assert.Equal(t, uint(1), outcomes[0].MinerID)
}

func TestCollectOneDoesNotOverwriteModeWhenEnrolled(t *testing.T) {
	store := &fakeStore{
		miners:   []mf.Miner{{ID: 1, Family: mf.FamilyBitaxe}},
		enrolled: map[uint]bool{1: true},
	}
	fa := &fakeAdapter{rec: &adapter.TelemetryRecord{DetectedMode: "turbo"}}
	c := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, nil)

	outcomes := c.CollectAll(context.Background(), time.Now())
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	_, touched := store.modeCalls[1]
	assert.False(t, touched, "Agile Solo owns mode for enrolled miners")
}

func TestCollectOneAppliesDetectedModeWhenNotEnrolled(t *testing.T) {
	store := &fakeStore{miners: []mf.Miner{{ID: 1, Family: mf.FamilyBitaxe}}}
	fa := &fakeAdapter{rec: &adapter.TelemetryRecord{DetectedMode: "eco"}}
	c := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, nil)

	c.CollectAll(context.Background(), time.Now())
	assert.Equal(t, "eco", store.modeCalls[1])
}

func TestCollectOneFeedsHighDiffObserver(t *testing.T) {
	store := &fakeStore{miners: []mf.Miner{{ID: 1, Family: mf.FamilyAvalonNano}}}
	fa := &fakeAdapter{rec: &adapter.TelemetryRecord{BestShare: "12.5M"}}
	hd := &fakeHighDiff{}
	c := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, hd)

	c.CollectAll(context.Background(), time.Now())
	assert.Equal(t, []string{"12.5M"}, hd.calls)
}

func TestCollectOneSkipsHighDiffForCPUMiners(t *testing.T) {
	store := &fakeStore{miners: []mf.Miner{{ID: 1, Family: mf.FamilyXMRig}}}
	fa := &fakeAdapter{rec: &adapter.TelemetryRecord{BestShare: "80000"}}
	hd := &fakeHighDiff{}
	c := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, hd)

	c.CollectAll(context.Background(), time.Now())
	assert.Empty(t, hd.calls, "CPU miners must not feed the best-share tracker")
}

func TestCollectOneRecordsWarningEventOnFailure(t *testing.T) {
	store := &fakeStore{miners: []mf.Miner{{ID: 1, Family: mf.FamilyBitaxe}}}
	fa := &fakeAdapter{err: errors.New("timeout")}
	c := New(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil }, nil)

	outcomes := c.CollectAll(context.Background(), time.Now())
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	require.Len(t, store.events, 1)
	assert.Equal(t, mf.EventWarning, store.events[0].EventType)
}

func TestSyncAllPersistsSlotsForFixedSlotMiners(t *testing.T) {
	store := &fakeStore{miners: []mf.Miner{
		{ID: 1, Family: mf.FamilyAvalonNano},
		{ID: 2, Family: mf.FamilyBitaxe},
	}}
	fa := &fakeAdapter{slots: []mf.MinerPoolSlot{{SlotNumber: 0, PoolURL: "a.pool"}}}
	s := NewSlotSyncer(store, func(m mf.Miner) (adapter.Adapter, error) { return fa, nil })

	err := s.SyncAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, store.slotsSaved, uint(1))
	assert.NotContains(t, store.slotsSaved, uint(2), "only fixed-slot miners are queried")
}
