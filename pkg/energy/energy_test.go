package energy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/errs"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/fetcher"
)

type fakeStore struct {
	upserted []mf.EnergyPrice
	purgeArg time.Time
	current  *mf.EnergyPrice
	next     *mf.EnergyPrice
}

func (f *fakeStore) UpsertEnergyPrice(p mf.EnergyPrice) error {
	f.upserted = append(f.upserted, p)
	return nil
}
func (f *fakeStore) PurgeEnergyPricesBefore(cutoff time.Time) (int64, error) {
	f.purgeArg = cutoff
	return 3, nil
}
func (f *fakeStore) CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error) {
	return f.current, nil
}
func (f *fakeStore) NextPrice(region string, now time.Time) (*mf.EnergyPrice, error) {
	return f.next, nil
}

type fakeFetcher struct {
	slots []fetcher.TariffSlot
	err   error
}

func (f *fakeFetcher) FetchSlots(ctx context.Context, region string, from, to time.Time) ([]fetcher.TariffSlot, error) {
	return f.slots, f.err
}

func TestRefreshUpsertsEachSlot(t *testing.T) {
	store := &fakeStore{}
	f := &fakeFetcher{slots: []fetcher.TariffSlot{
		{Region: "LOND", ValidFrom: time.Now(), ValidTo: time.Now().Add(30 * time.Minute), PricePence: 12.5},
		{Region: "LOND", ValidFrom: time.Now().Add(30 * time.Minute), ValidTo: time.Now().Add(time.Hour), PricePence: 9.1},
	}}
	svc := New(store, f, "LOND")

	n, err := svc.Refresh(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.upserted, 2)
}

func TestRefreshPropagatesFetchError(t *testing.T) {
	store := &fakeStore{}
	f := &fakeFetcher{err: errors.New("upstream down")}
	svc := New(store, f, "LOND")

	_, err := svc.Refresh(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestRefreshWithoutFetcherReturnsError(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, nil, "LOND")

	_, err := svc.Refresh(context.Background(), time.Now())
	assert.ErrorIs(t, err, errs.NoFetcherConfigured)
}

func TestPurgeUsesSixtyDayWindow(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, &fakeFetcher{}, "LOND")
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	n, err := svc.Purge(now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, now.Add(-retentionWindow), store.purgeArg)
}

func TestCurrentAndNext(t *testing.T) {
	store := &fakeStore{current: &mf.EnergyPrice{PricePence: 5}, next: &mf.EnergyPrice{PricePence: 7}}
	svc := New(store, &fakeFetcher{}, "LOND")

	cur, next, err := svc.CurrentAndNext(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5.0, cur.PricePence)
	assert.Equal(t, 7.0, next.PricePence)
}
