package highdiff

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/fetcher"
)

type fakeStore struct {
	best     map[uint]*float64
	inserted []mf.HighDiffShare
	blocks   []mf.BlockFound
	purgeArg time.Time
}

func (f *fakeStore) BestShareForMiner(minerID uint) (*float64, error) { return f.best[minerID], nil }
func (f *fakeStore) InsertHighDiffShare(row mf.HighDiffShare) error {
	f.inserted = append(f.inserted, row)
	return nil
}
func (f *fakeStore) RecordBlockFound(row mf.BlockFound) error {
	f.blocks = append(f.blocks, row)
	return nil
}
func (f *fakeStore) PurgeHighDiffSharesBefore(cutoff time.Time) (int64, error) {
	f.purgeArg = cutoff
	return 7, nil
}

type fakeExplorer struct {
	diff *big.Int
	err  error
}

func (f *fakeExplorer) FetchNetworkDifficulty(ctx context.Context, coin string) (*fetcher.NetworkDifficulty, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.NetworkDifficulty{Coin: coin, Difficulty: f.diff}, nil
}

func TestObserveIgnoresNonImprovingShare(t *testing.T) {
	prev := 100e6 // 100M, above the incoming 50M share
	store := &fakeStore{best: map[uint]*float64{1: &prev}}
	tr := New(store, &fakeExplorer{diff: big.NewInt(1_000_000)})

	res, err := tr.Observe(context.Background(), 1, "50M", "btc.solopool.org", "turbo", 500, time.Now())
	require.NoError(t, err)
	assert.False(t, res.NewBest)
	assert.Empty(t, store.inserted)
}

func TestObserveRecordsNewBestAndDerivesCoin(t *testing.T) {
	store := &fakeStore{best: map[uint]*float64{}}
	tr := New(store, &fakeExplorer{diff: big.NewInt(1_000_000_000)})

	res, err := tr.Observe(context.Background(), 1, "12.5M", "bch.solopool.org", "turbo", 500, time.Now())
	require.NoError(t, err)
	assert.True(t, res.NewBest)
	assert.Equal(t, "BCH", res.Coin)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "BCH", store.inserted[0].Coin)
	assert.False(t, res.BlockFound, "12.5M is far below a 1e9 network difficulty")
}

func TestObserveDetectsBlockSolve(t *testing.T) {
	store := &fakeStore{best: map[uint]*float64{}}
	tr := New(store, &fakeExplorer{diff: big.NewInt(1000)})

	res, err := tr.Observe(context.Background(), 1, "5000", "btc.solopool.org", "turbo", 500, time.Now())
	require.NoError(t, err)
	assert.True(t, res.NewBest)
	assert.True(t, res.BlockFound)
	require.Len(t, store.blocks, 1)
	assert.Equal(t, "BTC", store.blocks[0].Coin)
}

func TestExtractCoinFromPoolName(t *testing.T) {
	cases := map[string]string{
		"btc.solopool.org":      "BTC",
		"bch.solopool.org":      "BCH",
		"dgb.solopool.org":      "DGB",
		"pool.braiins.com":      "BTC",
		"eu1.solopool.org":      "BTC",
		"SHA256-mine.example":   "BTC",
		"digibyte.miningpool.x": "DGB",
	}
	for pool, want := range cases {
		assert.Equal(t, want, ExtractCoinFromPoolName(pool), pool)
	}
}

func TestPurgeUsesOneEightyDayWindow(t *testing.T) {
	store := &fakeStore{}
	tr := New(store, nil)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	n, err := tr.Purge(now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, now.Add(-retentionWindow), store.purgeArg)
}
