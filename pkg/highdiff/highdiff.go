// Package highdiff implements the personal-best share and block-solve
// tracker: every telemetry poll's best-share figure is compared against the
// miner's recorded best, a new best is persisted, and the current network
// difficulty (from a block-explorer fetcher) decides whether the share
// would have solved a block.
package highdiff

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/util"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/fetcher"
)

// Store is the subset of *db.Store the tracker needs.
type Store interface {
	BestShareForMiner(minerID uint) (*float64, error)
	InsertHighDiffShare(row mf.HighDiffShare) error
	RecordBlockFound(row mf.BlockFound) error
	PurgeHighDiffSharesBefore(cutoff time.Time) (int64, error)
}

// retentionWindow is the 180-day global retention period for shares.
const retentionWindow = 180 * 24 * time.Hour

// Tracker evaluates one telemetry poll's best-share reading against a
// miner's history.
type Tracker struct {
	store    Store
	explorer fetcher.BlockExplorerFetcher
}

// New builds a Tracker.
func New(store Store, explorer fetcher.BlockExplorerFetcher) *Tracker {
	return &Tracker{store: store, explorer: explorer}
}

// Result summarises one Observe call.
type Result struct {
	NewBest    bool
	Difficulty float64
	Coin       string
	BlockFound bool
}

// Observe records minerID's best-share reading if it beats the previous
// best, and checks it against the current network difficulty for a block
// solve. rawBestShare is the adapter's raw unit-suffixed string
// (e.g. "12.5M"); pool and hashrate/mode come from the same telemetry poll.
func (t *Tracker) Observe(ctx context.Context, minerID uint, rawBestShare, pool, mode string, hashrate float64, at time.Time) (Result, error) {
	if rawBestShare == "" {
		return Result{}, nil
	}
	diff, err := util.ParseDifficulty(rawBestShare)
	if err != nil {
		return Result{}, fmt.Errorf("parse best share for miner %d: %w", minerID, err)
	}

	prevBest, err := t.store.BestShareForMiner(minerID)
	if err != nil {
		return Result{}, fmt.Errorf("load best share for miner %d: %w", minerID, err)
	}
	if prevBest != nil && diff <= *prevBest {
		return Result{Difficulty: diff}, nil
	}

	coin := ExtractCoinFromPoolName(pool)
	row := mf.HighDiffShare{
		MinerID:    minerID,
		Coin:       coin,
		Pool:       pool,
		Difficulty: diff,
		Hashrate:   hashrate,
		Mode:       mode,
		Timestamp:  at,
	}

	var networkDiff *float64
	blockFound := false
	if t.explorer != nil {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		nd, err := t.explorer.FetchNetworkDifficulty(tctx, coin)
		cancel()
		if err == nil && nd != nil && nd.Difficulty != nil {
			f, _ := new(big.Float).SetInt(nd.Difficulty).Float64()
			networkDiff = &f
			blockFound = fetcher.SharesBlock(diff, nd.Difficulty)
		}
	}
	row.NetworkDifficulty = networkDiff
	row.WasBlockSolve = blockFound

	if err := t.store.InsertHighDiffShare(row); err != nil {
		return Result{}, fmt.Errorf("insert high diff share for miner %d: %w", minerID, err)
	}

	if blockFound {
		if err := t.store.RecordBlockFound(mf.BlockFound{
			MinerID:           minerID,
			Coin:              coin,
			Pool:              pool,
			Difficulty:        diff,
			NetworkDifficulty: *networkDiff,
			Timestamp:         at,
		}); err != nil {
			return Result{}, fmt.Errorf("record block found for miner %d: %w", minerID, err)
		}
	}

	return Result{NewBest: true, Difficulty: diff, Coin: coin, BlockFound: blockFound}, nil
}

// Purge deletes high-diff-share rows older than the 180-day retention
// window, relative to now.
func (t *Tracker) Purge(now time.Time) (int64, error) {
	n, err := t.store.PurgeHighDiffSharesBefore(now.Add(-retentionWindow))
	if err != nil {
		return 0, fmt.Errorf("purge high diff shares: %w", err)
	}
	return n, nil
}

// ExtractCoinFromPoolName guesses the mined coin from a pool hostname,
// ported from extract_coin_from_pool_name: BTC/BITCOIN/SHA256 match BTC,
// BCH/BITCOIN CASH match BCH, DGB/DIGIBYTE match DGB, anything else
// defaults to BTC.
func ExtractCoinFromPoolName(pool string) string {
	upper := strings.ToUpper(pool)
	switch {
	case strings.Contains(upper, "BCH"), strings.Contains(upper, "BITCOIN CASH"):
		return "BCH"
	case strings.Contains(upper, "DGB"), strings.Contains(upper, "DIGIBYTE"):
		return "DGB"
	case strings.Contains(upper, "BTC"), strings.Contains(upper, "BITCOIN"), strings.Contains(upper, "SHA256"):
		return "BTC"
	default:
		return "BTC"
	}
}
