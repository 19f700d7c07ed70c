// Package fetcher defines the external-data fetcher contracts: the shape
// every tariff, blockchain-explorer, crypto-price, and pool-stats client
// must satisfy, plus a short-TTL cache shared by all of them. Concrete HTTP
// clients against specific third-party APIs live with the deployment; this
// package is the contract and the cache those clients plug into.
package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TariffSlot is one 30-minute energy-price window as returned by an energy
// tariff fetcher.
type TariffSlot struct {
	Region     string
	ValidFrom  time.Time
	ValidTo    time.Time
	PricePence float64
}

// EnergyTariffFetcher retrieves upcoming tariff slots for a region. Callers
// (pkg/energy) request a window and persist whatever slots come back.
type EnergyTariffFetcher interface {
	FetchSlots(ctx context.Context, region string, from, to time.Time) ([]TariffSlot, error)
}

// NetworkDifficulty is the decoded response of a block-explorer lookup,
// used by pkg/highdiff to decide whether a personal-best share would have
// solved a block.
type NetworkDifficulty struct {
	Coin        string
	Difficulty  *big.Int
	BlockHeight uint64
}

// BlockExplorerFetcher retrieves the current network difficulty for a
// coin from a public block explorer.
type BlockExplorerFetcher interface {
	FetchNetworkDifficulty(ctx context.Context, coin string) (*NetworkDifficulty, error)
}

// CryptoPrice is a spot price quote for a coin in a fiat currency.
type CryptoPrice struct {
	Coin  string
	Fiat  string
	Price float64
	AsOf  time.Time
}

// CryptoPriceFetcher retrieves a spot price quote, consumed by
// reporting/aggregation jobs outside this module's scope but defined here
// so the contract exists for callers that need it.
type CryptoPriceFetcher interface {
	FetchPrice(ctx context.Context, coin, fiat string) (*CryptoPrice, error)
}

// PoolStats is a snapshot of a pool's publicly reported statistics.
type PoolStats struct {
	Pool     string
	Hashrate float64
	Workers  int
	AsOf     time.Time
}

// PoolStatsFetcher retrieves a pool's public stats page/API response.
type PoolStatsFetcher interface {
	FetchPoolStats(ctx context.Context, poolHost string) (*PoolStats, error)
}

// DecodeHexDifficulty decodes a "0x..."-prefixed quantity, the shape public
// block explorers return difficulty and block-height fields in (the same
// JSON-RPC quantity encoding go-ethereum's own RPC client decodes), into a
// big.Int.
func DecodeHexDifficulty(hex string) (*big.Int, error) {
	if hex == "" {
		return nil, fmt.Errorf("decode hex difficulty: empty string")
	}
	n, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil, fmt.Errorf("decode hex difficulty %q: %w", hex, err)
	}
	return n, nil
}

// SharesBlock reports whether a share of the given difficulty would have
// solved a block against the supplied network difficulty: the share
// difficulty is compared as given, with no unit conversion, and must meet
// or exceed the network figure.
func SharesBlock(shareDifficulty float64, networkDifficulty *big.Int) bool {
	if networkDifficulty == nil {
		return false
	}
	share := new(big.Float).SetFloat64(shareDifficulty)
	network := new(big.Float).SetInt(networkDifficulty)
	return share.Cmp(network) >= 0
}
