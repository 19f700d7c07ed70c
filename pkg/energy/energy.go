// Package energy implements the energy-price ingest job: fetch the
// configured region's Octopus Agile-style tariff slots on a schedule,
// upsert them, and purge stale rows.
package energy

import (
	"context"
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/errs"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/fetcher"
)

// Store is the subset of *db.Store the ingest job needs.
type Store interface {
	UpsertEnergyPrice(p mf.EnergyPrice) error
	PurgeEnergyPricesBefore(cutoff time.Time) (int64, error)
	CurrentPrice(region string, now time.Time) (*mf.EnergyPrice, error)
	NextPrice(region string, now time.Time) (*mf.EnergyPrice, error)
}

// retentionWindow is the 60-day tariff-history retention period.
const retentionWindow = 60 * 24 * time.Hour

// lookahead is how far ahead of now a refresh requests slots for; Octopus
// Agile publishes the next day's rates from ~4pm, so a day is enough
// headroom without over-fetching.
const lookahead = 24 * time.Hour

// Service refreshes and prunes tariff data for a single region.
type Service struct {
	store   Store
	fetcher fetcher.EnergyTariffFetcher
	region  string
}

// New builds a Service for region, backed by fetcher for upstream tariff
// data.
func New(store Store, f fetcher.EnergyTariffFetcher, region string) *Service {
	return &Service{store: store, fetcher: f, region: region}
}

// Refresh fetches the current window of tariff slots and upserts each
// one. A fetch failure is returned to the caller to log and retry next
// tick; already-stored slots are untouched.
func (s *Service) Refresh(ctx context.Context, now time.Time) (int, error) {
	if s.fetcher == nil {
		return 0, fmt.Errorf("refresh tariff slots for %s: %w", s.region, errs.NoFetcherConfigured)
	}
	slots, err := s.fetcher.FetchSlots(ctx, s.region, now.Add(-30*time.Minute), now.Add(lookahead))
	if err != nil {
		return 0, fmt.Errorf("fetch tariff slots for %s: %w", s.region, err)
	}
	stored := 0
	for _, slot := range slots {
		p := mf.EnergyPrice{
			Region:     slot.Region,
			ValidFrom:  slot.ValidFrom,
			ValidTo:    slot.ValidTo,
			PricePence: slot.PricePence,
		}
		if err := s.store.UpsertEnergyPrice(p); err != nil {
			return stored, fmt.Errorf("upsert tariff slot %s@%s: %w", p.Region, p.ValidFrom, err)
		}
		stored++
	}
	return stored, nil
}

// Purge deletes tariff slots older than the 60-day retention window,
// relative to now.
func (s *Service) Purge(now time.Time) (int64, error) {
	n, err := s.store.PurgeEnergyPricesBefore(now.Add(-retentionWindow))
	if err != nil {
		return 0, fmt.Errorf("purge energy prices for %s: %w", s.region, err)
	}
	return n, nil
}

// CurrentAndNext returns the slot covering now and the following slot, the
// pair the Agile Solo look-ahead confirmation and pro-mode price checks
// both need.
func (s *Service) CurrentAndNext(now time.Time) (current, next *mf.EnergyPrice, err error) {
	current, err = s.store.CurrentPrice(s.region, now)
	if err != nil {
		return nil, nil, fmt.Errorf("current price for %s: %w", s.region, err)
	}
	next, err = s.store.NextPrice(s.region, now)
	if err != nil {
		return nil, nil, fmt.Errorf("next price for %s: %w", s.region, err)
	}
	return current, next, nil
}
