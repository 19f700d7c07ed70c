// Package poolhealth implements the pool reachability and composite
// health-score monitor: a TCP probe plus telemetry-derived
// reject rate feed a 0-100 score recorded per pool on every tick.
// ShouldFailover evaluates the failover trip condition from a pool's recent
// health rows; outside its tests nothing in this module calls it, and the
// pool-strategy engine does not act on it.
package poolhealth

import (
	"context"
	"net"
	"strconv"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// Store is the subset of *db.Store this monitor needs.
type Store interface {
	EnabledPools() ([]mf.Pool, error)
	TelemetryForPoolSince(poolURL string, since time.Time) ([]mf.Telemetry, error)
	RecentPoolHealthWindow(poolID uint, d time.Duration, now time.Time) ([]mf.PoolHealth, error)
	RecordPoolHealth(row mf.PoolHealth) error
}

// Monitor runs one tick of the pool-health check across every enabled pool.
type Monitor struct {
	store   Store
	dialer  net.Dialer
	timeout time.Duration
}

// New builds a Monitor with the default 5 s TCP-probe timeout.
func New(store Store) *Monitor {
	return &Monitor{store: store, timeout: 5 * time.Second}
}

// Probe is one pool's reachability/latency measurement.
type Probe struct {
	PoolID         uint
	Reachable      bool
	ResponseTimeMs int
	Err            error
}

// probe TCP-dials the pool and measures RTT.
func (m *Monitor) probe(ctx context.Context, p mf.Pool) Probe {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return Probe{PoolID: p.ID, Reachable: false, Err: err}
	}
	conn.Close()
	return Probe{PoolID: p.ID, Reachable: true, ResponseTimeMs: int(elapsed.Milliseconds())}
}

// Tick runs the check against every enabled pool and records a PoolHealth
// row for each.
func (m *Monitor) Tick(ctx context.Context, now time.Time) ([]Probe, error) {
	pools, err := m.store.EnabledPools()
	if err != nil {
		return nil, err
	}

	probes := make([]Probe, 0, len(pools))
	for _, p := range pools {
		pr := m.probe(ctx, p)
		probes = append(probes, pr)

		acceptedTotal, rejectedTotal := m.rejectCounts(p, now)
		recentFailures := m.recentFailureCount(p.ID, now)
		score := compositeScore(pr, rejectRate(acceptedTotal, rejectedTotal), recentFailures)

		errMsg := ""
		if pr.Err != nil {
			errMsg = pr.Err.Error()
		}
		_ = m.store.RecordPoolHealth(mf.PoolHealth{
			PoolID:         p.ID,
			Timestamp:      now,
			IsReachable:    pr.Reachable,
			ResponseTimeMs: pr.ResponseTimeMs,
			RejectRate:     rejectRate(acceptedTotal, rejectedTotal),
			SharesAccepted: acceptedTotal,
			SharesRejected: rejectedTotal,
			HealthScore:    score,
			ErrorMessage:   errMsg,
		})
	}
	return probes, nil
}

// rejectCounts aggregates share counts from telemetry in the last 24h
// whose pool_in_use references this pool.
func (m *Monitor) rejectCounts(p mf.Pool, now time.Time) (accepted, rejected int64) {
	rows, err := m.store.TelemetryForPoolSince(p.URL(), now.Add(-24*time.Hour))
	if err != nil {
		return 0, 0
	}
	for _, r := range rows {
		if r.SharesAccepted != nil {
			accepted += *r.SharesAccepted
		}
		if r.SharesRejected != nil {
			rejected += *r.SharesRejected
		}
	}
	return accepted, rejected
}

func rejectRate(accepted, rejected int64) float64 {
	total := accepted + rejected
	if total == 0 {
		return 0
	}
	return float64(rejected) / float64(total) * 100
}

// recentFailureCount counts PoolHealth rows in the last hour with
// is_reachable = false.
func (m *Monitor) recentFailureCount(poolID uint, now time.Time) int {
	rows, err := m.store.RecentPoolHealthWindow(poolID, time.Hour, now)
	if err != nil {
		return 0
	}
	n := 0
	for _, r := range rows {
		if !r.IsReachable {
			n++
		}
	}
	return n
}

// compositeScore computes the 0-100 health score.
func compositeScore(pr Probe, rejectPct float64, recentFailures int) int {
	score := 0
	if pr.Reachable {
		score += 40
		// Response time is only meaningful for a completed probe; an
		// unreachable pool has no RTT and earns nothing here.
		switch {
		case pr.ResponseTimeMs < 50:
			score += 30
		case pr.ResponseTimeMs < 150:
			score += 20
		case pr.ResponseTimeMs < 300:
			score += 10
		}
	}
	switch {
	case rejectPct < 1:
		score += 30
	case rejectPct < 3:
		score += 20
	case rejectPct < 5:
		score += 10
	}
	score -= 10 * recentFailures
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ShouldFailover evaluates the failover trip condition for a pool from its
// recent health history.
func ShouldFailover(recent []mf.PoolHealth) bool {
	consecutiveUnreachable := 0
	consecutiveLowHealth := 0
	consecutiveHighReject := 0
	// recent is ordered newest-first; a condition is "consecutive" when every
	// check inside its window satisfies it.
	for i, r := range recent {
		if i < 2 {
			if !r.IsReachable {
				consecutiveUnreachable++
			}
		}
		if i < 3 {
			if r.HealthScore < 30 {
				consecutiveLowHealth++
			}
			if r.RejectRate > 10 {
				consecutiveHighReject++
			}
		}
	}
	return consecutiveUnreachable >= 2 || consecutiveLowHealth >= 3 || consecutiveHighReject >= 3
}
