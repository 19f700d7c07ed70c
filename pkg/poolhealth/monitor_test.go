package poolhealth

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

type fakeStore struct {
	pools    []mf.Pool
	recorded []mf.PoolHealth
}

func (f *fakeStore) EnabledPools() ([]mf.Pool, error) { return f.pools, nil }
func (f *fakeStore) TelemetryForPoolSince(poolURL string, since time.Time) ([]mf.Telemetry, error) {
	return nil, nil
}
func (f *fakeStore) RecentPoolHealthWindow(poolID uint, d time.Duration, now time.Time) ([]mf.PoolHealth, error) {
	return nil, nil
}
func (f *fakeStore) RecordPoolHealth(row mf.PoolHealth) error {
	f.recorded = append(f.recorded, row)
	return nil
}

func TestTickRecordsReachablePool(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	port, _ := strconv.Atoi(strconv.Itoa(addr.Port))
	store := &fakeStore{pools: []mf.Pool{{ID: 1, Host: "127.0.0.1", Port: port}}}
	mon := New(store)

	_, err = mon.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, store.recorded, 1)
	assert.True(t, store.recorded[0].IsReachable)
	assert.GreaterOrEqual(t, store.recorded[0].HealthScore, 70)
}

func TestTickRecordsUnreachablePool(t *testing.T) {
	store := &fakeStore{pools: []mf.Pool{{ID: 2, Host: "127.0.0.1", Port: 1}}}
	mon := New(store)
	mon.timeout = 200 * time.Millisecond

	_, err := mon.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, store.recorded, 1)
	assert.False(t, store.recorded[0].IsReachable)
	assert.LessOrEqual(t, store.recorded[0].HealthScore, 30,
		"a down pool must not collect reachability or response-time points")
}

func TestShouldFailoverOnConsecutiveUnreachable(t *testing.T) {
	recent := []mf.PoolHealth{
		{IsReachable: false, HealthScore: 50},
		{IsReachable: false, HealthScore: 50},
		{IsReachable: true, HealthScore: 90},
	}
	assert.True(t, ShouldFailover(recent))
}

func TestShouldFailoverFalseWhenHealthy(t *testing.T) {
	recent := []mf.PoolHealth{
		{IsReachable: true, HealthScore: 90, RejectRate: 0.2},
		{IsReachable: true, HealthScore: 85, RejectRate: 0.5},
		{IsReachable: true, HealthScore: 95, RejectRate: 0.1},
	}
	assert.False(t, ShouldFailover(recent))
}
