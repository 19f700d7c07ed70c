package adapter

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

func newFreeASICServer(t *testing.T, handler http.HandlerFunc) (*FreeASICAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return NewFreeASIC(mf.FamilyBitaxe, host, port), srv
}

func TestFreeASICGetTelemetry(t *testing.T) {
	a, _ := newFreeASICServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system/info", r.URL.Path)
		w.Write([]byte(`{
			"hashRate": 485.2,
			"temp": 62.5,
			"power": 14.1,
			"sharesAccepted": 1000,
			"sharesRejected": 3,
			"bestDiff": "125M",
			"stratumURL": "pool.example.com",
			"stratumPort": 3333,
			"version": "2.4.1",
			"powerLimit": 14
		}`))
	})

	rec, err := a.GetTelemetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 485.2, rec.Hashrate)
	assert.Equal(t, mf.UnitGHS, rec.HashrateUnit)
	assert.Equal(t, int64(1000), *rec.SharesAccepted)
	assert.Equal(t, int64(3), *rec.SharesRejected)
	assert.Equal(t, "balanced", rec.DetectedMode)
	assert.Equal(t, "pool.example.com:3333", rec.PoolInUse)
}

func TestFreeASICSetModeUnsupported(t *testing.T) {
	a, _ := newFreeASICServer(t, func(w http.ResponseWriter, r *http.Request) {})
	err := a.SetMode(context.Background(), "nitro")
	assert.Error(t, err)
}

func TestFreeASICIsOnline(t *testing.T) {
	a, _ := newFreeASICServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	assert.True(t, a.IsOnline(context.Background()))
}

func TestFreeASICIsOnlineUnreachable(t *testing.T) {
	a := NewFreeASIC(mf.FamilyNerdQaxe, "127.0.0.1", 1)
	assert.False(t, a.IsOnline(context.Background()))
}
