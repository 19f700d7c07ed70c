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
)

func newXMRigServer(t *testing.T, handler http.HandlerFunc) (*XMRigAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return NewXMRig(host, port), srv
}

func TestXMRigGetTelemetry(t *testing.T) {
	a, _ := newXMRigServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/summary", r.URL.Path)
		w.Write([]byte(`{
			"version": "6.21.0",
			"hashrate": {"total": [1234.5, null, null]},
			"connection": {"pool": "pool.supportxmr.com:443"},
			"results": {"shares_good": 42, "shares_total": 45, "diff_current": 80000}
		}`))
	})

	rec, err := a.GetTelemetry(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.2345, rec.Hashrate, 0.001)
	assert.Equal(t, int64(42), *rec.SharesAccepted)
	assert.Equal(t, int64(3), *rec.SharesRejected)
	assert.Equal(t, "pool.supportxmr.com:443", rec.PoolInUse)
}

func TestXMRigModeUnsupported(t *testing.T) {
	a, _ := newXMRigServer(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := a.GetMode(context.Background())
	assert.Error(t, err)
	assert.Error(t, a.SetMode(context.Background(), "turbo"))
	assert.Empty(t, a.GetAvailableModes())
}
