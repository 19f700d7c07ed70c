package adapter

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAvalon answers one command/parameter request per connection with a
// fixed response, mirroring the family's one-shot-per-connection protocol.
func fakeAvalon(t *testing.T, responses map[string]string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var buf [4096]byte
				n, _ := conn.Read(buf[:])
				var req map[string]string
				_ = json.Unmarshal(buf[:n], &req)
				resp, ok := responses[req["command"]]
				if !ok {
					resp = `{"STATUS":[{"STATUS":"E"}]}`
				}
				conn.Write([]byte(resp + "\x00"))
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestAvalonGetTelemetry(t *testing.T) {
	host, port := fakeAvalon(t, map[string]string{
		"estats": `{"STATS":[{"MM ID0":"TAvg[61.2] MPO[412] WORKMODE[1]","GHS 5s":"3250.5","MM Ver0":"1.0.2","Best Share":"125000000"}]}`,
		"pools":  `{"POOLS":[{"POOL":0,"URL":"stratum+tcp://pool.example.com:3333","Status":"Alive","User":"wallet.worker"}]}`,
	})

	a := NewAvalon(host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := a.GetTelemetry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3250.5, rec.Hashrate)
	assert.Equal(t, "med", rec.DetectedMode)
	assert.InDelta(t, 61.2, *rec.Temperature, 0.01)
	assert.InDelta(t, 412, *rec.PowerWatts, 0.01)
	assert.Equal(t, "pool.example.com:3333", rec.PoolInUse)
}

func TestAvalonSwitchPoolNotInSlots(t *testing.T) {
	host, port := fakeAvalon(t, map[string]string{
		"pools": `{"POOLS":[{"POOL":0,"URL":"stratum+tcp://other.example.com:3333","Status":"Alive"}]}`,
	})

	a := NewAvalon(host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.SwitchPool(ctx, PoolTarget{Host: "pool.example.com", Port: 3333})
	assert.Error(t, err)
}

func TestAvalonSetModeUnknown(t *testing.T) {
	a := NewAvalon("127.0.0.1", 1)
	err := a.SetMode(context.Background(), "turbo")
	assert.Error(t, err)
}

func TestBracketTokenParsing(t *testing.T) {
	tokens := mmID0Tokens("TAvg[61.2] MPO[412] WORKMODE[1]")
	assert.Equal(t, "61.2", tokens["TAvg"])
	assert.Equal(t, "412", tokens["MPO"])
	assert.Equal(t, "1", tokens["WORKMODE"])
}
