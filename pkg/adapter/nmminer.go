package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/errs"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/util"
)

// ConfigPort is the UDP port NMMiner devices listen on for configuration
// datagrams.
const ConfigPort = 12345

// TelemetryPort is the UDP port the shared Listener binds to receive
// devices' self-reported telemetry datagrams — distinct from
// ConfigPort, which devices listen on rather than broadcast from.
const TelemetryPort = 14567

// nmFrame is the self-reported JSON datagram shape: hashrate carries a
// unit suffix, shares are "rejected/accepted/pct%", uptime is "Dd HH:MM:SS".
type nmFrame struct {
	IP       string   `json:"ip"`
	Hashrate string   `json:"hashrate"`
	Shares   string   `json:"shares"`
	Uptime   string   `json:"uptime"`
	Pool     string   `json:"pool"`
	Temp     *float64 `json:"temp"`
	BestDiff string   `json:"best_diff"`
}

// NMMinerAdapter drives the passive family: it never dials out for
// telemetry, only receives frames pushed by the shared Listener, and
// writes configuration by sending a UDP datagram.
type NMMinerAdapter struct {
	host string

	// MinerID identifies the owning Miner row, set when the adapter is
	// registered with the shared Listener so a delivered frame can be
	// persisted without a reverse lookup. Zero when the adapter was
	// built through the plain factory (e.g. for a one-off SwitchPool call
	// where telemetry persistence is irrelevant).
	MinerID uint

	mu     sync.Mutex
	latest *TelemetryRecord
}

// NewNMMiner builds a passive-family adapter. Telemetry only becomes
// available once the shared Listener delivers a frame via UpdateTelemetry.
func NewNMMiner(host string) *NMMinerAdapter {
	return &NMMinerAdapter{host: host}
}

// NewNMMinerWithID builds a passive-family adapter tagged with its owning
// miner id, for registration with the shared Listener's Registry.
func NewNMMinerWithID(host string, minerID uint) *NMMinerAdapter {
	return &NMMinerAdapter{host: host, MinerID: minerID}
}

func (a *NMMinerAdapter) Family() mf.Family { return mf.FamilyNMMiner }

// UpdateTelemetry is the Listener's delivery hook. It
// normalises the raw frame and caches it for the next GetTelemetry call.
func (a *NMMinerAdapter) UpdateTelemetry(frame nmFrame, receivedAt time.Time) error {
	hashrate, unitStr, err := util.ParseNMMinerHashrate(frame.Hashrate)
	if err != nil {
		return fmt.Errorf("%w: nmminer hashrate %q: %v", errs.DecodeError, frame.Hashrate, err)
	}
	unit := nmHashrateUnit(unitStr)
	rejected, accepted, err := util.ParseNMMinerShares(frame.Shares)
	if err != nil {
		return fmt.Errorf("%w: nmminer shares %q: %v", errs.DecodeError, frame.Shares, err)
	}

	rec := &TelemetryRecord{
		Timestamp:      receivedAt,
		Hashrate:       hashrate,
		HashrateUnit:   unit,
		Temperature:    frame.Temp,
		SharesAccepted: &accepted,
		SharesRejected: &rejected,
		PoolInUse:      util.NormalizePoolURL(frame.Pool),
		BestShare:      frame.BestDiff,
		Extra:          mf.JSONMap{"uptime": frame.Uptime},
	}

	a.mu.Lock()
	a.latest = rec
	a.mu.Unlock()
	return nil
}

func (a *NMMinerAdapter) GetTelemetry(ctx context.Context) (*TelemetryRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return nil, fmt.Errorf("%w: no frame received yet from %s", errs.Unreachable, a.host)
	}
	cp := *a.latest
	return &cp, nil
}

func (a *NMMinerAdapter) GetMode(ctx context.Context) (string, error) {
	return "", fmt.Errorf("%w: nmminer has no controllable mode", errs.Unsupported)
}

func (a *NMMinerAdapter) SetMode(ctx context.Context, mode string) error {
	return fmt.Errorf("%w: nmminer has no controllable mode", errs.Unsupported)
}

func (a *NMMinerAdapter) GetAvailableModes() []string { return nil }

// SwitchPool emits the device's config datagram. NMMiner has no
// readback, so success here only means the datagram was sent.
func (a *NMMinerAdapter) SwitchPool(ctx context.Context, target PoolTarget) error {
	payload := map[string]any{
		"PrimaryPool":     fmt.Sprintf("%s:%d", target.Host, target.Port),
		"PrimaryAddress":  target.User,
		"PrimaryPassword": target.Password,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode config datagram: %w", err)
	}

	addr := net.JoinHostPort(a.host, strconv.Itoa(ConfigPort))
	d := net.Dialer{Timeout: DefaultTimeout}
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial config port %s: %v", errs.Unreachable, addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(raw); err != nil {
		return fmt.Errorf("%w: write config datagram to %s: %v", errs.Unreachable, addr, err)
	}
	return nil
}

func (a *NMMinerAdapter) Restart(ctx context.Context) error {
	return fmt.Errorf("%w: nmminer has no remote restart", errs.Unsupported)
}

// IsOnline reports whether a frame has been received recently; a passive
// device has no poll to perform.
func (a *NMMinerAdapter) IsOnline(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest != nil && time.Since(a.latest.Timestamp) < 5*time.Minute
}

func nmHashrateUnit(s string) mf.HashrateUnit {
	switch s {
	case "H/s":
		return mf.UnitHS
	case "KH/s":
		return mf.UnitKHS
	case "MH/s":
		return mf.UnitMHS
	default:
		return mf.UnitKHS
	}
}

var ipFromFrame = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// Listener is the single process-wide UDP listener for the passive
// family. It owns the socket and dispatches received frames to whichever
// adapter the Registry has for the sender's IP.
type Listener struct {
	conn     *net.UDPConn
	registry *Registry
	logger   func(format string, args ...any)

	// Persist, if set, is called after a frame is successfully applied to
	// its adapter, scheduling the async Telemetry persistence of the
	// received frame. nil disables persistence (telemetry is still
	// available via the adapter's cached GetTelemetry for SwitchPool/
	// SetMode callers, just never written to the Store).
	Persist func(ctx context.Context, minerID uint, rec *TelemetryRecord, receivedAt time.Time)
}

// NewListener binds the family's broadcast port and wires a dispatch
// registry. Pass a logger func for drop/parse-failure diagnostics; nil
// discards them.
func NewListener(port int, registry *Registry, logger func(format string, args ...any)) (*Listener, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen udp :%d: %v", errs.Unreachable, port, err)
	}
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Listener{conn: conn, registry: registry, logger: logger}, nil
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read udp: %v", errs.Unreachable, err)
		}

		var frame nmFrame
		if err := json.Unmarshal(buf[:n], &frame); err != nil {
			l.logger("nmminer listener: dropping malformed datagram from %s: %v", src, err)
			continue
		}
		ip := frame.IP
		if !ipFromFrame.MatchString(ip) {
			ip = src.IP.String()
		}

		adapter := l.registry.Lookup(ip)
		if adapter == nil {
			l.logger("nmminer listener: no adapter registered for %s, dropping", ip)
			continue
		}
		nm, ok := adapter.(*NMMinerAdapter)
		if !ok {
			l.logger("nmminer listener: adapter for %s is not NMMiner, dropping", ip)
			continue
		}
		receivedAt := time.Now()
		go func() {
			if err := nm.UpdateTelemetry(frame, receivedAt); err != nil {
				l.logger("nmminer listener: %v", err)
				return
			}
			if l.Persist == nil || nm.MinerID == 0 {
				return
			}
			rec, err := nm.GetTelemetry(ctx)
			if err != nil {
				l.logger("nmminer listener: re-read cached frame for miner %d: %v", nm.MinerID, err)
				return
			}
			l.Persist(ctx, nm.MinerID, rec, receivedAt)
		}()
	}
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.conn.Close()
}
