// Package adapter is the polymorphic driver layer: one implementation per
// miner family, all satisfying the same capability interface so the
// scheduler and strategy layers never branch on family.
package adapter

import (
	"context"
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// DefaultTimeout bounds every adapter call.
const DefaultTimeout = 5 * time.Second

// TelemetryRecord is the normalised shape every driver translates its
// native protocol into. It is the sole coupling between drivers and the
// telemetry ingest job.
type TelemetryRecord struct {
	Timestamp      time.Time
	Hashrate       float64
	HashrateUnit   mf.HashrateUnit
	Temperature    *float64
	PowerWatts     *float64
	SharesAccepted *int64
	SharesRejected *int64
	PoolInUse      string
	DetectedMode   string // empty if the family does not self-report mode
	Firmware       string // empty if not reported
	BestShare      string // raw unit-suffixed difficulty string, ASIC families only
	Extra          mf.JSONMap
}

// PoolTarget names a pool switch destination.
type PoolTarget struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Adapter is the capability set every miner family driver implements.
type Adapter interface {
	// GetTelemetry polls the device once. Must not block past
	// DefaultTimeout; on failure returns an error wrapping errs.Unreachable
	// or errs.DecodeError.
	GetTelemetry(ctx context.Context) (*TelemetryRecord, error)

	// GetMode returns the device's current mode string. Families with no
	// controllable mode return errs.Unsupported.
	GetMode(ctx context.Context) (string, error)

	// SetMode commands a mode change. Families with no controllable mode
	// return errs.Unsupported and make no device call.
	SetMode(ctx context.Context, mode string) error

	// GetAvailableModes returns the finite list of modes the family
	// supports (empty for families with no controllable mode).
	GetAvailableModes() []string

	// SwitchPool reassigns the device's pool per the family's semantics:
	// fixed-slot families select an existing slot or return
	// errs.PoolNotInSlots; free families reconfigure directly; passive
	// families emit a config datagram.
	SwitchPool(ctx context.Context, target PoolTarget) error

	// Restart power-cycles or soft-restarts the device.
	Restart(ctx context.Context) error

	// IsOnline is a cheap reachability check, distinct from GetTelemetry.
	IsOnline(ctx context.Context) bool

	// Family reports which family this instance drives.
	Family() mf.Family
}

// Config is the per-miner construction input, assembled from the Miner row
// and its opaque Config blob.
type Config struct {
	Host  string
	Port  int // already defaulted by the caller if Miner.Port was nil
	Extra mf.JSONMap
}

// Registry is the process-wide IP-to-adapter lookup used by the passive
// UDP listener; actively polled families are not looked up through it.
// It is safe for concurrent reads; writes only happen at construction.
type Registry struct {
	byIP map[string]Adapter
}

// NewRegistry builds a registry from a set of (ip -> adapter) pairs.
func NewRegistry(byIP map[string]Adapter) *Registry {
	cp := make(map[string]Adapter, len(byIP))
	for k, v := range byIP {
		cp[k] = v
	}
	return &Registry{byIP: cp}
}

// Lookup returns the adapter registered for ip, or nil if none.
func (r *Registry) Lookup(ip string) Adapter {
	if r == nil {
		return nil
	}
	return r.byIP[ip]
}

// New builds the adapter for a miner family. host/port/cfg come from the
// Miner row; the caller supplies a defaulted port when Miner.Port is nil.
func New(family mf.Family, host string, port int, cfg mf.JSONMap) (Adapter, error) {
	switch family {
	case mf.FamilyAvalonNano:
		return NewAvalon(host, portOrDefault(port, 4028)), nil
	case mf.FamilyBitaxe, mf.FamilyNerdQaxe:
		return NewFreeASIC(family, host, portOrDefault(port, 80)), nil
	case mf.FamilyXMRig:
		return NewXMRig(host, portOrDefault(port, 80)), nil
	case mf.FamilyNMMiner:
		// Passive: the caller must register the shared listener's
		// registry entry for this miner's IP rather than dialing out.
		return NewNMMiner(host), nil
	default:
		return nil, fmt.Errorf("unknown miner family %q", family)
	}
}

func portOrDefault(port, def int) int {
	if port == 0 {
		return def
	}
	return port
}
