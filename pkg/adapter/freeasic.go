package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/errs"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/util"
)

// freeASICModes mirrors the family's autotune-less power-limit presets; the
// device itself enforces the set, the controller never invents a value it
// wasn't told about.
var freeASICModes = []string{"eco", "balanced", "turbo"}

// systemInfoResponse is the subset of Bitaxe/NerdQaxe's /api/system/info
// payload this controller consumes.
type systemInfoResponse struct {
	Hashrate       float64 `json:"hashRate"` // GH/s
	Temp           float64 `json:"temp"`
	VRTemp         float64 `json:"vrTemp"`
	Power          float64 `json:"power"`
	SharesAccepted int64   `json:"sharesAccepted"`
	SharesRejected int64   `json:"sharesRejected"`
	BestDiff       string  `json:"bestDiff"`
	StratumURL     string  `json:"stratumURL"`
	StratumPort    int     `json:"stratumPort"`
	StratumUser    string  `json:"stratumUser"`
	Version        string  `json:"version"`
	PowerLimit     int     `json:"powerLimit"`
}

// FreeASICAdapter drives the free-family ASICs (Bitaxe, NerdQaxe): plain
// JSON over HTTP, no fixed pool slots — a pool switch is a direct config
// rewrite.
type FreeASICAdapter struct {
	family mf.Family
	host   string
	port   int
	hc     *http.Client
}

// NewFreeASIC builds an adapter for one free-family device.
func NewFreeASIC(family mf.Family, host string, port int) *FreeASICAdapter {
	return &FreeASICAdapter{
		family: family,
		host:   host,
		port:   port,
		hc:     &http.Client{Timeout: DefaultTimeout},
	}
}

func (a *FreeASICAdapter) Family() mf.Family { return a.family }

func (a *FreeASICAdapter) base() string {
	return fmt.Sprintf("http://%s", util.NormalizePoolURL(fmt.Sprintf("%s:%d", a.host, a.port)))
}

func (a *FreeASICAdapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base()+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", errs.Unreachable, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s returned %d", errs.ProtocolError, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", errs.DecodeError, path, err)
	}
	return nil
}

func (a *FreeASICAdapter) patch(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, a.base()+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: PATCH %s: %v", errs.Unreachable, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: PATCH %s returned %d", errs.ProtocolError, path, resp.StatusCode)
	}
	return nil
}

func (a *FreeASICAdapter) GetTelemetry(ctx context.Context) (*TelemetryRecord, error) {
	var info systemInfoResponse
	if err := a.get(ctx, "/api/system/info", &info); err != nil {
		return nil, err
	}
	temp := info.Temp
	power := info.Power
	accepted := info.SharesAccepted
	rejected := info.SharesRejected

	rec := &TelemetryRecord{
		Timestamp:      time.Now(),
		Hashrate:       info.Hashrate,
		HashrateUnit:   mf.UnitGHS,
		Temperature:    &temp,
		PowerWatts:     &power,
		SharesAccepted: &accepted,
		SharesRejected: &rejected,
		Firmware:       info.Version,
		BestShare:      info.BestDiff,
		PoolInUse:      util.NormalizePoolURL(fmt.Sprintf("%s:%d", info.StratumURL, info.StratumPort)),
		DetectedMode:   modeForPowerLimit(info.PowerLimit),
		Extra:          mf.JSONMap{"vr_temp": info.VRTemp},
	}
	return rec, nil
}

// modeForPowerLimit maps the reported power limit to a mode bucket: below
// 12 W is eco, below 18 W is balanced, anything higher is turbo. The mode
// is left blank only when no positive power limit is reported.
func modeForPowerLimit(watts int) string {
	switch {
	case watts <= 0:
		return ""
	case watts < 12:
		return "eco"
	case watts < 18:
		return "balanced"
	default:
		return "turbo"
	}
}

func (a *FreeASICAdapter) GetMode(ctx context.Context) (string, error) {
	var info systemInfoResponse
	if err := a.get(ctx, "/api/system/info", &info); err != nil {
		return "", err
	}
	mode := modeForPowerLimit(info.PowerLimit)
	if mode == "" {
		return "", fmt.Errorf("%w: power limit %dW not in a known preset", errs.Unsupported, info.PowerLimit)
	}
	return mode, nil
}

func (a *FreeASICAdapter) SetMode(ctx context.Context, mode string) error {
	watts, ok := powerLimitForMode(mode)
	if !ok {
		return fmt.Errorf("%w: free-ASIC mode %q", errs.Unsupported, mode)
	}
	return a.patch(ctx, "/api/system", map[string]any{"powerLimit": watts})
}

func powerLimitForMode(mode string) (int, bool) {
	switch mode {
	case "eco":
		return 10, true
	case "balanced":
		return 15, true
	case "turbo":
		return 21, true
	default:
		return 0, false
	}
}

func (a *FreeASICAdapter) GetAvailableModes() []string {
	out := make([]string, len(freeASICModes))
	copy(out, freeASICModes)
	return out
}

func (a *FreeASICAdapter) SwitchPool(ctx context.Context, target PoolTarget) error {
	return a.patch(ctx, "/api/system", map[string]any{
		"stratumURL":      target.Host,
		"stratumPort":     target.Port,
		"stratumUser":     target.User,
		"stratumPassword": target.Password,
	})
}

func (a *FreeASICAdapter) Restart(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base()+"/api/system/restart", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: restart: %v", errs.Unreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: restart returned %d", errs.ProtocolError, resp.StatusCode)
	}
	return nil
}

func (a *FreeASICAdapter) IsOnline(ctx context.Context) bool {
	return a.get(ctx, "/api/system/info", nil) == nil
}
