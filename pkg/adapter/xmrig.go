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

// xmrigSummary is the subset of XMRig's /1/summary JSON-RPC-over-HTTP
// payload this controller consumes.
type xmrigSummary struct {
	Version    string    `json:"version"`
	Hashrate   hashrateN `json:"hashrate"`
	Connection struct {
		Pool string `json:"pool"`
	} `json:"connection"`
	Results struct {
		SharesGood  int64 `json:"shares_good"`
		SharesTotal int64 `json:"shares_total"`
	} `json:"results"`
}

type hashrateN struct {
	Total []*float64 `json:"total"`
}

// XMRigAdapter drives CPU miners running the XMRig HTTP API: no
// fixed pool slots, no power-limit modes — mode control is not supported
// for this family.
type XMRigAdapter struct {
	host  string
	port  int
	token string
	hc    *http.Client
}

// NewXMRig builds an adapter for one XMRig instance.
func NewXMRig(host string, port int) *XMRigAdapter {
	return &XMRigAdapter{host: host, port: port, hc: &http.Client{Timeout: DefaultTimeout}}
}

func (a *XMRigAdapter) Family() mf.Family { return mf.FamilyXMRig }

func (a *XMRigAdapter) base() string {
	return fmt.Sprintf("http://%s", util.NormalizePoolURL(fmt.Sprintf("%s:%d", a.host, a.port)))
}

func (a *XMRigAdapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base()+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", errs.Unreachable, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s returned %d", errs.ProtocolError, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", errs.DecodeError, path, err)
	}
	return nil
}

func (a *XMRigAdapter) GetTelemetry(ctx context.Context) (*TelemetryRecord, error) {
	var sum xmrigSummary
	if err := a.get(ctx, "/1/summary", &sum); err != nil {
		return nil, err
	}
	var hashHS float64
	if len(sum.Hashrate.Total) > 0 && sum.Hashrate.Total[0] != nil {
		hashHS = *sum.Hashrate.Total[0]
	}
	accepted := sum.Results.SharesGood
	total := sum.Results.SharesTotal
	rejected := total - accepted

	return &TelemetryRecord{
		Timestamp:      time.Now(),
		Hashrate:       util.HashrateToKHs(hashHS, "H/s"),
		HashrateUnit:   mf.UnitKHS,
		SharesAccepted: &accepted,
		SharesRejected: &rejected,
		PoolInUse:      util.NormalizePoolURL(sum.Connection.Pool),
		Firmware:       sum.Version,
	}, nil
}

func (a *XMRigAdapter) GetMode(ctx context.Context) (string, error) {
	return "", fmt.Errorf("%w: xmrig has no controllable mode", errs.Unsupported)
}

func (a *XMRigAdapter) SetMode(ctx context.Context, mode string) error {
	return fmt.Errorf("%w: xmrig has no controllable mode", errs.Unsupported)
}

func (a *XMRigAdapter) GetAvailableModes() []string { return nil }

func (a *XMRigAdapter) SwitchPool(ctx context.Context, target PoolTarget) error {
	body := map[string]any{
		"pools": []map[string]any{{
			"url":       fmt.Sprintf("%s:%d", target.Host, target.Port),
			"user":      target.User,
			"pass":      target.Password,
			"keepalive": true,
			"tls":       false,
		}},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode config body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base()+"/1/config", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST /1/config: %v", errs.Unreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: POST /1/config returned %d", errs.ProtocolError, resp.StatusCode)
	}
	return nil
}

func (a *XMRigAdapter) Restart(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base()+"/1/config/restart", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
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

func (a *XMRigAdapter) IsOnline(ctx context.Context) bool {
	var sum xmrigSummary
	return a.get(ctx, "/1/summary", &sum) == nil
}
