package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/errs"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/util"
)

// avalonModes are the three workmode values the family's "ascset" command
// accepts.
var avalonModes = []string{"low", "med", "high"}

// AvalonAdapter drives the fixed-slot ASIC family: text JSON-RPC
// over TCP, request {"command": verb, "parameter": args}, response read
// until close and NUL-stripped before parsing the first balanced object.
type AvalonAdapter struct {
	host string
	port int
}

// NewAvalon builds an adapter for one Avalon-family device.
func NewAvalon(host string, port int) *AvalonAdapter {
	return &AvalonAdapter{host: host, port: port}
}

func (a *AvalonAdapter) Family() mf.Family { return mf.FamilyAvalonNano }

func (a *AvalonAdapter) addr() string { return net.JoinHostPort(a.host, strconv.Itoa(a.port)) }

// call sends one command/parameter pair and returns the first balanced
// JSON object found in the (NUL-stripped) response.
func (a *AvalonAdapter) call(ctx context.Context, command, parameter string) (map[string]any, error) {
	d := net.Dialer{Timeout: DefaultTimeout}
	conn, err := d.DialContext(ctx, "tcp", a.addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errs.Unreachable, a.addr(), err)
	}
	defer conn.Close()

	deadline := time.Now().Add(DefaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	req, err := json.Marshal(map[string]string{"command": command, "parameter": parameter})
	if err != nil {
		return nil, fmt.Errorf("encode avalon request: %w", err)
	}
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("%w: write to %s: %v", errs.Unreachable, a.addr(), err)
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, rerr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break // EOF or close is the normal end-of-response signal for this protocol
		}
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty response from %s", errs.Unreachable, a.addr())
	}

	clean := strings.ReplaceAll(string(buf), "\x00", "")
	obj, err := firstBalancedObject(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.DecodeError, err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
		return nil, fmt.Errorf("%w: unmarshal avalon response: %v", errs.DecodeError, err)
	}
	return decoded, nil
}

// firstBalancedObject returns the first top-level balanced {...} substring.
func firstBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found")
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object")
}

var bracketToken = regexp.MustCompile(`([A-Za-z_]+)\[([^\]]*)\]`)

// mmID0Tokens parses the bracketed "KEY[value]" tokens out of the
// STATS[0]."MM ID0" string.
func mmID0Tokens(s string) map[string]string {
	out := map[string]string{}
	for _, m := range bracketToken.FindAllStringSubmatch(s, -1) {
		out[m[1]] = strings.TrimSpace(m[2])
	}
	return out
}

func (a *AvalonAdapter) GetTelemetry(ctx context.Context) (*TelemetryRecord, error) {
	resp, err := a.call(ctx, "estats", "")
	if err != nil {
		return nil, err
	}
	stats, _ := resp["STATS"].([]any)
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: avalon estats missing STATS array", errs.DecodeError)
	}
	entry, _ := stats[0].(map[string]any)
	mmRaw, _ := entry["MM ID0"].(string)
	tokens := mmID0Tokens(mmRaw)

	rec := &TelemetryRecord{
		Timestamp:    time.Now(),
		HashrateUnit: mf.UnitGHS,
		Extra:        mf.JSONMap{"mm_id0": mmRaw},
	}

	if v, ok := tokens["TAvg"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Temperature = &f
		}
	}
	if v, ok := tokens["MPO"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.PowerWatts = &f
		}
	}
	if v, ok := tokens["WORKMODE"]; ok {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 && i < len(avalonModes) {
			rec.DetectedMode = avalonModes[i]
		}
	}
	if ghs, ok := entry["GHS 5s"]; ok {
		switch v := ghs.(type) {
		case float64:
			rec.Hashrate = v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				rec.Hashrate = f
			}
		}
	}
	if fw, ok := entry["MM Ver0"].(string); ok {
		rec.Firmware = fw
	}
	if bd, ok := entry["Best Share"]; ok {
		rec.BestShare = fmt.Sprintf("%v", bd)
	}

	pools, err := a.call(ctx, "pools", "")
	if err == nil {
		if active := activeAvalonPoolURL(pools); active != "" {
			rec.PoolInUse = active
		}
	}

	return rec, nil
}

func activeAvalonPoolURL(resp map[string]any) string {
	list, _ := resp["POOLS"].([]any)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if status, _ := m["Status"].(string); strings.EqualFold(status, "Alive") {
			if url, ok := m["URL"].(string); ok {
				return util.NormalizePoolURL(url)
			}
		}
	}
	return ""
}

func (a *AvalonAdapter) GetMode(ctx context.Context) (string, error) {
	resp, err := a.call(ctx, "estats", "")
	if err != nil {
		return "", err
	}
	stats, _ := resp["STATS"].([]any)
	if len(stats) == 0 {
		return "", fmt.Errorf("%w: avalon estats missing STATS array", errs.DecodeError)
	}
	entry, _ := stats[0].(map[string]any)
	mmRaw, _ := entry["MM ID0"].(string)
	tokens := mmID0Tokens(mmRaw)
	v, ok := tokens["WORKMODE"]
	if !ok {
		return "", fmt.Errorf("%w: workmode not reported", errs.Unsupported)
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 || i >= len(avalonModes) {
		return "", fmt.Errorf("%w: unrecognised workmode %q", errs.DecodeError, v)
	}
	return avalonModes[i], nil
}

func (a *AvalonAdapter) SetMode(ctx context.Context, mode string) error {
	idx := -1
	for i, m := range avalonModes {
		if m == mode {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: avalon mode %q", errs.Unsupported, mode)
	}
	_, err := a.call(ctx, "ascset", fmt.Sprintf("0,workmode,set,%d", idx))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ProtocolError, err)
	}
	return nil
}

func (a *AvalonAdapter) GetAvailableModes() []string {
	out := make([]string, len(avalonModes))
	copy(out, avalonModes)
	return out
}

// SwitchPool matches the target by host:port against the device's three
// slots. It does not attempt to rewrite a slot that doesn't already
// contain the target: that is pool-slot sync's job, run
// periodically, never at switch time.
func (a *AvalonAdapter) SwitchPool(ctx context.Context, target PoolTarget) error {
	resp, err := a.call(ctx, "pools", "")
	if err != nil {
		return err
	}
	list, _ := resp["POOLS"].([]any)
	wantURL := util.NormalizePoolURL(fmt.Sprintf("%s:%d", target.Host, target.Port))

	slot := -1
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := m["URL"].(string)
		if util.NormalizePoolURL(url) != wantURL {
			continue
		}
		idx, ok := m["POOL"]
		if !ok {
			continue
		}
		switch v := idx.(type) {
		case float64:
			slot = int(v)
		case string:
			if i, err := strconv.Atoi(v); err == nil {
				slot = i
			}
		}
		break
	}
	if slot < 0 {
		return fmt.Errorf("%w: %s not present in device slots", errs.PoolNotInSlots, wantURL)
	}

	if _, err := a.call(ctx, "switchpool", strconv.Itoa(slot)); err != nil {
		return fmt.Errorf("%w: switchpool: %v", errs.ProtocolError, err)
	}
	if _, err := a.call(ctx, "enablepool", strconv.Itoa(slot)); err != nil {
		return fmt.Errorf("%w: enablepool: %v", errs.ProtocolError, err)
	}
	return nil
}

func (a *AvalonAdapter) Restart(ctx context.Context) error {
	if _, err := a.call(ctx, "restart", ""); err != nil {
		return fmt.Errorf("%w: restart: %v", errs.ProtocolError, err)
	}
	return nil
}

func (a *AvalonAdapter) IsOnline(ctx context.Context) bool {
	_, err := a.call(ctx, "summary", "")
	return err == nil
}

// Slots reads the device's current pool-slot table, used by the pool-slot
// sync job to mirror slot contents into MinerPoolSlot.
func (a *AvalonAdapter) Slots(ctx context.Context) ([]mf.MinerPoolSlot, error) {
	resp, err := a.call(ctx, "pools", "")
	if err != nil {
		return nil, err
	}
	list, _ := resp["POOLS"].([]any)
	out := make([]mf.MinerPoolSlot, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		slot := mf.MinerPoolSlot{LastSeen: time.Now()}
		if n, ok := m["POOL"]; ok {
			switch v := n.(type) {
			case float64:
				slot.SlotNumber = int(v)
			case string:
				slot.SlotNumber, _ = strconv.Atoi(v)
			}
		}
		url, _ := m["URL"].(string)
		host, portStr, splitErr := net.SplitHostPort(util.NormalizePoolURL(url))
		slot.PoolURL = host
		if splitErr == nil {
			slot.PoolPort, _ = strconv.Atoi(portStr)
		}
		slot.PoolUser, _ = m["User"].(string)
		if status, _ := m["Status"].(string); strings.EqualFold(status, "Alive") {
			slot.IsActive = true
		}
		out = append(out, slot)
	}
	return out, nil
}
