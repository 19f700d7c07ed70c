package minerfleet

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSONMap is the schemaless blob column type used for every opaque,
// per-family or per-strategy structure in the data model (Miner.Config,
// Telemetry.Data, AutomationRule.TriggerConfig/ActionConfig,
// PoolStrategy.Config, AgileStrategyBand.FamilyModes, AgileStrategy.StateData,
// Event.Data, AuditLog.Changes). The blob stays schemaless at the storage
// layer and is decoded into a typed variant at the consumer boundary by
// miner_type / strategy_type / trigger_type / action_type.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal JSONMap: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JSONMap: %T", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal JSONMap: %w", err)
	}
	*m = out
	return nil
}

// Uints is a comma-separated ordered list of ids, used for PoolStrategy's
// PoolIDs/MinerIDs columns where insertion order is semantically
// meaningful (round-robin cycling, load-balance distribution).
type Uints []uint

func (u Uints) Value() (driver.Value, error) {
	if len(u) == 0 {
		return "", nil
	}
	parts := make([]string, len(u))
	for i, v := range u {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ","), nil
}

func (u *Uints) Scan(value any) error {
	if value == nil {
		*u = nil
		return nil
	}
	var s string
	switch v := value.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("unsupported Scan type for Uints: %T", value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*u = nil
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return fmt.Errorf("parse Uints element %q: %w", p, err)
		}
		out = append(out, uint(n))
	}
	*u = out
	return nil
}

// Contains reports whether id is present in u.
func (u Uints) Contains(id uint) bool {
	for _, v := range u {
		if v == id {
			return true
		}
	}
	return false
}
