// Package alerts implements the built-in, cooldown-throttled alert checks
// (distinct from user-defined automation rules): miner-offline and
// miner-overheat conditions evaluated on a fixed schedule, each
// alert_type/miner pair suppressed for a configurable cooldown after it
// last fired.
package alerts

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// Store is the subset of *db.Store the alert checker needs.
type Store interface {
	EnabledMiners(family *mf.Family) ([]mf.Miner, error)
	LatestTelemetry(minerID uint) (*mf.Telemetry, error)
	EventsSince(eventType mf.EventType, since time.Time) ([]mf.Event, error)
	RecordEvent(e mf.Event) error
}

// offlineAfter is how long without a telemetry row before a miner is
// considered offline for alerting purposes.
const offlineAfter = 10 * time.Minute

// overheatThreshold is the temperature, in Celsius, at or above which a
// miner is considered overheating.
const overheatThreshold = 90.0

// Checker evaluates the built-in alert conditions once per tick.
type Checker struct {
	store    Store
	cooldown time.Duration
}

// New builds a Checker with the configured cooldown
// (alerts.cooldown_minutes, default 60).
func New(store Store, cooldown time.Duration) *Checker {
	if cooldown <= 0 {
		cooldown = 60 * time.Minute
	}
	return &Checker{store: store, cooldown: cooldown}
}

// alertType values distinguish the built-in checks within Event.Data.
const (
	alertOffline  = "miner_offline"
	alertOverheat = "miner_overheat"
)

// Fired is one alert raised by a Check call.
type Fired struct {
	MinerID   uint
	AlertType string
}

// Check evaluates every enabled miner against both built-in conditions and
// raises an Event for each one not currently in cooldown.
func (c *Checker) Check(now time.Time) ([]Fired, error) {
	miners, err := c.store.EnabledMiners(nil)
	if err != nil {
		return nil, fmt.Errorf("list enabled miners: %w", err)
	}

	recentlyFired, err := c.recentlyFired(now)
	if err != nil {
		return nil, err
	}

	var fired []Fired
	for _, m := range miners {
		latest, _ := c.store.LatestTelemetry(m.ID)

		if latest == nil || now.Sub(latest.Timestamp) > offlineAfter {
			if c.raise(m.ID, alertOffline, "miner offline: no telemetry in the last 10 minutes", recentlyFired, now) {
				fired = append(fired, Fired{MinerID: m.ID, AlertType: alertOffline})
			}
			continue
		}

		if latest.Temperature != nil && *latest.Temperature >= overheatThreshold {
			if c.raise(m.ID, alertOverheat, fmt.Sprintf("miner overheating: %.1f°C", *latest.Temperature), recentlyFired, now) {
				fired = append(fired, Fired{MinerID: m.ID, AlertType: alertOverheat})
			}
		}
	}
	return fired, nil
}

func (c *Checker) recentlyFired(now time.Time) (map[string]bool, error) {
	rows, err := c.store.EventsSince(mf.EventAlert, now.Add(-c.cooldown))
	if err != nil {
		return nil, fmt.Errorf("load recent alerts: %w", err)
	}
	out := make(map[string]bool, len(rows))
	for _, e := range rows {
		minerID, _ := toUint(e.Data["miner_id"])
		alertType, _ := e.Data["alert_type"].(string)
		if alertType == "" {
			continue
		}
		out[key(minerID, alertType)] = true
	}
	return out, nil
}

func (c *Checker) raise(minerID uint, alertType, message string, recentlyFired map[string]bool, now time.Time) bool {
	if recentlyFired[key(minerID, alertType)] {
		return false
	}
	_ = c.store.RecordEvent(mf.Event{
		Timestamp: now,
		EventType: mf.EventAlert,
		Source:    "alerts",
		Message:   message,
		Data:      mf.JSONMap{"miner_id": minerID, "alert_type": alertType},
	})
	recentlyFired[key(minerID, alertType)] = true
	return true
}

func key(minerID uint, alertType string) string {
	return fmt.Sprintf("%d:%s", minerID, alertType)
}

func toUint(v any) (uint, bool) {
	switch n := v.(type) {
	case float64:
		return uint(n), n >= 0
	case int:
		return uint(n), n >= 0
	case uint:
		return n, true
	}
	return 0, false
}
