package db

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// RecordEvent appends one Event row, stamping Timestamp if the caller left
// it zero.
func (s *Store) RecordEvent(e mf.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if err := s.db.Create(&e).Error; err != nil {
		return fmt.Errorf("record event from %s: %w", e.Source, err)
	}
	return nil
}

// EventsSince returns every Event row of eventType at or after since,
// ordered newest first. Used by the alert-cooldown check to find
// the last time a given (miner, alert_type) pair fired without a
// dedicated cooldown table.
func (s *Store) EventsSince(eventType mf.EventType, since time.Time) ([]mf.Event, error) {
	var rows []mf.Event
	err := s.db.Where("event_type = ? AND timestamp >= ?", eventType, since).
		Order("timestamp desc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("events since %s of type %s: %w", since, eventType, err)
	}
	return rows, nil
}

// RecordAudit appends one AuditLog row, stamping Timestamp if the caller
// left it zero.
func (s *Store) RecordAudit(a mf.AuditLog) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if err := s.db.Create(&a).Error; err != nil {
		return fmt.Errorf("record audit action %s: %w", a.Action, err)
	}
	return nil
}
