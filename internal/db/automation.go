package db

import (
	"fmt"
	"time"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
)

// EnabledRulesByPriority returns every enabled automation rule ascending by
// priority.
func (s *Store) EnabledRulesByPriority() ([]mf.AutomationRule, error) {
	var rules []mf.AutomationRule
	err := s.db.Where("enabled = ?", true).Order("priority asc").Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled automation rules: %w", err)
	}
	return rules, nil
}

// RecordRuleExecution updates last_executed_at and the idempotency context
// for a rule after its action has run.
func (s *Store) RecordRuleExecution(ruleID uint, ctx mf.JSONMap) error {
	now := time.Now()
	res := s.db.Model(&mf.AutomationRule{}).Where("id = ?", ruleID).Updates(map[string]any{
		"last_executed_at":       now,
		"last_execution_context": ctx,
	})
	if res.Error != nil {
		return fmt.Errorf("record rule %d execution: %w", ruleID, res.Error)
	}
	return nil
}

// ClearRuleExecutionContext resets a rule's idempotency context once its
// trigger condition has cleared, leaving last_executed_at untouched.
func (s *Store) ClearRuleExecutionContext(ruleID uint) error {
	res := s.db.Model(&mf.AutomationRule{}).Where("id = ?", ruleID).
		Update("last_execution_context", nil)
	if res.Error != nil {
		return fmt.Errorf("clear rule %d execution context: %w", ruleID, res.Error)
	}
	return nil
}
