package model

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// ScopeAll matches every entity or field in a rule scope.
const ScopeAll = "ALL"

// RuleCondition is the predicate an alert rule applies to matching events.
type RuleCondition string

const (
	CondChanged  RuleCondition = "CHANGED"
	CondGT       RuleCondition = "GT"
	CondLT       RuleCondition = "LT"
	CondContains RuleCondition = "CONTAINS"
)

// AlertRule is a user-managed notification rule evaluated against open
// events. Threshold is the numeric bound for GT/LT or the substring for
// CONTAINS; it is unused for CHANGED.
type AlertRule struct {
	ID          string        `json:"id"`
	EntityScope string        `json:"entity_scope"` // ALL or an entity id
	FieldScope  string        `json:"field_scope"`  // ALL or a field key
	Condition   RuleCondition `json:"condition"`
	Threshold   string        `json:"threshold,omitempty"`
	Channels    []string      `json:"channels"`
	Enabled     bool          `json:"enabled"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Validate checks rule shape at registration time.
func (r AlertRule) Validate() error {
	switch r.Condition {
	case CondChanged:
	case CondGT, CondLT:
		if _, err := strconv.ParseFloat(r.Threshold, 64); err != nil {
			return eris.Errorf("model: rule %s: %s threshold %q is not numeric", r.ID, r.Condition, r.Threshold)
		}
	case CondContains:
		if r.Threshold == "" {
			return eris.Errorf("model: rule %s: CONTAINS requires a substring threshold", r.ID)
		}
	default:
		return eris.Errorf("model: rule %s: unknown condition %q", r.ID, r.Condition)
	}
	if len(r.Channels) == 0 {
		return eris.Errorf("model: rule %s: no channels", r.ID)
	}
	return nil
}

// NumericThreshold parses the threshold for GT/LT conditions.
func (r AlertRule) NumericThreshold() (float64, error) {
	f, err := strconv.ParseFloat(r.Threshold, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "model: rule %s threshold", r.ID)
	}
	return f, nil
}

// DispatchStatus is the terminal outcome of one dispatch attempt series.
type DispatchStatus string

const (
	DispatchSent   DispatchStatus = "SENT"
	DispatchFailed DispatchStatus = "FAILED"
)

// DispatchRecord is the append-only record of a notification attempt for an
// (event, rule, channel) triple. A SENT row suppresses re-notification on
// later matcher cycles.
type DispatchRecord struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	RuleID       string         `json:"rule_id"`
	Channel      string         `json:"channel"`
	Status       DispatchStatus `json:"status"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty"`
	DispatchedAt time.Time      `json:"dispatched_at"`
}
