package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Severity classifies how significant a detected change is.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// EventStatus is the lifecycle state of a change event.
type EventStatus string

const (
	EventOpen   EventStatus = "OPEN"
	EventClosed EventStatus = "CLOSED"
)

// Event records a detected change in a promoted value. Events are never
// deleted; they transition OPEN to CLOSED when acknowledged.
type Event struct {
	ID         string      `json:"id"`
	EntityID   string      `json:"entity_id"`
	FieldKey   string      `json:"field_key"`
	OldValue   *Value      `json:"old_value,omitempty"`
	NewValue   *Value      `json:"new_value,omitempty"`
	Severity   Severity    `json:"severity"`
	DetectedAt time.Time   `json:"detected_at"`
	DedupeKey  string      `json:"dedupe_key"`
	Status     EventStatus `json:"status"`
}

// EventDedupeKey hashes the transition with a day bucket so identical
// old/new pairs for the same key on the same day collapse to one event.
func EventDedupeKey(entityID, fieldKey string, old, new *Value, day time.Time) string {
	parts := []string{
		entityID,
		fieldKey,
		valueKey(old),
		valueKey(new),
		day.UTC().Format("2006-01-02"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func valueKey(v *Value) string {
	if v == nil {
		return "∅"
	}
	return string(v.Type) + ":" + v.String()
}
