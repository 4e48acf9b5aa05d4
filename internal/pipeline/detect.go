package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/store"
)

// Detector turns committed (old, new) value pairs into deduplicated change
// events. It runs after every successful ledger apply.
type Detector struct {
	store store.Store
}

// NewDetector creates a Detector over the given store.
func NewDetector(st store.Store) *Detector {
	return &Detector{store: st}
}

// Detect emits an OPEN event for the transition, or nil when the values are
// equal or an identical transition was already recorded today. Idempotent
// under re-processing of the same evidence.
func (d *Detector) Detect(ctx context.Context, spec *model.FieldSpec, entityID string, old, new *model.Value) (*model.Event, error) {
	if valuesEqual(old, new) {
		return nil, nil
	}

	now := time.Now().UTC()
	dedupeKey := model.EventDedupeKey(entityID, spec.Key, old, new, now)

	existing, err := d.store.OpenEventByDedupe(ctx, dedupeKey)
	if err != nil {
		return nil, eris.Wrap(err, "detect: dedupe lookup")
	}
	if existing != nil {
		zap.L().Debug("detect: duplicate transition suppressed",
			zap.String("entity", entityID),
			zap.String("field", spec.Key),
			zap.String("event_id", existing.ID),
		)
		return nil, nil
	}

	event := model.Event{
		ID:         uuid.New().String(),
		EntityID:   entityID,
		FieldKey:   spec.Key,
		OldValue:   old,
		NewValue:   new,
		Severity:   SeverityFor(spec, old, new),
		DetectedAt: now,
		DedupeKey:  dedupeKey,
		Status:     model.EventOpen,
	}
	if err := d.store.CreateEvent(ctx, event); err != nil {
		return nil, eris.Wrap(err, "detect: create event")
	}

	zap.L().Info("detect: change event",
		zap.String("entity", entityID),
		zap.String("field", spec.Key),
		zap.String("severity", string(event.Severity)),
	)
	return &event, nil
}

// SeverityFor classifies a transition: HIGH when the field carries heavy
// weight or a required field appears or disappears, MEDIUM for mid-weight
// fields, LOW otherwise.
func SeverityFor(spec *model.FieldSpec, old, new *model.Value) model.Severity {
	nullTransition := (old == nil) != (new == nil)
	switch {
	case spec.SeverityWeight >= 0.7, spec.Required && nullTransition:
		return model.SeverityHigh
	case spec.SeverityWeight >= 0.3:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func valuesEqual(a, b *model.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
