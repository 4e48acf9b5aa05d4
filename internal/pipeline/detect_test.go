package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/store"
)

func TestDetectNoEventWhenEqual(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s)
	spec := priceSpec()
	ctx := context.Background()

	v := numVal(49)
	ev, err := d.Detect(ctx, spec, "acme", &v, &v)
	require.NoError(t, err)
	assert.Nil(t, ev)

	// Both null is also no change.
	ev, err = d.Detect(ctx, spec, "acme", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDetectDedupeSameDay(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s)
	spec := priceSpec()
	ctx := context.Background()

	old := numVal(49)
	nu := numVal(59)

	first, err := d.Detect(ctx, spec, "acme", &old, &nu)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, model.EventOpen, first.Status)

	// Identical transition on the same day is suppressed.
	second, err := d.Detect(ctx, spec, "acme", &old, &nu)
	require.NoError(t, err)
	assert.Nil(t, second)

	events, err := s.ListEvents(ctx, store.EventFilter{EntityID: "acme"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// A different transition is its own event.
	further := numVal(69)
	third, err := d.Detect(ctx, spec, "acme", &nu, &further)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestSeverityFor(t *testing.T) {
	heavy := &model.FieldSpec{Key: "base_price", SeverityWeight: 0.9}
	mid := &model.FieldSpec{Key: "seat_limit", SeverityWeight: 0.5}
	light := &model.FieldSpec{Key: "tagline", SeverityWeight: 0.1}
	requiredLight := &model.FieldSpec{Key: "plan_name", SeverityWeight: 0.1, Required: true}

	v := numVal(49)

	assert.Equal(t, model.SeverityHigh, SeverityFor(heavy, &v, &v))
	assert.Equal(t, model.SeverityMedium, SeverityFor(mid, &v, &v))
	assert.Equal(t, model.SeverityLow, SeverityFor(light, &v, &v))

	// Null transition on a required field escalates regardless of weight.
	assert.Equal(t, model.SeverityHigh, SeverityFor(requiredLight, nil, &v))
	assert.Equal(t, model.SeverityHigh, SeverityFor(requiredLight, &v, nil))
	assert.Equal(t, model.SeverityLow, SeverityFor(requiredLight, &v, &v))
}
