package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventDedupeKey_SameTransitionSameDay(t *testing.T) {
	old := &Value{Type: ValueNumber, Number: 10}
	new := &Value{Type: ValueNumber, Number: 20}
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)

	assert.Equal(t,
		EventDedupeKey("acme", "employee_count", old, new, day),
		EventDedupeKey("acme", "employee_count", old, new, later),
	)
}

func TestEventDedupeKey_DifferentDayDiffers(t *testing.T) {
	old := &Value{Type: ValueNumber, Number: 10}
	new := &Value{Type: ValueNumber, Number: 20}
	d1 := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.NotEqual(t,
		EventDedupeKey("acme", "employee_count", old, new, d1),
		EventDedupeKey("acme", "employee_count", old, new, d2),
	)
}

func TestEventDedupeKey_NullDistinctFromEmpty(t *testing.T) {
	day := time.Now().UTC()
	empty := &Value{Type: ValueText, Text: ""}

	assert.NotEqual(t,
		EventDedupeKey("acme", "tagline", nil, empty, day),
		EventDedupeKey("acme", "tagline", empty, nil, day),
	)
}

func TestFieldRegistry_Indexing(t *testing.T) {
	r := NewFieldRegistry([]FieldSpec{
		{Key: "base_price", Type: ValueCurrency, Required: true},
		{Key: "tagline", Type: ValueText},
	})

	assert.NotNil(t, r.ByKey("base_price"))
	assert.Nil(t, r.ByKey("missing"))
	assert.Len(t, r.Required(), 1)
	assert.Equal(t, "base_price", r.Required()[0].Key)
}
