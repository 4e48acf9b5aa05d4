package model

import (
	"encoding/json"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberSpec() *FieldSpec {
	return &FieldSpec{Key: "employee_count", Type: ValueNumber}
}

func TestParseValue_Number(t *testing.T) {
	spec := numberSpec()

	for _, raw := range []any{42.0, 42, int64(42), json.Number("42"), "42"} {
		v, err := ParseValue(spec, raw)
		require.NoError(t, err, "raw %T", raw)
		assert.Equal(t, ValueNumber, v.Type)
		assert.Equal(t, 42.0, v.Number)
	}
}

func TestParseValue_NumberInvalid(t *testing.T) {
	_, err := ParseValue(numberSpec(), "forty-two")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidValue))
}

func TestParseValue_TextTrimsAndRejectsEmpty(t *testing.T) {
	spec := &FieldSpec{Key: "tagline", Type: ValueText}

	v, err := ParseValue(spec, "  fast and cheap  ")
	require.NoError(t, err)
	assert.Equal(t, "fast and cheap", v.Text)

	_, err = ParseValue(spec, "   ")
	assert.True(t, eris.Is(err, ErrInvalidValue))

	_, err = ParseValue(spec, 7)
	assert.True(t, eris.Is(err, ErrInvalidValue))
}

func TestParseValue_EnumMembership(t *testing.T) {
	spec := &FieldSpec{Key: "pricing_model", Type: ValueEnum, Enum: []string{"flat", "usage", "seat"}}

	v, err := ParseValue(spec, "usage")
	require.NoError(t, err)
	assert.Equal(t, "usage", v.Text)

	_, err = ParseValue(spec, "freemium")
	assert.True(t, eris.Is(err, ErrInvalidValue))
}

func TestParseValue_CurrencyObject(t *testing.T) {
	spec := &FieldSpec{Key: "base_price", Type: ValueCurrency, Unit: "USD"}

	v, err := ParseValue(spec, map[string]any{"amount": 49.99, "currency": "EUR"})
	require.NoError(t, err)
	assert.Equal(t, ValueCurrency, v.Type)
	assert.Equal(t, 49.99, v.Number)
	assert.Equal(t, "EUR", v.Currency)
}

func TestParseValue_CurrencyBareNumberUsesUnit(t *testing.T) {
	spec := &FieldSpec{Key: "base_price", Type: ValueCurrency, Unit: "USD"}

	v, err := ParseValue(spec, 100.0)
	require.NoError(t, err)
	assert.Equal(t, "USD", v.Currency)
}

func TestParseValue_CurrencyBadCode(t *testing.T) {
	spec := &FieldSpec{Key: "base_price", Type: ValueCurrency, Unit: "USD"}

	_, err := ParseValue(spec, map[string]any{"amount": 1.0, "currency": "DOLLARS"})
	assert.True(t, eris.Is(err, ErrInvalidValue))
}

func TestParseValue_Null(t *testing.T) {
	_, err := ParseValue(numberSpec(), nil)
	assert.True(t, eris.Is(err, ErrInvalidValue))
}

func TestValue_Equal(t *testing.T) {
	a := Value{Type: ValueCurrency, Number: 49.99, Currency: "USD"}
	b := Value{Type: ValueCurrency, Number: 49.99, Currency: "USD"}
	c := Value{Type: ValueCurrency, Number: 59.99, Currency: "USD"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Value{Type: ValueNumber, Number: 49.99}))
}

func TestValue_Numeric(t *testing.T) {
	n, ok := Value{Type: ValueNumber, Number: 3.5}.Numeric()
	assert.True(t, ok)
	assert.Equal(t, 3.5, n)

	n, ok = Value{Type: ValueCurrency, Number: 12, Currency: "USD"}.Numeric()
	assert.True(t, ok)
	assert.Equal(t, 12.0, n)

	_, ok = Value{Type: ValueText, Text: "x"}.Numeric()
	assert.False(t, ok)
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "42", Value{Type: ValueNumber, Number: 42}.String())
	assert.Equal(t, "49.99 USD", Value{Type: ValueCurrency, Number: 49.99, Currency: "USD"}.String())
	assert.Equal(t, "usage", Value{Type: ValueEnum, Text: "usage"}.String())
}
