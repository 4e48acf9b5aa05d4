package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/currency"
)

// ErrInvalidValue marks a raw value that does not conform to its field spec.
// Candidates carrying such values are rejected, never promoted.
var ErrInvalidValue = eris.New("model: invalid value")

// Value is a typed claim value: a tagged union over ValueType. Exactly the
// fields relevant to Type are populated.
type Value struct {
	Type     ValueType `json:"type"`
	Number   float64   `json:"number,omitempty"`   // number and currency amount
	Text     string    `json:"text,omitempty"`     // text and enum
	Currency string    `json:"currency,omitempty"` // ISO 4217 code, currency only
}

// ParseValue validates a raw extracted value against the field spec and
// returns the typed Value. Raw values come from the extraction adapter as
// decoded JSON, so numbers may arrive as float64, json.Number, or strings.
func ParseValue(spec *FieldSpec, raw any) (Value, error) {
	if raw == nil {
		return Value{}, eris.Wrap(ErrInvalidValue, "null raw value")
	}

	switch spec.Type {
	case ValueNumber:
		n, err := toNumber(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: ValueNumber, Number: n}, nil

	case ValueText:
		s, ok := raw.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return Value{}, eris.Wrapf(ErrInvalidValue, "field %s: expected non-empty text, got %T", spec.Key, raw)
		}
		return Value{Type: ValueText, Text: strings.TrimSpace(s)}, nil

	case ValueEnum:
		s, ok := raw.(string)
		if !ok {
			return Value{}, eris.Wrapf(ErrInvalidValue, "field %s: expected enum string, got %T", spec.Key, raw)
		}
		s = strings.TrimSpace(s)
		if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
			return Value{}, eris.Wrapf(ErrInvalidValue, "field %s: %q not in enum %v", spec.Key, s, spec.Enum)
		}
		return Value{Type: ValueEnum, Text: s}, nil

	case ValueCurrency:
		return parseCurrency(spec, raw)

	default:
		return Value{}, eris.Wrapf(ErrInvalidValue, "field %s: unknown value type %q", spec.Key, spec.Type)
	}
}

// parseCurrency accepts either a bare number (unit taken from the field spec)
// or an {amount, currency} object. The ISO code is validated.
func parseCurrency(spec *FieldSpec, raw any) (Value, error) {
	code := spec.Unit

	switch v := raw.(type) {
	case map[string]any:
		amt, ok := v["amount"]
		if !ok {
			return Value{}, eris.Wrapf(ErrInvalidValue, "field %s: currency object missing amount", spec.Key)
		}
		n, err := toNumber(amt)
		if err != nil {
			return Value{}, err
		}
		if c, ok := v["currency"].(string); ok && c != "" {
			code = c
		}
		return newCurrency(spec, n, code)
	default:
		n, err := toNumber(raw)
		if err != nil {
			return Value{}, err
		}
		return newCurrency(spec, n, code)
	}
}

func newCurrency(spec *FieldSpec, amount float64, code string) (Value, error) {
	if code == "" {
		return Value{}, eris.Wrapf(ErrInvalidValue, "field %s: no currency code", spec.Key)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Value{}, eris.Wrapf(ErrInvalidValue, "field %s: bad currency code %q", spec.Key, code)
	}
	return Value{Type: ValueCurrency, Number: amount, Currency: unit.String()}, nil
}

func toNumber(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, eris.Wrapf(ErrInvalidValue, "bad number %q", v.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, eris.Wrapf(ErrInvalidValue, "bad number %q", v)
		}
		return f, nil
	default:
		return 0, eris.Wrapf(ErrInvalidValue, "expected number, got %T", raw)
	}
}

// Equal reports whether two values are identical.
func (v Value) Equal(o Value) bool {
	return v.Type == o.Type && v.Number == o.Number && v.Text == o.Text && v.Currency == o.Currency
}

// Numeric returns the numeric magnitude of the value for threshold
// comparisons, and whether the value has one.
func (v Value) Numeric() (float64, bool) {
	switch v.Type {
	case ValueNumber, ValueCurrency:
		return v.Number, true
	default:
		return 0, false
	}
}

// String renders the value for display and for dedupe hashing.
func (v Value) String() string {
	switch v.Type {
	case ValueNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ValueCurrency:
		return fmt.Sprintf("%s %s", strconv.FormatFloat(v.Number, 'f', -1, 64), v.Currency)
	default:
		return v.Text
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
