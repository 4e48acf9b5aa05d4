package model

// ValueType enumerates the supported claim value types.
type ValueType string

const (
	ValueNumber   ValueType = "number"
	ValueText     ValueType = "text"
	ValueEnum     ValueType = "enum"
	ValueCurrency ValueType = "currency"
)

// Valid reports whether vt is a known value type.
func (vt ValueType) Valid() bool {
	switch vt {
	case ValueNumber, ValueText, ValueEnum, ValueCurrency:
		return true
	default:
		return false
	}
}

// SourceTier is the trust level of an evidence source.
// PRIMARY is first-party (the competitor's own site), SECONDARY is third-party.
type SourceTier string

const (
	TierPrimary   SourceTier = "PRIMARY"
	TierSecondary SourceTier = "SECONDARY"
)

// FieldSpec describes one entry in the static field catalog: how values for
// the field are typed, how confident an extraction must be before promotion,
// and how much weight a change to the field carries.
type FieldSpec struct {
	Key                   string    `json:"key" yaml:"key"`
	Type                  ValueType `json:"type" yaml:"type"`
	Unit                  string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Enum                  []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
	ConfidenceThreshold   float64   `json:"confidence_threshold" yaml:"confidence_threshold"`
	RequiresPrimarySource bool      `json:"requires_primary_source" yaml:"requires_primary_source"`
	Required              bool      `json:"required" yaml:"required"`
	SeverityWeight        float64   `json:"severity_weight" yaml:"severity_weight"`
}

// FieldRegistry is an indexed, immutable collection of field specs.
// Built once at startup; never mutated at runtime.
type FieldRegistry struct {
	Fields   []FieldSpec
	byKey    map[string]*FieldSpec
	required []*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byKey:  make(map[string]*FieldSpec, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byKey[f.Key] = f
		if f.Required {
			r.required = append(r.required, f)
		}
	}
	return r
}

// ByKey returns the field spec for the given key, or nil if not found.
func (r *FieldRegistry) ByKey(key string) *FieldSpec {
	return r.byKey[key]
}

// Required returns all field specs marked required.
func (r *FieldRegistry) Required() []*FieldSpec {
	return r.required
}
