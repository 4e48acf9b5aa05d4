package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCatalog = `
fields:
  - key: base_price
    type: currency
    unit: USD
    confidence_threshold: 0.8
    required: true
    severity_weight: 0.9
  - key: pricing_model
    type: enum
    enum: [flat, usage, seat]
    confidence_threshold: 0.7
    severity_weight: 0.5
  - key: tagline
    type: text
    confidence_threshold: 0.5
    severity_weight: 0.1
`

func TestParse_ValidCatalog(t *testing.T) {
	reg, err := Parse([]byte(validCatalog))
	require.NoError(t, err)

	require.Len(t, reg.Fields, 3)

	bp := reg.ByKey("base_price")
	require.NotNil(t, bp)
	assert.Equal(t, 0.8, bp.ConfidenceThreshold)
	assert.True(t, bp.Required)
	assert.Equal(t, "USD", bp.Unit)

	assert.Len(t, reg.Required(), 1)
}

func TestParse_SkipsMalformedEntries(t *testing.T) {
	catalog := `
fields:
  - key: good
    type: text
    confidence_threshold: 0.5
  - key: bad_threshold
    type: text
    confidence_threshold: 1.5
  - key: bad_enum
    type: enum
    confidence_threshold: 0.5
  - type: number
    confidence_threshold: 0.5
`
	reg, err := Parse([]byte(catalog))
	require.NoError(t, err)
	assert.Len(t, reg.Fields, 1)
	assert.NotNil(t, reg.ByKey("good"))
}

func TestParse_DuplicateKeyErrors(t *testing.T) {
	catalog := `
fields:
  - key: twice
    type: text
    confidence_threshold: 0.5
  - key: twice
    type: number
    confidence_threshold: 0.6
`
	_, err := Parse([]byte(catalog))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate field key")
}

func TestParse_EmptyCatalogErrors(t *testing.T) {
	_, err := Parse([]byte("fields: []"))
	assert.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validCatalog), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reg.Fields, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
