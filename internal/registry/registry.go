package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/compintel-cli/internal/model"
)

type catalogFile struct {
	Fields []model.FieldSpec `yaml:"fields"`
}

// Load reads the static field catalog from a YAML file and returns an
// indexed FieldRegistry. Malformed entries are skipped with a warning;
// duplicate keys are an error since two specs for one field would make
// promotion decisions ambiguous.
func Load(path string) (*model.FieldRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read catalog %s", path)
	}
	return Parse(data)
}

// Parse builds a FieldRegistry from raw catalog YAML.
func Parse(data []byte) (*model.FieldRegistry, error) {
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal catalog")
	}

	seen := make(map[string]bool, len(cat.Fields))
	var fields []model.FieldSpec
	for _, f := range cat.Fields {
		if err := validateSpec(f); err != nil {
			zap.L().Warn("registry: skipping malformed field spec",
				zap.String("field_key", f.Key),
				zap.Error(err),
			)
			continue
		}
		if seen[f.Key] {
			return nil, eris.Errorf("registry: duplicate field key %q", f.Key)
		}
		seen[f.Key] = true
		fields = append(fields, f)
	}

	if len(fields) == 0 {
		return nil, eris.New("registry: catalog has no valid fields")
	}

	return model.NewFieldRegistry(fields), nil
}

func validateSpec(f model.FieldSpec) error {
	if f.Key == "" {
		return eris.New("missing key")
	}
	if !f.Type.Valid() {
		return eris.Errorf("unknown value type %q", f.Type)
	}
	if f.ConfidenceThreshold < 0 || f.ConfidenceThreshold > 1 {
		return eris.Errorf("confidence_threshold %v outside [0,1]", f.ConfidenceThreshold)
	}
	if f.SeverityWeight < 0 || f.SeverityWeight > 1 {
		return eris.Errorf("severity_weight %v outside [0,1]", f.SeverityWeight)
	}
	if f.Type == model.ValueEnum && len(f.Enum) == 0 {
		return eris.New("enum type with no enum values")
	}
	return nil
}
