package tablet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

// Spec is the on-disk description of a tablet, loaded from YAML when a
// tablet is created.
type Spec struct {
	KeysType          string      `yaml:"keys_type"`
	NumShortKeyFields int         `yaml:"num_short_key_fields"`
	Fields            []FieldSpec `yaml:"fields"`
}

// FieldSpec describes one column with type names in their canonical
// string form.
type FieldSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Length      int    `yaml:"length"`
	IsKey       bool   `yaml:"is_key"`
	IsBFColumn  bool   `yaml:"is_bf_column"`
	Aggregation string `yaml:"aggregation"`
}

// LoadSpec reads and resolves a tablet spec file.
func LoadSpec(path string) (*schema.Schema, types.KeysType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("tablet: read spec file: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, 0, fmt.Errorf("tablet: parse spec file: %w", err)
	}
	return spec.Resolve()
}

// Resolve parses the spec's type names and builds the schema.
func (sp *Spec) Resolve() (*schema.Schema, types.KeysType, error) {
	keysType, err := types.ParseKeysType(sp.KeysType)
	if err != nil {
		return nil, 0, err
	}
	fields := make([]schema.FieldInfo, len(sp.Fields))
	for i, f := range sp.Fields {
		ft, err := types.ParseFieldType(f.Type)
		if err != nil {
			return nil, 0, fmt.Errorf("tablet: column %q: %w", f.Name, err)
		}
		agg, err := types.ParseAggrMethod(f.Aggregation)
		if err != nil {
			return nil, 0, fmt.Errorf("tablet: column %q: %w", f.Name, err)
		}
		fields[i] = schema.FieldInfo{
			Name:        f.Name,
			Type:        ft,
			Length:      f.Length,
			IsKey:       f.IsKey,
			IsBFColumn:  f.IsBFColumn,
			Aggregation: agg,
		}
	}
	s, err := schema.New(fields, sp.NumShortKeyFields)
	if err != nil {
		return nil, 0, err
	}
	return s, keysType, nil
}
