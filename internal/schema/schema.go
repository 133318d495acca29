// Package schema describes the column layout of a tablet: field types,
// key flags, bloom filter flags, and the short-key prefix used by the
// sparse index.
package schema

import (
	"fmt"

	"github.com/strataio/strata/pkg/types"
)

// FieldInfo describes one column of a tablet.
type FieldInfo struct {
	// Name is the column name, unique within the tablet.
	Name string `yaml:"name"`

	// Type is the physical column type.
	Type types.FieldType `yaml:"type"`

	// Length is the declared length for fixed-width character columns.
	Length int `yaml:"length"`

	// IsKey marks the column as part of the full key.
	IsKey bool `yaml:"is_key"`

	// IsBFColumn marks the column as carrying a bloom filter in each segment.
	IsBFColumn bool `yaml:"is_bf_column"`

	// Aggregation is the merge method applied to value columns.
	Aggregation types.AggrMethod `yaml:"aggregation"`
}

// Schema is the ordered column list of a tablet. Key columns form an
// unbroken prefix.
type Schema struct {
	fields            []FieldInfo
	numShortKeyFields int
	indexByName       map[string]int
}

// New builds a schema from an ordered field list. numShortKeyFields is the
// length of the short-key prefix carried by the sparse index.
func New(fields []FieldInfo, numShortKeyFields int) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema: no fields")
	}
	if numShortKeyFields < 0 || numShortKeyFields > len(fields) {
		return nil, fmt.Errorf("schema: num_short_key_fields %d out of range", numShortKeyFields)
	}
	idx := make(map[string]int, len(fields))
	sawValue := false
	for i, f := range fields {
		if _, dup := idx[f.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate column %q", f.Name)
		}
		idx[f.Name] = i
		if f.IsKey {
			if sawValue {
				return nil, fmt.Errorf("schema: key column %q after value columns", f.Name)
			}
		} else {
			sawValue = true
		}
	}
	return &Schema{fields: fields, numShortKeyFields: numShortKeyFields, indexByName: idx}, nil
}

// NumFields returns the number of columns.
func (s *Schema) NumFields() int { return len(s.fields) }

// Field returns the column at index i.
func (s *Schema) Field(i int) FieldInfo { return s.fields[i] }

// Fields returns the ordered column list.
func (s *Schema) Fields() []FieldInfo { return s.fields }

// NumShortKeyFields returns the short-key prefix length.
func (s *Schema) NumShortKeyFields() int { return s.numShortKeyFields }

// FieldIndex returns the index of the named column, or -1.
func (s *Schema) FieldIndex(name string) int {
	if i, ok := s.indexByName[name]; ok {
		return i
	}
	return -1
}

// FieldTypeByIndex returns the type of the column at index i.
func (s *Schema) FieldTypeByIndex(i int) types.FieldType {
	if i < 0 || i >= len(s.fields) {
		return types.FieldType(-1)
	}
	return s.fields[i].Type
}

// NumKeyFields returns the number of key columns.
func (s *Schema) NumKeyFields() int {
	n := 0
	for _, f := range s.fields {
		if f.IsKey {
			n++
		}
	}
	return n
}

// KeyColumnIDs returns the indices of all key columns in schema order.
func (s *Schema) KeyColumnIDs() []int {
	ids := make([]int, 0, len(s.fields))
	for i, f := range s.fields {
		if f.IsKey {
			ids = append(ids, i)
		}
	}
	return ids
}
