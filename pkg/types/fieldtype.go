// Package types defines the value model shared by the tablet read and write
// paths: field types, key models, versions, and typed datum parsing and
// comparison.
package types

import "fmt"

// FieldType identifies the physical type of a column.
type FieldType int

const (
	FieldTypeTinyInt FieldType = iota
	FieldTypeSmallInt
	FieldTypeInt
	FieldTypeBigInt
	FieldTypeLargeInt
	FieldTypeDecimal
	FieldTypeChar
	FieldTypeVarchar
	FieldTypeDate
	FieldTypeDateTime
	FieldTypeHLL
)

// String returns the canonical name of the field type.
func (t FieldType) String() string {
	switch t {
	case FieldTypeTinyInt:
		return "TINYINT"
	case FieldTypeSmallInt:
		return "SMALLINT"
	case FieldTypeInt:
		return "INT"
	case FieldTypeBigInt:
		return "BIGINT"
	case FieldTypeLargeInt:
		return "LARGEINT"
	case FieldTypeDecimal:
		return "DECIMAL"
	case FieldTypeChar:
		return "CHAR"
	case FieldTypeVarchar:
		return "VARCHAR"
	case FieldTypeDate:
		return "DATE"
	case FieldTypeDateTime:
		return "DATETIME"
	case FieldTypeHLL:
		return "HLL"
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType parses a canonical field type name.
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "TINYINT":
		return FieldTypeTinyInt, nil
	case "SMALLINT":
		return FieldTypeSmallInt, nil
	case "INT":
		return FieldTypeInt, nil
	case "BIGINT":
		return FieldTypeBigInt, nil
	case "LARGEINT":
		return FieldTypeLargeInt, nil
	case "DECIMAL":
		return FieldTypeDecimal, nil
	case "CHAR":
		return FieldTypeChar, nil
	case "VARCHAR":
		return FieldTypeVarchar, nil
	case "DATE":
		return FieldTypeDate, nil
	case "DATETIME":
		return FieldTypeDateTime, nil
	case "HLL":
		return FieldTypeHLL, nil
	}
	return 0, fmt.Errorf("types: unknown field type %q", s)
}

// AggrMethod is the aggregation applied to a value column when rows with
// equal keys are merged.
type AggrMethod int

const (
	AggrNone AggrMethod = iota
	AggrSum
	AggrMin
	AggrMax
	AggrReplace
)

// String returns the canonical name of the aggregation method.
func (m AggrMethod) String() string {
	switch m {
	case AggrNone:
		return "NONE"
	case AggrSum:
		return "SUM"
	case AggrMin:
		return "MIN"
	case AggrMax:
		return "MAX"
	case AggrReplace:
		return "REPLACE"
	}
	return fmt.Sprintf("AggrMethod(%d)", int(m))
}

// ParseAggrMethod parses a canonical aggregation method name. Empty
// means no aggregation.
func ParseAggrMethod(s string) (AggrMethod, error) {
	switch s {
	case "", "NONE":
		return AggrNone, nil
	case "SUM":
		return AggrSum, nil
	case "MIN":
		return AggrMin, nil
	case "MAX":
		return AggrMax, nil
	case "REPLACE":
		return AggrReplace, nil
	}
	return 0, fmt.Errorf("types: unknown aggregation method %q", s)
}

// KeysType selects the merge policy of a tablet.
type KeysType int

const (
	// DupKeys keeps every physical row; equal keys are not merged.
	DupKeys KeysType = iota
	// UniqueKeys keeps the newest version of each key; older versions and
	// tombstoned keys are dropped.
	UniqueKeys
	// AggKeys folds all rows with equal keys using each value column's
	// aggregation method.
	AggKeys
)

// String returns the canonical name of the keys type.
func (k KeysType) String() string {
	switch k {
	case DupKeys:
		return "DUP_KEYS"
	case UniqueKeys:
		return "UNIQUE_KEYS"
	case AggKeys:
		return "AGG_KEYS"
	}
	return fmt.Sprintf("KeysType(%d)", int(k))
}

// ParseKeysType parses a canonical keys type name.
func ParseKeysType(s string) (KeysType, error) {
	switch s {
	case "DUP_KEYS":
		return DupKeys, nil
	case "UNIQUE_KEYS":
		return UniqueKeys, nil
	case "AGG_KEYS":
		return AggKeys, nil
	}
	return 0, fmt.Errorf("types: unknown keys type %q", s)
}
