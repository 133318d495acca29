// Package predicate implements typed column conditions: parsing from the
// wire form, per-row evaluation, and zone evaluation against column
// min/max statistics for segment pruning and delete pruning.
package predicate

import (
	"fmt"
	"strings"

	"github.com/strataio/strata/internal/errors"
)

// Op is a comparison operator carried by a condition.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpNotIn
	OpIsNull
	OpIsNotNull
)

// String returns the wire form of the operator.
func (op Op) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<<"
	case OpLe:
		return "<="
	case OpGt:
		return ">>"
	case OpGe:
		return ">="
	case OpIn:
		return "*="
	case OpNotIn:
		return "!*="
	case OpIsNull:
		return "is null"
	case OpIsNotNull:
		return "is not null"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Condition is the untyped wire form of a single-column filter. Op uses the
// engine's operator tokens:
//
//	*=   equality, or IN when more than one value is given
//	!*=  inequality, or NOT IN when more than one value is given
//	<<   less than
//	<=   less or equal
//	>>   greater than
//	>=   greater or equal
//	is   null test, the single value is "null" or "not null"
type Condition struct {
	ColumnName string
	Op         string
	Values     []string
}

// parseOp resolves the wire token against the value count. "*=" with one
// value is plain equality, with several it is an IN list.
func parseOp(token string, values []string) (Op, error) {
	switch token {
	case "*=", "=":
		if len(values) > 1 {
			return OpIn, nil
		}
		return OpEq, nil
	case "!*=", "!=":
		if len(values) > 1 {
			return OpNotIn, nil
		}
		return OpNe, nil
	case "<<", "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">>", ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	case "is", "IS":
		if len(values) != 1 {
			return 0, errors.NewValidationError(errors.CodeInputParameter,
				"is condition requires exactly one value")
		}
		switch strings.ToLower(strings.TrimSpace(values[0])) {
		case "null":
			return OpIsNull, nil
		case "not null":
			return OpIsNotNull, nil
		}
		return 0, errors.NewValidationError(errors.CodeInputParameter,
			fmt.Sprintf("bad is-condition value %q", values[0]))
	}
	return 0, errors.NewValidationError(errors.CodeInputParameter,
		fmt.Sprintf("unknown condition operator %q", token))
}
