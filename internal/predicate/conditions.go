package predicate

import (
	"fmt"

	"github.com/strataio/strata/internal/errors"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

// Satisfied is the zone evaluation result of a delete condition: whether the
// condition holds for all rows of the zone, some of them, or none.
type Satisfied int

const (
	DelNotSatisfied Satisfied = iota
	DelPartialSatisfied
	DelSatisfied
)

// Cond is one typed condition bound to a column. Operands are parsed into
// the column's datum representation at build time so row and zone
// evaluation are plain datum comparisons.
type Cond struct {
	op       Op
	operand  types.Datum
	operands []types.Datum
	inSet    map[string]struct{}
}

// newCond parses the wire condition values for the given column type.
func newCond(field schema.FieldInfo, op Op, values []string) (*Cond, error) {
	c := &Cond{op: op}
	switch op {
	case OpIsNull, OpIsNotNull:
		return c, nil
	case OpIn, OpNotIn:
		c.operands = make([]types.Datum, 0, len(values))
		c.inSet = make(map[string]struct{}, len(values))
		for _, v := range values {
			d, err := types.ParseDatum(field.Type, field.Length, v)
			if err != nil {
				return nil, errors.NewValidationError(errors.CodeInputParameter,
					fmt.Sprintf("column %s: %v", field.Name, err))
			}
			c.operands = append(c.operands, d)
			c.inSet[inKey(d)] = struct{}{}
		}
		return c, nil
	}
	if len(values) != 1 {
		return nil, errors.NewValidationError(errors.CodeInputParameter,
			fmt.Sprintf("column %s: operator %s requires exactly one value", field.Name, op))
	}
	d, err := types.ParseDatum(field.Type, field.Length, values[0])
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInputParameter,
			fmt.Sprintf("column %s: %v", field.Name, err))
	}
	c.operand = d
	return c, nil
}

// inKey renders a datum as a set key for IN membership tests.
func inKey(d types.Datum) string {
	return fmt.Sprintf("%v", d)
}

// Op returns the condition's operator.
func (c *Cond) Op() Op { return c.op }

// Operand returns the single comparison value, nil for IN and null tests.
func (c *Cond) Operand() types.Datum { return c.operand }

// Operands returns the IN list values, nil for other operators.
func (c *Cond) Operands() []types.Datum { return c.operands }

// NumOperands returns the number of values carried by the condition.
func (c *Cond) NumOperands() int {
	if c.operands != nil {
		return len(c.operands)
	}
	if c.operand != nil {
		return 1
	}
	return 0
}

// EvalRow reports whether a single column value satisfies the condition.
// NULL satisfies only "is null".
func (c *Cond) EvalRow(d types.Datum) bool {
	switch c.op {
	case OpIsNull:
		return d == nil
	case OpIsNotNull:
		return d != nil
	}
	if d == nil {
		return false
	}
	switch c.op {
	case OpEq:
		return types.CompareDatum(d, c.operand) == 0
	case OpNe:
		return types.CompareDatum(d, c.operand) != 0
	case OpLt:
		return types.CompareDatum(d, c.operand) < 0
	case OpLe:
		return types.CompareDatum(d, c.operand) <= 0
	case OpGt:
		return types.CompareDatum(d, c.operand) > 0
	case OpGe:
		return types.CompareDatum(d, c.operand) >= 0
	case OpIn:
		_, ok := c.inSet[inKey(d)]
		return ok
	case OpNotIn:
		_, ok := c.inSet[inKey(d)]
		return !ok
	}
	return false
}

// EvalZone reports whether a zone with the given min/max could contain a
// satisfying row. hasNull tells whether the zone stores any NULLs; min and
// max describe the non-NULL values and may be nil for an all-NULL zone.
func (c *Cond) EvalZone(min, max types.Datum, hasNull bool) bool {
	switch c.op {
	case OpIsNull:
		return hasNull
	case OpIsNotNull:
		return min != nil
	}
	if min == nil || max == nil {
		return false
	}
	switch c.op {
	case OpEq:
		return types.CompareDatum(c.operand, min) >= 0 && types.CompareDatum(c.operand, max) <= 0
	case OpNe:
		return !(types.CompareDatum(c.operand, min) == 0 && types.CompareDatum(c.operand, max) == 0)
	case OpLt:
		return types.CompareDatum(min, c.operand) < 0
	case OpLe:
		return types.CompareDatum(min, c.operand) <= 0
	case OpGt:
		return types.CompareDatum(max, c.operand) > 0
	case OpGe:
		return types.CompareDatum(max, c.operand) >= 0
	case OpIn:
		for _, d := range c.operands {
			if types.CompareDatum(d, min) >= 0 && types.CompareDatum(d, max) <= 0 {
				return true
			}
		}
		return false
	case OpNotIn:
		if types.CompareDatum(min, max) == 0 {
			_, ok := c.inSet[inKey(min)]
			return !ok
		}
		return true
	}
	return true
}

// EvalZoneDelete classifies a zone against the condition for delete
// pruning: satisfied for every row, for some rows, or for none.
func (c *Cond) EvalZoneDelete(min, max types.Datum, hasNull bool) Satisfied {
	switch c.op {
	case OpIsNull:
		if hasNull && min == nil {
			return DelSatisfied
		}
		if hasNull {
			return DelPartialSatisfied
		}
		return DelNotSatisfied
	case OpIsNotNull:
		if !hasNull {
			return DelSatisfied
		}
		if min != nil {
			return DelPartialSatisfied
		}
		return DelNotSatisfied
	}
	if min == nil || max == nil {
		return DelNotSatisfied
	}
	cmpMin := types.CompareDatum(c.operand, min)
	cmpMax := types.CompareDatum(c.operand, max)
	switch c.op {
	case OpEq:
		if cmpMin == 0 && cmpMax == 0 {
			return DelSatisfied
		}
		if cmpMin >= 0 && cmpMax <= 0 {
			return DelPartialSatisfied
		}
		return DelNotSatisfied
	case OpNe:
		if cmpMin == 0 && cmpMax == 0 {
			return DelNotSatisfied
		}
		if cmpMin < 0 || cmpMax > 0 {
			return DelSatisfied
		}
		return DelPartialSatisfied
	case OpLt:
		if cmpMax > 0 {
			return DelSatisfied
		}
		if cmpMin > 0 {
			return DelPartialSatisfied
		}
		return DelNotSatisfied
	case OpLe:
		if cmpMax >= 0 {
			return DelSatisfied
		}
		if cmpMin >= 0 {
			return DelPartialSatisfied
		}
		return DelNotSatisfied
	case OpGt:
		if cmpMin < 0 {
			return DelSatisfied
		}
		if cmpMax < 0 {
			return DelPartialSatisfied
		}
		return DelNotSatisfied
	case OpGe:
		if cmpMin <= 0 {
			return DelSatisfied
		}
		if cmpMax <= 0 {
			return DelPartialSatisfied
		}
		return DelNotSatisfied
	}
	return DelPartialSatisfied
}

// CondColumn is the conjunction of all conditions bound to one column.
type CondColumn struct {
	columnID int
	field    schema.FieldInfo
	conds    []*Cond
}

// ColumnID returns the schema index of the column.
func (cc *CondColumn) ColumnID() int { return cc.columnID }

// Conds returns the column's conditions.
func (cc *CondColumn) Conds() []*Cond { return cc.conds }

// EvalRow reports whether the value satisfies every condition on the column.
func (cc *CondColumn) EvalRow(d types.Datum) bool {
	for _, c := range cc.conds {
		if !c.EvalRow(d) {
			return false
		}
	}
	return true
}

// EvalZone reports whether the zone could contain a row satisfying every
// condition on the column.
func (cc *CondColumn) EvalZone(min, max types.Datum, hasNull bool) bool {
	for _, c := range cc.conds {
		if !c.EvalZone(min, max, hasNull) {
			return false
		}
	}
	return true
}

// EvalZoneDelete folds the per-condition delete classification: satisfied
// only when every condition is, not satisfied when any condition is not.
func (cc *CondColumn) EvalZoneDelete(min, max types.Datum, hasNull bool) Satisfied {
	ret := DelSatisfied
	for _, c := range cc.conds {
		switch c.EvalZoneDelete(min, max, hasNull) {
		case DelNotSatisfied:
			return DelNotSatisfied
		case DelPartialSatisfied:
			ret = DelPartialSatisfied
		}
	}
	return ret
}

// Conditions is a conjunction of conditions grouped by column.
type Conditions struct {
	schema    *schema.Schema
	byColumn  map[int]*CondColumn
	columnIDs []int
}

// NewConditions creates an empty condition set over the schema.
func NewConditions(s *schema.Schema) *Conditions {
	return &Conditions{schema: s, byColumn: make(map[int]*CondColumn)}
}

// Append parses and adds one wire condition. Conditions on columns with an
// aggregation method other than NONE are rejected for scan filtering since
// pre-aggregation values are not final.
func (cs *Conditions) Append(raw Condition, allowAggregated bool) error {
	idx := cs.schema.FieldIndex(raw.ColumnName)
	if idx < 0 {
		return errors.NewValidationError(errors.CodeInputParameter,
			fmt.Sprintf("condition on unknown column %q", raw.ColumnName))
	}
	field := cs.schema.Field(idx)
	if !allowAggregated && !field.IsKey && field.Aggregation != types.AggrNone {
		return errors.NewValidationError(errors.CodeInputParameter,
			fmt.Sprintf("condition on aggregated column %q", raw.ColumnName))
	}
	op, err := parseOp(raw.Op, raw.Values)
	if err != nil {
		return err
	}
	cond, err := newCond(field, op, raw.Values)
	if err != nil {
		return err
	}
	cc, ok := cs.byColumn[idx]
	if !ok {
		cc = &CondColumn{columnID: idx, field: field}
		cs.byColumn[idx] = cc
		cs.columnIDs = append(cs.columnIDs, idx)
	}
	cc.conds = append(cc.conds, cond)
	return nil
}

// Empty reports whether no conditions were added.
func (cs *Conditions) Empty() bool { return len(cs.byColumn) == 0 }

// ColumnIDs returns the filtered column indices in append order.
func (cs *Conditions) ColumnIDs() []int { return cs.columnIDs }

// Column returns the condition column for a schema index, or nil.
func (cs *Conditions) Column(columnID int) *CondColumn { return cs.byColumn[columnID] }

// EvalRow reports whether the row (indexed by schema column) satisfies
// every condition.
func (cs *Conditions) EvalRow(row func(columnID int) types.Datum) bool {
	for _, cc := range cs.byColumn {
		if !cc.EvalRow(row(cc.columnID)) {
			return false
		}
	}
	return true
}
