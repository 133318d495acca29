// Package row provides the row cursor: a mutable row indexed by schema
// column, with key comparison and value aggregation used by the merge
// read path.
package row

import (
	"fmt"

	"github.com/strataio/strata/internal/errors"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

// Cursor is one materialized row. Datums are indexed by schema column id;
// columns outside the cursor's selection stay nil.
type Cursor struct {
	schema  *schema.Schema
	columns []int
	datums  []types.Datum

	// numKeyColumns is the length of the key prefix present in this
	// cursor. Scan-key cursors carry fewer key columns than the schema.
	numKeyColumns int
}

// NewCursor creates a cursor over every schema column.
func NewCursor(s *schema.Schema) *Cursor {
	cols := make([]int, s.NumFields())
	for i := range cols {
		cols[i] = i
	}
	return newCursor(s, cols)
}

// NewCursorWithColumns creates a cursor over a column subset.
func NewCursorWithColumns(s *schema.Schema, columns []int) *Cursor {
	return newCursor(s, columns)
}

func newCursor(s *schema.Schema, columns []int) *Cursor {
	numKeys := 0
	for _, cid := range columns {
		if cid < s.NumFields() && s.Field(cid).IsKey {
			numKeys++
		}
	}
	return &Cursor{
		schema:        s,
		columns:       columns,
		datums:        make([]types.Datum, s.NumFields()),
		numKeyColumns: numKeys,
	}
}

// NewScanKeyCursor creates a cursor holding the first len(values) key columns,
// parsed from their string literals.
func NewScanKeyCursor(s *schema.Schema, values []string) (*Cursor, error) {
	if len(values) > s.NumKeyFields() {
		return nil, errors.NewValidationError(errors.CodeInputParameter,
			fmt.Sprintf("scan key has %d fields, schema has %d key columns",
				len(values), s.NumKeyFields()))
	}
	cols := make([]int, len(values))
	for i := range values {
		cols[i] = i
	}
	c := newCursor(s, cols)
	for i, v := range values {
		f := s.Field(i)
		d, err := types.ParseDatum(f.Type, f.Length, v)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeInputParameter,
				fmt.Sprintf("scan key field %d: %v", i, err))
		}
		c.datums[i] = d
	}
	return c, nil
}

// Schema returns the cursor's schema.
func (c *Cursor) Schema() *schema.Schema { return c.schema }

// Columns returns the selected schema column ids.
func (c *Cursor) Columns() []int { return c.columns }

// NumKeyColumns returns the length of the key prefix this cursor carries.
func (c *Cursor) NumKeyColumns() int { return c.numKeyColumns }

// Datum returns the value of the given schema column.
func (c *Cursor) Datum(columnID int) types.Datum { return c.datums[columnID] }

// SetDatum sets the value of the given schema column.
func (c *Cursor) SetDatum(columnID int, d types.Datum) { c.datums[columnID] = d }

// AttachRow points the cursor at an externally owned datum slice indexed
// by schema column. The slice is shared, not copied.
func (c *Cursor) AttachRow(datums []types.Datum) {
	c.datums = datums
}

// Reset clears every selected column to NULL.
func (c *Cursor) Reset() {
	for _, cid := range c.columns {
		c.datums[cid] = nil
	}
}

// CopyFrom copies the source cursor's selected columns into this cursor.
func (c *Cursor) CopyFrom(src *Cursor) {
	for _, cid := range src.columns {
		c.datums[cid] = src.datums[cid]
	}
}

// FullKeyCmp orders two rows over the schema's complete key prefix.
func (c *Cursor) FullKeyCmp(other *Cursor) int {
	n := c.schema.NumKeyFields()
	return c.keyCmpPrefix(other, n)
}

// Cmp orders this row against the other over the shorter of the two key
// prefixes. Scan keys with fewer fields than the schema compare only on
// the fields they carry.
func (c *Cursor) Cmp(other *Cursor) int {
	n := c.numKeyColumns
	if other.numKeyColumns < n {
		n = other.numKeyColumns
	}
	return c.keyCmpPrefix(other, n)
}

func (c *Cursor) keyCmpPrefix(other *Cursor, n int) int {
	for i := 0; i < n; i++ {
		if cmp := types.CompareDatum(c.datums[i], other.datums[i]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// AggInit seeds an aggregation round with the source row's values.
func (c *Cursor) AggInit(src *Cursor) {
	c.CopyFrom(src)
}

// Aggregate folds the source row's value columns into this row according
// to each column's aggregation method. Key columns are untouched.
func (c *Cursor) Aggregate(src *Cursor) {
	for _, cid := range c.columns {
		f := c.schema.Field(cid)
		if f.IsKey {
			continue
		}
		c.datums[cid] = AggregateDatum(f.Aggregation, c.datums[cid], src.datums[cid])
	}
}

// AggregateDatum folds src into dst under the given aggregation method.
func AggregateDatum(method types.AggrMethod, dst, src types.Datum) types.Datum {
	switch method {
	case types.AggrSum:
		return types.SumDatum(dst, src)
	case types.AggrMin:
		if dst == nil || (src != nil && types.CompareDatum(src, dst) < 0) {
			return src
		}
		return dst
	case types.AggrMax:
		if src != nil && (dst == nil || types.CompareDatum(src, dst) > 0) {
			return src
		}
		return dst
	case types.AggrReplace, types.AggrNone:
		return src
	}
	return src
}
