package row

import (
	"testing"

	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.FieldInfo{
		{Name: "k1", Type: types.FieldTypeInt, IsKey: true},
		{Name: "k2", Type: types.FieldTypeVarchar, IsKey: true},
		{Name: "v1", Type: types.FieldTypeBigInt, Aggregation: types.AggrSum},
		{Name: "v2", Type: types.FieldTypeVarchar, Aggregation: types.AggrReplace},
	}, 1)
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return s
}

func TestScanKeyCursorPrefixCompare(t *testing.T) {
	s := testSchema(t)

	full := NewCursor(s)
	full.AttachRow([]types.Datum{int32(5), "abc", int64(1), "x"})

	// A one-field scan key compares only on the prefix it carries.
	key, err := NewScanKeyCursor(s, []string{"5"})
	if err != nil {
		t.Fatalf("failed to build scan key: %v", err)
	}
	if key.NumKeyColumns() != 1 {
		t.Fatalf("expected 1 key column, got %d", key.NumKeyColumns())
	}
	if full.Cmp(key) != 0 {
		t.Error("expected prefix comparison to ignore the second key column")
	}

	key2, err := NewScanKeyCursor(s, []string{"5", "abd"})
	if err != nil {
		t.Fatalf("failed to build scan key: %v", err)
	}
	if full.Cmp(key2) >= 0 {
		t.Error("expected abc < abd on the second key column")
	}
}

func TestScanKeyCursorTooManyFields(t *testing.T) {
	s := testSchema(t)
	if _, err := NewScanKeyCursor(s, []string{"1", "a", "3"}); err == nil {
		t.Error("expected error for scan key wider than the key prefix")
	}
}

func TestCursorFullKeyCmp(t *testing.T) {
	s := testSchema(t)
	a := NewCursor(s)
	a.AttachRow([]types.Datum{int32(1), "b", nil, nil})
	b := NewCursor(s)
	b.AttachRow([]types.Datum{int32(1), "c", nil, nil})

	if a.FullKeyCmp(b) >= 0 {
		t.Error("expected (1, b) < (1, c)")
	}
	if a.FullKeyCmp(a) != 0 {
		t.Error("expected a row equal to itself")
	}
}

func TestCursorAggregate(t *testing.T) {
	s := testSchema(t)
	dst := NewCursor(s)
	dst.AggInit(attachedCursor(s, int32(1), "a", int64(10), "old"))
	dst.Aggregate(attachedCursor(s, int32(1), "a", int64(5), "new"))

	if dst.Datum(2) != int64(15) {
		t.Errorf("expected SUM 15, got %v", dst.Datum(2))
	}
	if dst.Datum(3) != "new" {
		t.Errorf("expected REPLACE to keep the newer value, got %v", dst.Datum(3))
	}
	if dst.Datum(0) != int32(1) || dst.Datum(1) != "a" {
		t.Error("expected key columns untouched by aggregation")
	}
}

func attachedCursor(s *schema.Schema, datums ...types.Datum) *Cursor {
	c := NewCursor(s)
	c.AttachRow(datums)
	return c
}

func TestAggregateDatumMethods(t *testing.T) {
	if got := AggregateDatum(types.AggrMin, int64(3), int64(1)); got != int64(1) {
		t.Errorf("expected MIN 1, got %v", got)
	}
	if got := AggregateDatum(types.AggrMin, int64(3), nil); got != int64(3) {
		t.Errorf("expected MIN to ignore NULL, got %v", got)
	}
	if got := AggregateDatum(types.AggrMax, int64(3), int64(9)); got != int64(9) {
		t.Errorf("expected MAX 9, got %v", got)
	}
	if got := AggregateDatum(types.AggrMax, nil, int64(9)); got != int64(9) {
		t.Errorf("expected MAX over NULL, got %v", got)
	}
	if got := AggregateDatum(types.AggrReplace, int64(3), int64(9)); got != int64(9) {
		t.Errorf("expected REPLACE 9, got %v", got)
	}
	if got := AggregateDatum(types.AggrReplace, int64(3), nil); got != nil {
		t.Errorf("expected REPLACE to take NULL, got %v", got)
	}
	if got := AggregateDatum(types.AggrSum, int64(3), int64(4)); got != int64(7) {
		t.Errorf("expected SUM 7, got %v", got)
	}
}

func TestCursorResetAndCopy(t *testing.T) {
	s := testSchema(t)
	src := NewCursor(s)
	src.SetDatum(0, int32(7))
	src.SetDatum(2, int64(3))

	dst := NewCursor(s)
	dst.CopyFrom(src)
	if dst.Datum(0) != int32(7) || dst.Datum(2) != int64(3) {
		t.Error("expected copied values")
	}

	dst.Reset()
	for _, cid := range dst.Columns() {
		if dst.Datum(cid) != nil {
			t.Errorf("expected column %d reset to NULL", cid)
		}
	}
}
