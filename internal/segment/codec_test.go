package segment

import (
	"context"
	"math/big"
	"testing"

	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/pkg/types"
)

func codecSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.FieldInfo{
		{Name: "id", Type: types.FieldTypeBigInt, IsKey: true, IsBFColumn: true},
		{Name: "day", Type: types.FieldTypeDate, IsKey: true},
		{Name: "amount", Type: types.FieldTypeDecimal, Aggregation: types.AggrSum},
		{Name: "total", Type: types.FieldTypeLargeInt, Aggregation: types.AggrSum},
		{Name: "note", Type: types.FieldTypeVarchar, Aggregation: types.AggrReplace},
	}, 1)
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := codecSchema(t)
	rows := [][]types.Datum{
		{int64(1), types.PackDate(2026, 8, 1), types.Decimal{Int: 12, Frac: 500_000_000}, big.NewInt(99), "hello"},
		{int64(2), types.PackDate(2026, 8, 2), types.Decimal{Int: -3, Frac: -250_000_000}, new(big.Int).Neg(big.NewInt(7)), nil},
		{int64(3), types.PackDate(2026, 8, 3), nil, big.NewInt(0), "world"},
	}
	src := NewMemSegment("seg-1", s, types.Version{Lo: 4, Hi: 4}, true, rows, 0.01)

	data, err := Encode(src, 2)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	got, err := Decode(s, data)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if got.ID() != "seg-1" || got.Version() != (types.Version{Lo: 4, Hi: 4}) || !got.DeleteFlag() {
		t.Error("expected header fields preserved")
	}
	if got.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", got.NumRows())
	}

	it, err := got.NewIterator(IterOptions{})
	if err != nil {
		t.Fatalf("failed to open iterator: %v", err)
	}
	defer it.Close()
	decoded := drain(t, it)
	if decoded[0][4] != "hello" || decoded[1][4] != nil || decoded[2][4] != "world" {
		t.Error("expected varchar values and NULLs preserved")
	}
	if decoded[1][2] != (types.Decimal{Int: -3, Frac: -250_000_000}) {
		t.Errorf("expected negative decimal preserved, got %v", decoded[1][2])
	}
	if decoded[1][3].(*big.Int).Int64() != -7 {
		t.Errorf("expected negative largeint preserved, got %v", decoded[1][3])
	}

	min, max, hasNull, ok := got.ZoneStats(0)
	if !ok || hasNull || min != int64(1) || max != int64(3) {
		t.Errorf("expected id stats [1, 3], got [%v, %v] hasNull=%v ok=%v", min, max, hasNull, ok)
	}
	_, _, hasNull, ok = got.ZoneStats(2)
	if !ok || !hasNull {
		t.Error("expected the amount NULL recorded in stats")
	}

	bf := got.BloomFilter(0)
	if bf == nil {
		t.Fatal("expected the id bloom filter preserved")
	}
	if !bf.Contains(DatumBytes(types.FieldTypeBigInt, int64(2))) {
		t.Error("expected id 2 in the decoded bloom filter")
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	s := codecSchema(t)
	if _, err := Decode(s, []byte("not a segment")); err == nil {
		t.Error("expected error for bad magic")
	}

	src := NewMemSegment("seg", s, types.Version{Lo: 1, Hi: 1}, false, [][]types.Datum{
		{int64(1), types.PackDate(2026, 1, 1), nil, nil, nil},
	}, 0.01)
	data, err := Encode(src, 0)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if _, err := Decode(s, data[:len(data)-4]); err == nil {
		t.Error("expected error for a truncated file")
	}

	other, err := schema.New([]schema.FieldInfo{
		{Name: "id", Type: types.FieldTypeBigInt, IsKey: true},
	}, 1)
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	if _, err := Decode(other, data); err == nil {
		t.Error("expected error for a column count mismatch")
	}
}

func TestUploadAndOpenFromStorage(t *testing.T) {
	s := codecSchema(t)
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	src := NewMemSegment("seg", s, types.Version{Lo: 1, Hi: 1}, false, [][]types.Datum{
		{int64(1), types.PackDate(2026, 1, 1), nil, nil, "a"},
		{int64(2), types.PackDate(2026, 1, 2), nil, nil, "b"},
	}, 0.01)

	if err := Upload(ctx, store, "tablets/t1/seg", src, 0); err != nil {
		t.Fatalf("failed to upload: %v", err)
	}
	got, err := OpenFromStorage(ctx, store, "tablets/t1/seg", s)
	if err != nil {
		t.Fatalf("failed to open from storage: %v", err)
	}
	if got.NumRows() != 2 || got.ID() != "seg" {
		t.Error("expected the stored segment read back intact")
	}
}
