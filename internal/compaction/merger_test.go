package compaction

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/strataio/strata/internal/config"
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/reader"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/internal/tablet"
	"github.com/strataio/strata/pkg/types"
)

func testEnv(t *testing.T) (*manifest.Catalog, storage.ObjectStorage, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	catalog, err := manifest.NewCatalog(filepath.Join(dir, "manifest.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	store, err := storage.NewLocalStorage(filepath.Join(dir, "storage"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Resolve()
	return catalog, store, cfg
}

func testTablet(t *testing.T, keysType types.KeysType) (*tablet.Tablet, *manifest.Catalog, storage.ObjectStorage, *config.Config) {
	t.Helper()
	catalog, store, cfg := testEnv(t)

	s, err := schema.New([]schema.FieldInfo{
		{Name: "user_id", Type: types.FieldTypeInt, IsKey: true, IsBFColumn: true},
		{Name: "clicks", Type: types.FieldTypeBigInt, Aggregation: types.AggrSum},
	}, 1)
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}

	tb, err := tablet.Create(context.Background(), "metrics", keysType, s, catalog, store, nil, cfg)
	if err != nil {
		t.Fatalf("failed to create tablet: %v", err)
	}
	return tb, catalog, store, cfg
}

func readRows(t *testing.T, tb *tablet.Tablet, hi int64) [][]types.Datum {
	t.Helper()
	r, err := tb.OpenReader(context.Background(), reader.Params{
		Type:          reader.TypeQuery,
		Version:       types.Version{Lo: 0, Hi: hi},
		ReturnColumns: []int{0, 1},
	})
	if err != nil {
		t.Fatalf("failed to open reader: %v", err)
	}
	defer r.Close()

	dst := r.NewRowCursor()
	var out [][]types.Datum
	for {
		err := r.NextRow(dst)
		if err == reader.ErrEOF {
			return out
		}
		if err != nil {
			t.Fatalf("failed to read row: %v", err)
		}
		out = append(out, []types.Datum{dst.Datum(0), dst.Datum(1)})
	}
}

func TestCompactCumulativeFoldsAggKeys(t *testing.T) {
	tb, catalog, store, cfg := testTablet(t, types.AggKeys)
	ctx := context.Background()

	for _, batch := range [][][]types.Datum{
		{{int32(1), int64(10)}, {int32(2), int64(20)}},
		{{int32(1), int64(5)}},
		{{int32(3), int64(30)}},
	} {
		if _, err := tb.Ingest(ctx, batch); err != nil {
			t.Fatalf("failed to ingest: %v", err)
		}
	}

	recs, err := catalog.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	group := SelectCumulative("metrics", recs, 2, 16)
	if group == nil || len(group.Records) != 3 {
		t.Fatal("expected all three singleton segments selected")
	}

	res, err := NewMerger(catalog, store, cfg).CompactCumulative(ctx, tb, group)
	if err != nil {
		t.Fatalf("failed to compact: %v", err)
	}
	if res.Version != (types.Version{Lo: 0, Hi: 2}) {
		t.Errorf("expected the merged span [0, 2], got %v", res.Version)
	}
	if res.RowsWritten != 3 {
		t.Errorf("expected 3 rows written, got %d", res.RowsWritten)
	}
	if res.MergedRows != 1 {
		t.Errorf("expected 1 row folded away, got %d", res.MergedRows)
	}
	if len(res.SourceIDs) != 3 {
		t.Errorf("expected 3 source segments, got %d", len(res.SourceIDs))
	}

	recs, err = catalog.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(recs) != 1 || recs[0].SegmentID != res.SegmentID {
		t.Fatalf("expected only the merged segment active, got %d", len(recs))
	}
	if recs[0].RowCount != 3 {
		t.Errorf("expected 3 rows in the merged segment, got %d", recs[0].RowCount)
	}

	rows := readRows(t, tb, 2)
	if len(rows) != 3 {
		t.Fatalf("expected 3 aggregated rows after compaction, got %d", len(rows))
	}
	if rows[0][0] != int32(1) || rows[0][1] != int64(15) {
		t.Errorf("expected user 1 folded to 15 clicks, got %v", rows[0])
	}
}

func TestCompactBaseAppliesDeletesAndPrunes(t *testing.T) {
	tb, catalog, store, cfg := testTablet(t, types.DupKeys)
	ctx := context.Background()

	if _, err := tb.Ingest(ctx, [][]types.Datum{
		{int32(1), int64(10)},
		{int32(2), int64(20)},
		{int32(3), int64(30)},
	}); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}
	if _, err := tb.DeleteWhere(ctx, []predicate.Condition{
		{ColumnName: "user_id", Op: "<=", Values: []string{"2"}},
	}); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := tb.Ingest(ctx, [][]types.Datum{{int32(4), int64(40)}}); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	recs, err := catalog.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	group := SelectBase("metrics", recs)
	if group == nil || len(group.Records) != 3 {
		t.Fatal("expected a base group over all segments")
	}

	res, err := NewMerger(catalog, store, cfg).CompactBase(ctx, tb, group)
	if err != nil {
		t.Fatalf("failed to compact: %v", err)
	}
	if res.RowsWritten != 2 {
		t.Errorf("expected 2 surviving rows, got %d", res.RowsWritten)
	}
	if res.RowsDelFiltered != 2 {
		t.Errorf("expected 2 rows erased by the delete, got %d", res.RowsDelFiltered)
	}

	// The merge absorbed the delete, so its record is retired.
	drs, err := catalog.DeleteRecords(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list delete records: %v", err)
	}
	if len(drs) != 0 {
		t.Errorf("expected the delete record pruned, got %d", len(drs))
	}

	rows := readRows(t, tb, 2)
	if len(rows) != 2 || rows[0][0] != int32(3) || rows[1][0] != int32(4) {
		t.Fatalf("expected users 3 and 4 after base compaction, got %v", rows)
	}
}

func TestCompactBaseEmptyOutput(t *testing.T) {
	tb, catalog, store, cfg := testTablet(t, types.DupKeys)
	ctx := context.Background()

	if _, err := tb.Ingest(ctx, [][]types.Datum{
		{int32(1), int64(10)},
		{int32(2), int64(20)},
	}); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}
	if _, err := tb.DeleteWhere(ctx, []predicate.Condition{
		{ColumnName: "user_id", Op: "<=", Values: []string{"10"}},
	}); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	recs, err := catalog.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	group := SelectBase("metrics", recs)
	if group == nil {
		t.Fatal("expected a base group")
	}

	res, err := NewMerger(catalog, store, cfg).CompactBase(ctx, tb, group)
	if err != nil {
		t.Fatalf("failed to compact: %v", err)
	}
	if res.RowsWritten != 0 {
		t.Errorf("expected no surviving rows, got %d", res.RowsWritten)
	}
	if res.RowsDelFiltered != 2 {
		t.Errorf("expected both rows erased, got %d", res.RowsDelFiltered)
	}

	// An empty target segment still replaces the sources.
	recs, err = catalog.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(recs) != 1 || recs[0].RowCount != 0 {
		t.Fatalf("expected a single empty merged segment, got %d", len(recs))
	}
	if rows := readRows(t, tb, 1); len(rows) != 0 {
		t.Errorf("expected no rows after compaction, got %d", len(rows))
	}
}

func TestCompactRejectsSmallGroups(t *testing.T) {
	tb, catalog, store, cfg := testTablet(t, types.DupKeys)
	ctx := context.Background()
	m := NewMerger(catalog, store, cfg)

	if _, err := m.CompactBase(ctx, tb, nil); err == nil {
		t.Error("expected error for a nil group")
	}
	if _, err := m.CompactCumulative(ctx, tb, &CandidateGroup{
		Records: []*manifest.SegmentRecord{rec("only", 0, 0)},
	}); err == nil {
		t.Error("expected error for a single-segment group")
	}
}
