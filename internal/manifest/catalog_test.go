package manifest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	f, err := os.CreateTemp("", "manifest-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	c, err := NewCatalog(f.Name())
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.FieldInfo{
		{Name: "user_id", Type: types.FieldTypeInt, IsKey: true, IsBFColumn: true},
		{Name: "clicks", Type: types.FieldTypeBigInt, Aggregation: types.AggrSum},
	}, 1)
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return s
}

func segRecord(id, tablet string, lo, hi, size int64) *SegmentRecord {
	return &SegmentRecord{
		SegmentID: id,
		TabletID:  tablet,
		Version:   types.Version{Lo: lo, Hi: hi},
		ObjectKey: "tablets/" + tablet + "/" + id,
		RowCount:  100,
		SizeBytes: size,
	}
}

func TestRegisterAndGetTablet(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	s := testSchema(t)

	if err := c.RegisterTablet(ctx, "metrics", types.AggKeys, s); err != nil {
		t.Fatalf("failed to register tablet: %v", err)
	}
	if err := c.RegisterTablet(ctx, "metrics", types.AggKeys, s); err == nil {
		t.Error("expected error registering a duplicate tablet")
	}

	rec, err := c.GetTablet(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to get tablet: %v", err)
	}
	if rec.KeysType != types.AggKeys {
		t.Errorf("expected AGG_KEYS, got %v", rec.KeysType)
	}
	if rec.Schema.NumFields() != 2 || rec.Schema.FieldIndex("clicks") != 1 {
		t.Error("expected the stored schema reconstructed")
	}
	if !rec.Schema.Field(0).IsBFColumn {
		t.Error("expected the bloom filter flag preserved")
	}
	if rec.Schema.NumShortKeyFields() != 1 {
		t.Errorf("expected short-key prefix 1, got %d", rec.Schema.NumShortKeyFields())
	}

	if _, err := c.GetTablet(ctx, "missing"); err == nil {
		t.Error("expected error for an unknown tablet")
	}
}

func TestListTablets(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	s := testSchema(t)

	for _, id := range []string{"beta", "alpha"} {
		if err := c.RegisterTablet(ctx, id, types.DupKeys, s); err != nil {
			t.Fatalf("failed to register tablet %s: %v", id, err)
		}
	}
	ids, err := c.ListTablets(ctx)
	if err != nil {
		t.Fatalf("failed to list tablets: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Errorf("expected [alpha beta], got %v", ids)
	}
}

func TestSegmentLifecycle(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	for _, rec := range []*SegmentRecord{
		segRecord("s1", "metrics", 1, 1, 100),
		segRecord("s2", "metrics", 2, 2, 100),
		segRecord("s3", "metrics", 3, 3, 100),
	} {
		if err := c.RegisterSegment(ctx, rec); err != nil {
			t.Fatalf("failed to register segment %s: %v", rec.SegmentID, err)
		}
	}

	segs, err := c.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(segs) != 3 || segs[0].SegmentID != "s1" || segs[2].SegmentID != "s3" {
		t.Fatalf("expected segments ordered by version, got %d", len(segs))
	}

	v, err := c.MaxVersion(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to get max version: %v", err)
	}
	if v != 3 {
		t.Errorf("expected max version 3, got %d", v)
	}

	v, err = c.MaxVersion(ctx, "empty")
	if err != nil {
		t.Fatalf("failed to get max version of an empty tablet: %v", err)
	}
	if v != -1 {
		t.Errorf("expected -1 for a tablet with no segments, got %d", v)
	}
}

func TestSegmentsForVersion(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	for _, rec := range []*SegmentRecord{
		segRecord("s1", "metrics", 1, 1, 100),
		segRecord("s2", "metrics", 2, 2, 100),
		segRecord("s3", "metrics", 3, 3, 100),
	} {
		if err := c.RegisterSegment(ctx, rec); err != nil {
			t.Fatalf("failed to register segment: %v", err)
		}
	}

	segs, err := c.SegmentsForVersion(ctx, "metrics", types.Version{Lo: 0, Hi: 2})
	if err != nil {
		t.Fatalf("failed to query segments for version: %v", err)
	}
	if len(segs) != 2 || segs[1].SegmentID != "s2" {
		t.Errorf("expected segments s1 and s2 inside [0, 2], got %d", len(segs))
	}
}

func TestMarkCompactedAndExpiry(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	for _, rec := range []*SegmentRecord{
		segRecord("s1", "metrics", 1, 1, 100),
		segRecord("s2", "metrics", 2, 2, 100),
		segRecord("merged", "metrics", 1, 2, 200),
	} {
		rec.CreatedAt = time.Now().Add(-time.Hour)
		if err := c.RegisterSegment(ctx, rec); err != nil {
			t.Fatalf("failed to register segment: %v", err)
		}
	}

	if err := c.MarkCompacted(ctx, []string{"s1", "s2"}, "merged"); err != nil {
		t.Fatalf("failed to mark compacted: %v", err)
	}

	segs, err := c.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(segs) != 1 || segs[0].SegmentID != "merged" {
		t.Errorf("expected only the merged segment active, got %d", len(segs))
	}

	if err := c.MarkCompacted(ctx, []string{"s1"}, "merged"); err == nil {
		t.Error("expected error re-compacting an already compacted segment")
	}
	if err := c.MarkCompacted(ctx, []string{"merged"}, "missing"); err == nil {
		t.Error("expected error for a missing target segment")
	}

	keys, err := c.DeleteExpired(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("failed to delete expired segments: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 expired object keys, got %v", keys)
	}

	all, err := c.ListObjectKeys(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list object keys: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected only the merged object key left, got %v", all)
	}
}

func TestDeleteRecords(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	conds := []predicate.Condition{
		{ColumnName: "user_id", Op: "<=", Values: []string{"10"}},
	}
	if err := c.AddDeleteRecord(ctx, "metrics", 5, conds); err != nil {
		t.Fatalf("failed to add delete record: %v", err)
	}
	if err := c.AddDeleteRecord(ctx, "metrics", 3, conds); err != nil {
		t.Fatalf("failed to add delete record: %v", err)
	}

	recs, err := c.DeleteRecords(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list delete records: %v", err)
	}
	if len(recs) != 2 || recs[0].Version != 3 || recs[1].Version != 5 {
		t.Fatalf("expected records ordered by version, got %v", recs)
	}
	got := recs[0].Conditions
	if len(got) != 1 || got[0].ColumnName != "user_id" || got[0].Op != "<=" || got[0].Values[0] != "10" {
		t.Errorf("expected the delete conditions preserved, got %v", got)
	}

	if err := c.PruneDeleteRecords(ctx, "metrics", 3); err != nil {
		t.Fatalf("failed to prune delete records: %v", err)
	}
	recs, err = c.DeleteRecords(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list delete records: %v", err)
	}
	if len(recs) != 1 || recs[0].Version != 5 {
		t.Errorf("expected only version 5 left after pruning, got %v", recs)
	}
}

func TestGetCompactionCandidates(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	for _, rec := range []*SegmentRecord{
		segRecord("small1", "metrics", 1, 1, 100),
		segRecord("small2", "metrics", 2, 2, 200),
		segRecord("big", "metrics", 3, 3, 10_000),
	} {
		if err := c.RegisterSegment(ctx, rec); err != nil {
			t.Fatalf("failed to register segment: %v", err)
		}
	}

	cands, err := c.GetCompactionCandidates(ctx, "metrics", 1000)
	if err != nil {
		t.Fatalf("failed to get candidates: %v", err)
	}
	if len(cands) != 2 || cands[0].SegmentID != "small1" || cands[1].SegmentID != "small2" {
		t.Errorf("expected the two small segments oldest first, got %d", len(cands))
	}
}

func TestRunAnalyze(t *testing.T) {
	c := testCatalog(t)
	if err := c.RunAnalyze(context.Background()); err != nil {
		t.Errorf("failed to run analyze: %v", err)
	}
}

func TestZoneMapRoundTrip(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	rec := segRecord("s1", "metrics", 1, 1, 100)
	rec.ZoneMaps = []ZoneMapEntry{
		{ColumnID: 1, Min: "5", Max: "900", HasNull: true},
		{ColumnID: 0, Min: "1", Max: "42"},
	}
	if err := c.RegisterSegment(ctx, rec); err != nil {
		t.Fatalf("failed to register segment: %v", err)
	}

	zms, err := c.ZoneMaps(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to load zone maps: %v", err)
	}
	if len(zms) != 2 {
		t.Fatalf("expected 2 zone map entries, got %d", len(zms))
	}
	if zms[0].ColumnID != 0 || zms[0].Min != "1" || zms[0].Max != "42" || zms[0].HasNull {
		t.Errorf("unexpected first entry %+v", zms[0])
	}
	if zms[1].ColumnID != 1 || zms[1].Min != "5" || zms[1].Max != "900" || !zms[1].HasNull {
		t.Errorf("unexpected second entry %+v", zms[1])
	}

	zms, err = c.ZoneMaps(ctx, "missing")
	if err != nil {
		t.Fatalf("failed to load zone maps: %v", err)
	}
	if len(zms) != 0 {
		t.Errorf("expected no zone maps for an unknown segment, got %v", zms)
	}
}

func TestZoneMapDuplicateColumnRejected(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	rec := segRecord("s1", "metrics", 1, 1, 100)
	rec.ZoneMaps = []ZoneMapEntry{
		{ColumnID: 0, Min: "1", Max: "2"},
		{ColumnID: 0, Min: "3", Max: "4"},
	}
	if err := c.RegisterSegment(ctx, rec); err == nil {
		t.Fatal("expected an error for duplicate zone map columns")
	}

	// The failed transaction must leave neither the segment nor its rows.
	segs, err := c.ListSegments(ctx, "metrics")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("expected the segment insert rolled back, got %d segments", len(segs))
	}
}

func TestDeleteExpiredRemovesZoneMaps(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	s1 := segRecord("s1", "metrics", 1, 1, 100)
	s1.CreatedAt = time.Now().Add(-time.Hour)
	s1.ZoneMaps = []ZoneMapEntry{{ColumnID: 0, Min: "1", Max: "10"}}
	merged := segRecord("merged", "metrics", 1, 1, 100)
	merged.CreatedAt = time.Now().Add(-time.Hour)
	merged.ZoneMaps = []ZoneMapEntry{{ColumnID: 0, Min: "1", Max: "10"}}
	for _, rec := range []*SegmentRecord{s1, merged} {
		if err := c.RegisterSegment(ctx, rec); err != nil {
			t.Fatalf("failed to register segment: %v", err)
		}
	}
	if err := c.MarkCompacted(ctx, []string{"s1"}, "merged"); err != nil {
		t.Fatalf("failed to mark compacted: %v", err)
	}

	if _, err := c.DeleteExpired(ctx, 30*time.Minute); err != nil {
		t.Fatalf("failed to delete expired segments: %v", err)
	}

	zms, err := c.ZoneMaps(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to load zone maps: %v", err)
	}
	if len(zms) != 0 {
		t.Errorf("expected the expired segment's zone maps removed, got %v", zms)
	}
	zms, err = c.ZoneMaps(ctx, "merged")
	if err != nil {
		t.Fatalf("failed to load zone maps: %v", err)
	}
	if len(zms) != 1 {
		t.Errorf("expected the surviving segment's zone maps kept, got %v", zms)
	}
}
