package compaction

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/strataio/strata/internal/config"
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/internal/reader"
	"github.com/strataio/strata/internal/segment"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/internal/tablet"
	"github.com/strataio/strata/pkg/types"
)

var log = logrus.WithField("component", "compaction")

// Merger merges source segments into one compacted segment by driving a
// merge reader over them and writing the surviving rows out.
type Merger struct {
	catalog *manifest.Catalog
	store   storage.ObjectStorage
	cfg     *config.Config
}

// NewMerger creates a segment merger.
func NewMerger(catalog *manifest.Catalog, store storage.ObjectStorage, cfg *config.Config) *Merger {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Merger{catalog: catalog, store: store, cfg: cfg}
}

// MergeResult contains the output of one merge.
type MergeResult struct {
	SegmentID       string
	Version         types.Version
	RowsWritten     int64
	MergedRows      int64
	RowsDelFiltered int64
	SourceIDs       []string
}

// CompactBase merges all of the group's segments and retires the delete
// records the merge absorbed.
func (m *Merger) CompactBase(ctx context.Context, t *tablet.Tablet, group *CandidateGroup) (*MergeResult, error) {
	res, err := m.compact(ctx, t, group, reader.TypeBaseCompaction)
	if err != nil {
		return nil, err
	}
	if err := m.catalog.PruneDeleteRecords(ctx, t.ID(), group.Version.Hi); err != nil {
		return nil, err
	}
	return res, nil
}

// CompactCumulative merges the group's segments without applying delete
// records; rows a delete would erase stay until base compaction.
func (m *Merger) CompactCumulative(ctx context.Context, t *tablet.Tablet, group *CandidateGroup) (*MergeResult, error) {
	return m.compact(ctx, t, group, reader.TypeCumulativeCompaction)
}

func (m *Merger) compact(ctx context.Context, t *tablet.Tablet, group *CandidateGroup, typ reader.Type) (*MergeResult, error) {
	if group == nil || len(group.Records) < 2 {
		return nil, fmt.Errorf("compaction: need at least 2 segments to merge")
	}

	segs := make([]segment.Segment, 0, len(group.Records))
	for _, rec := range group.Records {
		s, err := segment.OpenFromStorage(ctx, m.store, rec.ObjectKey, t.Schema())
		if err != nil {
			return nil, fmt.Errorf("compaction: open segment %s: %w", rec.SegmentID, err)
		}
		segs = append(segs, s)
	}

	deleteRecords, err := m.catalog.DeleteRecords(ctx, t.ID())
	if err != nil {
		return nil, err
	}

	r, err := reader.NewReader(reader.Params{
		Schema:        t.Schema(),
		KeysType:      t.KeysType(),
		Type:          typ,
		Version:       group.Version,
		Aggregation:   t.KeysType() == types.AggKeys,
		DeleteRecords: deleteRecords,
		Segments:      segs,
		Config:        m.cfg,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	w := segment.NewWriter(t.Schema(), group.Version, m.cfg.Segment.BloomFPR)
	dst := r.NewRowCursor()
	numFields := t.Schema().NumFields()
	for {
		if err := r.NextRow(dst); err != nil {
			if err == reader.ErrEOF {
				break
			}
			return nil, err
		}
		out := make([]types.Datum, numFields)
		for cid := 0; cid < numFields; cid++ {
			out[cid] = dst.Datum(cid)
		}
		if err := w.WriteRow(out); err != nil {
			return nil, err
		}
	}

	var merged *segment.MemSegment
	if w.NumRows() == 0 {
		// Every row was erased. An empty target still has to exist so the
		// sources can be marked compacted.
		merged = segment.NewMemSegment(w.ID(), t.Schema(), group.Version, false, nil, m.cfg.Segment.BloomFPR)
	} else {
		merged, err = w.Finish()
		if err != nil {
			return nil, err
		}
	}

	data, err := segment.Encode(merged, m.cfg.Segment.BlockRows)
	if err != nil {
		return nil, err
	}
	key := t.ObjectKey(merged.ID())
	if err := m.store.Put(ctx, key, data); err != nil {
		return nil, err
	}
	if err := m.catalog.RegisterSegment(ctx, &manifest.SegmentRecord{
		SegmentID: merged.ID(),
		TabletID:  t.ID(),
		Version:   group.Version,
		ObjectKey: key,
		RowCount:  int64(merged.NumRows()),
		SizeBytes: int64(len(data)),
		ZoneMaps:  tablet.ZoneMapEntries(t.Schema(), merged),
	}); err != nil {
		return nil, err
	}

	sourceIDs := make([]string, len(group.Records))
	for i, rec := range group.Records {
		sourceIDs[i] = rec.SegmentID
	}
	if err := m.catalog.MarkCompacted(ctx, sourceIDs, merged.ID()); err != nil {
		return nil, err
	}

	stats := r.Stats()
	log.WithFields(logrus.Fields{
		"tablet":       t.ID(),
		"type":         typ.String(),
		"sources":      len(sourceIDs),
		"target":       merged.ID(),
		"version_lo":   group.Version.Lo,
		"version_hi":   group.Version.Hi,
		"rows_written": merged.NumRows(),
		"rows_merged":  stats.MergedRows,
		"rows_deleted": stats.RowsDelFiltered,
	}).Info("compaction finished")

	return &MergeResult{
		SegmentID:       merged.ID(),
		Version:         group.Version,
		RowsWritten:     int64(merged.NumRows()),
		MergedRows:      stats.MergedRows,
		RowsDelFiltered: stats.RowsDelFiltered,
		SourceIDs:       sourceIDs,
	}, nil
}
