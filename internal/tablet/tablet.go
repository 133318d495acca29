// Package tablet binds a schema, its segments and its delete records into
// one readable unit. The tablet resolves read versions against the
// manifest catalog, fetches segment objects from storage and hands the
// decoded segments to the reader.
package tablet

import (
	"context"
	"fmt"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/strataio/strata/internal/cache"
	"github.com/strataio/strata/internal/config"
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/reader"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/segment"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/pkg/types"
)

var log = logrus.WithField("component", "tablet")

// Tablet is one keyed table instance.
type Tablet struct {
	id       string
	schema   *schema.Schema
	keysType types.KeysType
	catalog  *manifest.Catalog
	store    storage.ObjectStorage
	segCache *cache.SegmentCache
	cfg      *config.Config
}

// Create registers a new tablet in the catalog.
func Create(ctx context.Context, id string, keysType types.KeysType, s *schema.Schema, catalog *manifest.Catalog, store storage.ObjectStorage, segCache *cache.SegmentCache, cfg *config.Config) (*Tablet, error) {
	if err := catalog.RegisterTablet(ctx, id, keysType, s); err != nil {
		return nil, err
	}
	log.WithField("tablet", id).Info("tablet created")
	return newTablet(id, keysType, s, catalog, store, segCache, cfg), nil
}

// Open loads an existing tablet from the catalog.
func Open(ctx context.Context, id string, catalog *manifest.Catalog, store storage.ObjectStorage, segCache *cache.SegmentCache, cfg *config.Config) (*Tablet, error) {
	rec, err := catalog.GetTablet(ctx, id)
	if err != nil {
		return nil, err
	}
	return newTablet(id, rec.KeysType, rec.Schema, catalog, store, segCache, cfg), nil
}

func newTablet(id string, keysType types.KeysType, s *schema.Schema, catalog *manifest.Catalog, store storage.ObjectStorage, segCache *cache.SegmentCache, cfg *config.Config) *Tablet {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Tablet{
		id:       id,
		schema:   s,
		keysType: keysType,
		catalog:  catalog,
		store:    store,
		segCache: segCache,
		cfg:      cfg,
	}
}

// ID returns the tablet id.
func (t *Tablet) ID() string { return t.id }

// Schema returns the tablet schema.
func (t *Tablet) Schema() *schema.Schema { return t.schema }

// KeysType returns the tablet key model.
func (t *Tablet) KeysType() types.KeysType { return t.keysType }

// ObjectKey returns the storage key of a segment object.
func (t *Tablet) ObjectKey(segmentID string) string {
	return path.Join("tablets", t.id, segmentID+".seg")
}

// MaxVersion returns the highest committed version, or -1 for an empty
// tablet.
func (t *Tablet) MaxVersion(ctx context.Context) (int64, error) {
	return t.catalog.MaxVersion(ctx, t.id)
}

// Ingest writes a batch of rows as one new segment at the next version.
func (t *Tablet) Ingest(ctx context.Context, rows [][]types.Datum) (types.Version, error) {
	maxV, err := t.catalog.MaxVersion(ctx, t.id)
	if err != nil {
		return types.Version{}, err
	}
	v := types.Version{Lo: maxV + 1, Hi: maxV + 1}

	w := segment.NewWriter(t.schema, v, t.cfg.Segment.BloomFPR)
	for _, r := range rows {
		if err := w.WriteRow(r); err != nil {
			return types.Version{}, err
		}
	}
	m, err := w.Finish()
	if err != nil {
		return types.Version{}, err
	}
	return v, t.commitSegment(ctx, m)
}

// DeleteWhere commits a delete record at the next version. The conditions
// are a conjunction; every matching row in data at or below the new
// version becomes invisible to reads. A zero-row delete-flag segment
// carries the version.
func (t *Tablet) DeleteWhere(ctx context.Context, conditions []predicate.Condition) (types.Version, error) {
	conds := predicate.NewConditions(t.schema)
	for _, c := range conditions {
		if err := conds.Append(c, true); err != nil {
			return types.Version{}, err
		}
	}

	maxV, err := t.catalog.MaxVersion(ctx, t.id)
	if err != nil {
		return types.Version{}, err
	}
	v := types.Version{Lo: maxV + 1, Hi: maxV + 1}

	m := segment.NewDeleteMarker(t.schema, v)
	if err := t.commitSegment(ctx, m); err != nil {
		return types.Version{}, err
	}
	if err := t.catalog.AddDeleteRecord(ctx, t.id, v.Hi, conditions); err != nil {
		return types.Version{}, err
	}
	log.WithFields(logrus.Fields{"tablet": t.id, "version": v.Hi}).Info("delete record committed")
	return v, nil
}

// commitSegment encodes, uploads and registers one segment.
func (t *Tablet) commitSegment(ctx context.Context, m *segment.MemSegment) error {
	data, err := segment.Encode(m, t.cfg.Segment.BlockRows)
	if err != nil {
		return err
	}
	key := t.ObjectKey(m.ID())
	if err := t.store.Put(ctx, key, data); err != nil {
		return err
	}
	if err := t.catalog.RegisterSegment(ctx, &manifest.SegmentRecord{
		SegmentID:  m.ID(),
		TabletID:   t.id,
		Version:    m.Version(),
		ObjectKey:  key,
		RowCount:   int64(m.NumRows()),
		SizeBytes:  int64(len(data)),
		DeleteFlag: m.DeleteFlag(),
		ZoneMaps:   ZoneMapEntries(t.schema, m),
	}); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"tablet":  t.id,
		"segment": m.ID(),
		"version": m.Version().Hi,
		"rows":    m.NumRows(),
		"bytes":   len(data),
	}).Debug("segment committed")
	return nil
}

// ZoneMapEntries converts a segment's column stats into catalog zone map
// rows. Columns without a valid min/max, such as all-null columns or any
// column of a delete marker, yield no entry.
func ZoneMapEntries(s *schema.Schema, m *segment.MemSegment) []manifest.ZoneMapEntry {
	var entries []manifest.ZoneMapEntry
	for cid := 0; cid < s.NumFields(); cid++ {
		min, max, hasNull, ok := m.ZoneStats(cid)
		if !ok || min == nil || max == nil {
			continue
		}
		ft := s.Field(cid).Type
		entries = append(entries, manifest.ZoneMapEntry{
			ColumnID: cid,
			Min:      types.FormatDatum(ft, min),
			Max:      types.FormatDatum(ft, max),
			HasNull:  hasNull,
		})
	}
	return entries
}

// AcquireDataSources implements reader.SegmentSource. Segments fully
// contained in the read version are fetched from storage, decoding
// through the cache when useCache is set.
func (t *Tablet) AcquireDataSources(v types.Version, useCache bool) ([]segment.Segment, error) {
	ctx := context.Background()
	recs, err := t.catalog.SegmentsForVersion(ctx, t.id, v)
	if err != nil {
		return nil, err
	}
	return t.openSegments(ctx, recs, useCache)
}

func (t *Tablet) openSegments(ctx context.Context, recs []*manifest.SegmentRecord, useCache bool) ([]segment.Segment, error) {
	segs := make([]segment.Segment, 0, len(recs))
	for _, rec := range recs {
		if useCache && t.segCache != nil {
			if m, ok := t.segCache.Get(rec.ObjectKey); ok {
				segs = append(segs, m)
				continue
			}
		}
		m, err := segment.OpenFromStorage(ctx, t.store, rec.ObjectKey, t.schema)
		if err != nil {
			return nil, fmt.Errorf("tablet: open segment %s: %w", rec.SegmentID, err)
		}
		if useCache && t.segCache != nil {
			t.segCache.Put(rec.ObjectKey, m)
		}
		segs = append(segs, m)
	}
	return segs, nil
}

// zonePrunedSource checks the tablet's segment list against the catalog
// zone maps before any object is fetched. A discarded segment never
// reaches the reader, so the reader's pruning counters do not see its
// rows.
type zonePrunedSource struct {
	t     *Tablet
	conds *predicate.Conditions
}

func (z *zonePrunedSource) AcquireDataSources(v types.Version, useCache bool) ([]segment.Segment, error) {
	ctx := context.Background()
	recs, err := z.t.catalog.SegmentsForVersion(ctx, z.t.id, v)
	if err != nil {
		return nil, err
	}

	kept := make([]*manifest.SegmentRecord, 0, len(recs))
	for _, rec := range recs {
		prune, err := z.t.zonePrunes(ctx, z.conds, rec)
		if err != nil {
			return nil, err
		}
		if prune {
			log.WithFields(logrus.Fields{
				"tablet":  z.t.id,
				"segment": rec.SegmentID,
				"rows":    rec.RowCount,
			}).Debug("segment pruned by catalog zone maps")
			continue
		}
		kept = append(kept, rec)
	}
	return z.t.openSegments(ctx, kept, useCache)
}

// zonePrunes reports whether the catalog zone maps rule out every
// condition match in the segment. Segments without zone rows are kept.
func (t *Tablet) zonePrunes(ctx context.Context, conds *predicate.Conditions, rec *manifest.SegmentRecord) (bool, error) {
	if rec.DeleteFlag || rec.RowCount == 0 {
		return false, nil
	}
	zms, err := t.catalog.ZoneMaps(ctx, rec.SegmentID)
	if err != nil {
		return false, err
	}
	if len(zms) == 0 {
		return false, nil
	}

	byColumn := make(map[int]manifest.ZoneMapEntry, len(zms))
	for _, zm := range zms {
		byColumn[zm.ColumnID] = zm
	}
	for _, cid := range conds.ColumnIDs() {
		zm, ok := byColumn[cid]
		if !ok {
			continue
		}
		f := t.schema.Field(cid)
		min, err := types.ParseDatum(f.Type, f.Length, zm.Min)
		if err != nil {
			return false, fmt.Errorf("tablet: bad zone map min for segment %s column %d: %w", rec.SegmentID, cid, err)
		}
		max, err := types.ParseDatum(f.Type, f.Length, zm.Max)
		if err != nil {
			return false, fmt.Errorf("tablet: bad zone map max for segment %s column %d: %w", rec.SegmentID, cid, err)
		}
		if !conds.Column(cid).EvalZone(min, max, zm.HasNull) {
			return true, nil
		}
	}
	return false, nil
}

// pushableConditions mirrors the reader's pushdown split: conditions on
// key columns, or on any column under the duplicate key model. Returns
// nil when any condition fails to parse; the reader reports that error.
func (t *Tablet) pushableConditions(raw []predicate.Condition) *predicate.Conditions {
	conds := predicate.NewConditions(t.schema)
	for _, c := range raw {
		idx := t.schema.FieldIndex(c.ColumnName)
		if idx < 0 {
			return nil
		}
		if !t.schema.Field(idx).IsKey && t.keysType != types.DupKeys {
			continue
		}
		if err := conds.Append(c, true); err != nil {
			return nil
		}
	}
	if conds.Empty() {
		return nil
	}
	return conds
}

// OpenReader assembles the read parameters and opens a reader. The
// tablet fills in the schema, key model, segment source, delete records
// and config; the caller supplies everything else.
func (t *Tablet) OpenReader(ctx context.Context, p reader.Params) (*reader.Reader, error) {
	p.Schema = t.schema
	p.KeysType = t.keysType
	p.Source = t
	p.Config = t.cfg
	if conds := t.pushableConditions(p.Conditions); conds != nil {
		p.Source = &zonePrunedSource{t: t, conds: conds}
	}
	if p.DeleteRecords == nil {
		records, err := t.catalog.DeleteRecords(ctx, t.id)
		if err != nil {
			return nil, err
		}
		p.DeleteRecords = records
	}
	return reader.NewReader(p)
}
