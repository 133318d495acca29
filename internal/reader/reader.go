package reader

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	strataerrors "github.com/strataio/strata/internal/errors"
	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/row"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/segment"
	"github.com/strataio/strata/internal/tombstone"
	"github.com/strataio/strata/pkg/types"
)

// ErrEOF marks the end of the row stream. It aliases the segment sentinel
// so callers can test either.
var ErrEOF = segment.ErrDataEOF

var log = logrus.WithField("component", "reader")

// Reader is one read over a tablet's segments at a fixed version. It
// returns rows in key order, merged according to the tablet's key model.
// A Reader is not safe for concurrent use.
type Reader struct {
	schema      *schema.Schema
	keysType    types.KeysType
	readerType  Type
	aggregation bool
	version     types.Version

	scannerRowLimit int
	blockRows       int

	conditions *predicate.Conditions
	pushable   *predicate.Conditions
	unpushed   []predicate.Condition
	bfColumns  map[int]struct{}

	deleteHandler *tombstone.Handler

	returnColumns []int
	keyCids       []int
	valueCids     []int
	seekColumns   []int

	ranges   []rangeBounds
	rangeIdx int

	segments    []segment.Segment
	ownSegments bool
	children    []*childCtx
	collect     *collectIterator

	stats   Stats
	nextRow func(dst *row.Cursor) error
	closed  bool
}

// NewReader builds a reader and positions it on its first row. The
// returned reader owns segments it acquired through Params.Source and
// closes them on Close.
func NewReader(p Params) (*Reader, error) {
	if p.Schema == nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInputParameter,
			"reader params missing schema")
	}
	if p.Version.Lo < 0 || p.Version.Hi < p.Version.Lo {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInputParameter,
			fmt.Sprintf("invalid read version %s", p.Version))
	}
	cfg := p.config()
	r := &Reader{
		schema:          p.Schema,
		keysType:        p.KeysType,
		readerType:      p.Type,
		aggregation:     p.Aggregation,
		version:         p.Version,
		scannerRowLimit: cfg.Scan.ScannerRowLimit,
		blockRows:       cfg.Segment.BlockRows,
	}

	if err := r.initConditions(&p, cfg.Scan.MaxInListPushdown); err != nil {
		return nil, err
	}
	if err := r.initDeleteCondition(&p); err != nil {
		return nil, err
	}
	if err := r.initReturnColumns(&p); err != nil {
		return nil, err
	}
	if err := r.initKeysParam(&p); err != nil {
		return nil, err
	}
	r.initSeekColumns()
	if err := r.acquireDataSources(&p); err != nil {
		return nil, err
	}

	merge := true
	if r.readerType == TypeQuery && (r.aggregation || r.keysType == types.DupKeys) {
		merge = false
	}
	r.collect = newCollectIterator(merge, r.schema.NumKeyFields())

	switch r.keysType {
	case types.DupKeys:
		r.nextRow = r.dupKeyNextRow
	case types.UniqueKeys:
		r.nextRow = r.uniqueKeyNextRow
	case types.AggKeys:
		r.nextRow = r.aggKeyNextRow
	default:
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidSchema,
			fmt.Sprintf("unknown keys type %v", r.keysType))
	}

	if err := r.attachNextRange(); err != nil && !errors.Is(err, segment.ErrDataEOF) {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"type":     r.readerType.String(),
		"version":  r.version.String(),
		"segments": len(r.children),
		"ranges":   len(r.ranges),
		"merge":    merge,
	}).Debug("reader opened")
	return r, nil
}

// initConditions parses the pushed-down filters and splits out the subset
// that is safe to evaluate before merging. Filters on aggregated value
// columns see pre-merge values and must run after the merge, so they are
// kept aside and reported through UnpushedConditions.
func (r *Reader) initConditions(p *Params, maxInList int) error {
	r.conditions = predicate.NewConditions(r.schema)
	r.pushable = predicate.NewConditions(r.schema)
	for _, raw := range p.Conditions {
		if err := r.conditions.Append(raw, true); err != nil {
			return err
		}
		idx := r.schema.FieldIndex(raw.ColumnName)
		if r.schema.Field(idx).IsKey || r.keysType == types.DupKeys {
			if err := r.pushable.Append(raw, true); err != nil {
				return err
			}
		} else {
			r.unpushed = append(r.unpushed, raw)
		}
	}
	r.initLoadBFColumns(p, maxInList)
	return nil
}

// initLoadBFColumns selects the condition columns whose bloom filters are
// worth probing: equality and small IN conditions on bloom-filter columns,
// minus key prefix columns already pinned by the scan range.
func (r *Reader) initLoadBFColumns(p *Params, maxInList int) {
	r.bfColumns = make(map[int]struct{})
	for _, cid := range r.conditions.ColumnIDs() {
		for _, c := range r.conditions.Column(cid).Conds() {
			if c.Op() == predicate.OpEq ||
				(c.Op() == predicate.OpIn && c.NumOperands() < maxInList) {
				r.bfColumns[cid] = struct{}{}
			}
		}
	}
	for i := 0; i < r.schema.NumFields(); i++ {
		if !r.schema.Field(i).IsBFColumn {
			delete(r.bfColumns, i)
		}
	}

	minScanKeyLen := r.schema.NumFields()
	for _, k := range p.StartKeys {
		if len(k) < minScanKeyLen {
			minScanKeyLen = len(k)
		}
	}
	for _, k := range p.EndKeys {
		if len(k) < minScanKeyLen {
			minScanKeyLen = len(k)
		}
	}

	maxEqualIndex := -1
	for i := range p.StartKeys {
		end := p.StartKeys[i]
		if i < len(p.EndKeys) {
			end = p.EndKeys[i]
		}
		j := 0
		for ; j < minScanKeyLen; j++ {
			if p.StartKeys[i][j] != end[j] {
				break
			}
		}
		if maxEqualIndex < j-1 {
			maxEqualIndex = j - 1
		}
	}

	for i := 0; i < maxEqualIndex; i++ {
		delete(r.bfColumns, i)
	}
	if maxEqualIndex >= 0 {
		ft := r.schema.FieldTypeByIndex(maxEqualIndex)
		if (ft != types.FieldTypeVarchar && ft != types.FieldTypeHLL) ||
			maxEqualIndex+1 > r.schema.NumShortKeyFields() {
			delete(r.bfColumns, maxEqualIndex)
		}
	}
}

// initDeleteCondition loads the delete records visible at the read
// version. Cumulative compaction keeps deleted rows so later base
// compaction can apply the records once.
func (r *Reader) initDeleteCondition(p *Params) error {
	records := p.DeleteRecords
	if p.Type == TypeCumulativeCompaction {
		records = nil
	}
	h, err := tombstone.NewHandler(r.schema, records, p.Version.Hi)
	if err != nil {
		return err
	}
	r.deleteHandler = h
	return nil
}

func (r *Reader) initReturnColumns(p *Params) error {
	switch {
	case p.Type == TypeQuery:
		r.returnColumns = append(r.returnColumns, p.ReturnColumns...)
		if !r.deleteHandler.Empty() && p.Aggregation {
			seen := make(map[int]struct{}, len(r.returnColumns))
			for _, cid := range r.returnColumns {
				seen[cid] = struct{}{}
			}
			for _, cid := range r.deleteHandler.ColumnIDs() {
				if _, ok := seen[cid]; !ok {
					seen[cid] = struct{}{}
					r.returnColumns = append(r.returnColumns, cid)
				}
			}
		}
		r.splitKeyValueCids(p.ReturnColumns)
	case len(p.ReturnColumns) == 0:
		for i := 0; i < r.schema.NumFields(); i++ {
			r.returnColumns = append(r.returnColumns, i)
		}
		r.splitKeyValueCids(r.returnColumns)
	case p.Type == TypeChecksum:
		r.returnColumns = append(r.returnColumns, p.ReturnColumns...)
		r.splitKeyValueCids(p.ReturnColumns)
	default:
		return strataerrors.NewValidationError(strataerrors.CodeInputParameter,
			fmt.Sprintf("reader type %s does not take return columns", p.Type))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(r.keyCids)))
	return nil
}

func (r *Reader) splitKeyValueCids(columns []int) {
	for _, cid := range columns {
		if r.schema.Field(cid).IsKey {
			r.keyCids = append(r.keyCids, cid)
		} else {
			r.valueCids = append(r.valueCids, cid)
		}
	}
}

// initSeekColumns widens the materialized column set to everything the
// read path touches: returned columns, condition columns, and the key
// prefix covered by the scan bounds.
func (r *Reader) initSeekColumns() {
	want := make(map[int]struct{}, len(r.returnColumns))
	for _, cid := range r.returnColumns {
		want[cid] = struct{}{}
	}
	for _, cid := range r.conditions.ColumnIDs() {
		want[cid] = struct{}{}
	}
	maxKeyLen := r.maxScanKeyLen()
	for i := 0; i < r.schema.NumFields(); i++ {
		if _, ok := want[i]; i < maxKeyLen || ok {
			r.seekColumns = append(r.seekColumns, i)
		}
	}
}

// acquireDataSources collects the segments covering the read version and
// prunes those that provably hold no surviving row.
func (r *Reader) acquireDataSources(p *Params) error {
	var segs []segment.Segment
	switch p.Type {
	case TypeAlterTablet, TypeBaseCompaction, TypeCumulativeCompaction:
		segs = p.Segments
	default:
		if p.Source != nil {
			useCache := p.Type == TypeQuery
			acquired, err := p.Source.AcquireDataSources(p.Version, useCache)
			if err != nil {
				return err
			}
			if len(acquired) < 1 {
				return strataerrors.NewTabletError(strataerrors.CodeVersionNotExist,
					fmt.Sprintf("no data sources for version %s", p.Version))
			}
			segs = acquired
			r.ownSegments = true
		} else {
			segs = p.Segments
		}
	}

	order := 0
	for _, seg := range segs {
		if seg == nil || seg.NumRows() == 0 {
			continue
		}
		if r.pruneByZone(seg) {
			r.stats.RowsStatsFiltered += int64(seg.NumRows())
			continue
		}
		if r.pruneByBloom(seg) {
			r.stats.RowsBFFiltered += int64(seg.NumRows())
			continue
		}
		deletePartial := false
		if !r.deleteHandler.Empty() && !seg.DeleteFlag() {
			switch r.deleteHandler.EvalZone(seg.Version().Hi, func(cid int) (types.Datum, types.Datum, bool) {
				min, max, hasNull, _ := seg.ZoneStats(cid)
				return min, max, hasNull
			}) {
			case predicate.DelSatisfied:
				r.stats.RowsDelFiltered += int64(seg.NumRows())
				continue
			case predicate.DelPartialSatisfied:
				deletePartial = true
			}
		}
		child := newChildCtx(seg, r.schema, r.seekColumns, r.blockRows, order)
		child.stats = &r.stats
		child.deletePartial = deletePartial
		child.oracle = r.deleteHandler
		if !r.pushable.Empty() {
			child.conds = r.pushable
		}
		r.children = append(r.children, child)
		r.segments = append(r.segments, seg)
		order++
	}
	return nil
}

// pruneByZone drops a segment when its column statistics rule out every
// pushed-down condition match.
func (r *Reader) pruneByZone(seg segment.Segment) bool {
	for _, cid := range r.pushable.ColumnIDs() {
		min, max, hasNull, ok := seg.ZoneStats(cid)
		if !ok {
			continue
		}
		if !r.pushable.Column(cid).EvalZone(min, max, hasNull) {
			return true
		}
	}
	return false
}

// pruneByBloom drops a segment when a bloom filter proves an equality or
// IN condition cannot match.
func (r *Reader) pruneByBloom(seg segment.Segment) bool {
	for cid := range r.bfColumns {
		bf := seg.BloomFilter(cid)
		if bf == nil {
			continue
		}
		ft := r.schema.Field(cid).Type
		for _, c := range r.conditions.Column(cid).Conds() {
			switch c.Op() {
			case predicate.OpEq:
				if !bf.Contains(segment.DatumBytes(ft, c.Operand())) {
					return true
				}
			case predicate.OpIn:
				any := false
				for _, d := range c.Operands() {
					if bf.Contains(segment.DatumBytes(ft, d)) {
						any = true
						break
					}
				}
				if !any {
					return true
				}
			}
		}
	}
	return false
}

// attachNextRange positions every child on the next scan range and
// rebuilds the merge set. Returns segment.ErrDataEOF when every range has
// been consumed.
func (r *Reader) attachNextRange() error {
	for r.rangeIdx < len(r.ranges) {
		b := r.ranges[r.rangeIdx]
		r.rangeIdx++
		r.collect.reset()
		for _, c := range r.children {
			err := c.attach(b)
			if err != nil {
				if errors.Is(err, segment.ErrDataEOF) {
					continue
				}
				return err
			}
			r.collect.addChild(c)
		}
		r.collect.build()
		if r.collect.current() != nil {
			return nil
		}
	}
	return segment.ErrDataEOF
}

// current returns the child positioned on the smallest unread row,
// attaching further scan ranges as earlier ones drain.
func (r *Reader) current() (*childCtx, error) {
	for {
		if c := r.collect.current(); c != nil {
			return c, nil
		}
		if err := r.attachNextRange(); err != nil {
			return nil, err
		}
	}
}

// NextRow reads the next merged row into dst, which must be a cursor over
// at least the reader's return columns. Returns ErrEOF at end of stream.
func (r *Reader) NextRow(dst *row.Cursor) error {
	if r.closed {
		return strataerrors.NewReadError(strataerrors.CodeGetIterator, "reader is closed", nil)
	}
	return r.nextRow(dst)
}

func (r *Reader) dupKeyNextRow(dst *row.Cursor) error {
	c, err := r.current()
	if err != nil {
		return err
	}
	dst.CopyFrom(c.cursor)
	r.stats.RowsRead++
	if err := r.collect.next(); err != nil && !errors.Is(err, segment.ErrDataEOF) {
		return err
	}
	return nil
}

func (r *Reader) aggKeyNextRow(dst *row.Cursor) error {
	c, err := r.current()
	if err != nil {
		return err
	}
	dst.AggInit(c.cursor)
	merged := int64(0)
	for {
		if err := r.collect.next(); err != nil {
			if errors.Is(err, segment.ErrDataEOF) {
				break
			}
			return err
		}
		next := r.collect.current()
		if r.aggregation && merged > int64(r.scannerRowLimit) {
			break
		}
		if !r.keysEqual(dst, next.cursor) {
			break
		}
		r.aggregateValues(dst, next.cursor)
		merged++
	}
	r.stats.MergedRows += merged
	r.stats.RowsRead++
	return nil
}

func (r *Reader) uniqueKeyNextRow(dst *row.Cursor) error {
	for {
		c, err := r.current()
		if err != nil {
			return err
		}
		curDelete := c.deleteFlag
		dst.AggInit(c.cursor)
		merged := int64(0)
		for {
			if err := r.collect.next(); err != nil {
				if errors.Is(err, segment.ErrDataEOF) {
					break
				}
				return err
			}
			next := r.collect.current()
			if r.aggregation && merged > int64(r.scannerRowLimit) {
				break
			}
			if !r.keysEqual(dst, next.cursor) {
				break
			}
			curDelete = next.deleteFlag
			r.aggregateValues(dst, next.cursor)
			merged++
		}
		r.stats.MergedRows += merged
		if !curDelete {
			r.stats.RowsRead++
			return nil
		}
		r.stats.RowsDelFiltered++
	}
}

func (r *Reader) keysEqual(a, b *row.Cursor) bool {
	for _, cid := range r.keyCids {
		if types.CompareDatum(a.Datum(cid), b.Datum(cid)) != 0 {
			return false
		}
	}
	return true
}

func (r *Reader) aggregateValues(dst, src *row.Cursor) {
	for _, cid := range r.valueCids {
		method := r.schema.Field(cid).Aggregation
		dst.SetDatum(cid, row.AggregateDatum(method, dst.Datum(cid), src.Datum(cid)))
	}
}

// NewRowCursor returns a cursor sized for NextRow output.
func (r *Reader) NewRowCursor() *row.Cursor {
	return row.NewCursorWithColumns(r.schema, r.seekColumns)
}

// ReturnColumns returns the materialized column ids in output order.
func (r *Reader) ReturnColumns() []int { return r.returnColumns }

// SeekColumns returns every column id the read path touches.
func (r *Reader) SeekColumns() []int { return r.seekColumns }

// KeyColumnIDs returns the returned key column ids, descending.
func (r *Reader) KeyColumnIDs() []int { return r.keyCids }

// ValueColumnIDs returns the returned value column ids in output order.
func (r *Reader) ValueColumnIDs() []int { return r.valueCids }

// LoadBFColumns returns the column ids selected for bloom filter probing.
func (r *Reader) LoadBFColumns() map[int]struct{} { return r.bfColumns }

// UnpushedConditions returns the filters the reader could not apply
// before merging. The caller must evaluate them on the returned rows.
func (r *Reader) UnpushedConditions() []predicate.Condition { return r.unpushed }

// Stats returns a snapshot of the read counters.
func (r *Reader) Stats() Stats { return r.stats }

// Close releases the reader's cursors and any segments it acquired.
// Closing twice is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.collect != nil {
		r.collect.closeAll()
	}
	for _, c := range r.children {
		c.close()
	}
	if r.ownSegments {
		for _, seg := range r.segments {
			if err := seg.Close(); err != nil {
				log.WithError(err).Warn("failed to close segment")
			}
		}
	}
	log.WithFields(logrus.Fields{
		"rows_read":    r.stats.RowsRead,
		"merged_rows":  r.stats.MergedRows,
		"del_filtered": r.stats.RowsDelFiltered,
	}).Debug("reader closed")
	return nil
}
