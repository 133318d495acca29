package segment

import (
	"sort"

	"github.com/google/uuid"

	"github.com/strataio/strata/internal/bloom"
	"github.com/strataio/strata/internal/row"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

// defaultBlockRows is the block size used when the iterator does not ask
// for a specific one.
const defaultBlockRows = 1024

// columnStats holds the zone statistics of one column.
type columnStats struct {
	min     types.Datum
	max     types.Datum
	hasNull bool
	valid   bool
}

// MemSegment is a fully materialized in-memory segment. Rows are held in
// key order; statistics and bloom filters are built at construction and
// never change.
type MemSegment struct {
	id         string
	schema     *schema.Schema
	version    types.Version
	deleteFlag bool
	rows       [][]types.Datum
	stats      []columnStats
	blooms     map[int]*bloom.Filter
}

// NewMemSegment builds a segment from rows, sorting them by full key.
// bloomFPR is the target false positive rate for the bloom filters of the
// schema's bloom-filter columns.
func NewMemSegment(id string, s *schema.Schema, version types.Version, deleteFlag bool, rows [][]types.Datum, bloomFPR float64) *MemSegment {
	numKeys := s.NumKeyFields()
	sort.SliceStable(rows, func(i, j int) bool {
		for k := 0; k < numKeys; k++ {
			if cmp := types.CompareDatum(rows[i][k], rows[j][k]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	m := &MemSegment{
		id:         id,
		schema:     s,
		version:    version,
		deleteFlag: deleteFlag,
		rows:       rows,
		stats:      make([]columnStats, s.NumFields()),
		blooms:     make(map[int]*bloom.Filter),
	}
	m.buildStats(bloomFPR)
	return m
}

// NewDeleteMarker builds a zero-row delete-flag segment. It carries the
// version of a delete record and holds no data.
func NewDeleteMarker(s *schema.Schema, version types.Version) *MemSegment {
	return &MemSegment{
		id:         uuid.New().String(),
		schema:     s,
		version:    version,
		deleteFlag: true,
		stats:      make([]columnStats, s.NumFields()),
		blooms:     make(map[int]*bloom.Filter),
	}
}

func (m *MemSegment) buildStats(bloomFPR float64) {
	for cid := 0; cid < m.schema.NumFields(); cid++ {
		var bf *bloom.Filter
		if m.schema.Field(cid).IsBFColumn && len(m.rows) > 0 {
			bf = bloom.NewWithEstimates(len(m.rows), bloomFPR)
			m.blooms[cid] = bf
		}
		st := &m.stats[cid]
		for _, r := range m.rows {
			d := r[cid]
			if d == nil {
				st.hasNull = true
				continue
			}
			if !st.valid || types.CompareDatum(d, st.min) < 0 {
				st.min = d
			}
			if !st.valid || types.CompareDatum(d, st.max) > 0 {
				st.max = d
			}
			st.valid = true
			if bf != nil {
				bf.Add(DatumBytes(m.schema.Field(cid).Type, d))
			}
		}
	}
}

// ID implements Segment.
func (m *MemSegment) ID() string { return m.id }

// Version implements Segment.
func (m *MemSegment) Version() types.Version { return m.version }

// NumRows implements Segment.
func (m *MemSegment) NumRows() int { return len(m.rows) }

// DeleteFlag implements Segment.
func (m *MemSegment) DeleteFlag() bool { return m.deleteFlag }

// ZoneStats implements Segment.
func (m *MemSegment) ZoneStats(columnID int) (types.Datum, types.Datum, bool, bool) {
	if columnID < 0 || columnID >= len(m.stats) {
		return nil, nil, false, false
	}
	st := m.stats[columnID]
	if !st.valid && !st.hasNull {
		return nil, nil, false, false
	}
	return st.min, st.max, st.hasNull, true
}

// BloomFilter implements Segment.
func (m *MemSegment) BloomFilter(columnID int) *bloom.Filter { return m.blooms[columnID] }

// Close implements Segment.
func (m *MemSegment) Close() error { return nil }

// NewIterator implements Segment. The key range is resolved with binary
// search over the sorted rows.
func (m *MemSegment) NewIterator(opts IterOptions) (Iterator, error) {
	lo := 0
	if opts.StartKey != nil {
		lo = m.searchKey(opts.StartKey, opts.StartExclusive)
	}
	hi := len(m.rows)
	if opts.EndKey != nil {
		hi = m.searchKey(opts.EndKey, opts.EndInclusive)
	}
	if hi < lo {
		hi = lo
	}
	blockRows := opts.BlockRows
	if blockRows <= 0 {
		blockRows = defaultBlockRows
	}
	return &memIterator{seg: m, columns: opts.Columns, pos: lo, end: hi, blockRows: blockRows}, nil
}

// searchKey returns the index of the first row whose key prefix is greater
// than the key (pastEqual) or greater-or-equal to it.
func (m *MemSegment) searchKey(key *row.Cursor, pastEqual bool) int {
	n := key.NumKeyColumns()
	return sort.Search(len(m.rows), func(i int) bool {
		cmp := m.cmpPrefix(m.rows[i], key, n)
		if pastEqual {
			return cmp > 0
		}
		return cmp >= 0
	})
}

func (m *MemSegment) cmpPrefix(r []types.Datum, key *row.Cursor, n int) int {
	for i := 0; i < n; i++ {
		if cmp := types.CompareDatum(r[i], key.Datum(i)); cmp != 0 {
			return cmp
		}
	}
	return 0
}

type memIterator struct {
	seg       *MemSegment
	columns   []int
	pos       int
	end       int
	blockRows int
}

func (it *memIterator) NextBlock() (*Block, error) {
	if it.pos >= it.end {
		return nil, ErrDataEOF
	}
	n := it.end - it.pos
	if n > it.blockRows {
		n = it.blockRows
	}
	blk := &Block{Rows: make([][]types.Datum, n)}
	width := it.seg.schema.NumFields()
	for i := 0; i < n; i++ {
		src := it.seg.rows[it.pos+i]
		if len(it.columns) == 0 {
			dst := make([]types.Datum, width)
			copy(dst, src)
			blk.Rows[i] = dst
			continue
		}
		dst := make([]types.Datum, width)
		for _, cid := range it.columns {
			dst[cid] = src[cid]
		}
		blk.Rows[i] = dst
	}
	it.pos += n
	return blk, nil
}

func (it *memIterator) Close() error { return nil }
