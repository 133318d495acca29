package segment

import (
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

// Writer accumulates rows for a new segment. Rows are kept in a btree
// ordered by full key so Finish can emit them already sorted; an
// insertion sequence breaks ties so duplicate keys survive in arrival
// order.
type Writer struct {
	schema     *schema.Schema
	version    types.Version
	deleteFlag bool
	bloomFPR   float64
	tree       *btree.BTreeG[writerItem]
	seq        int
	id         string
}

type writerItem struct {
	row []types.Datum
	key []types.Datum
	seq int
}

// NewWriter creates a writer for one segment at the given data version.
// bloomFPR is the target false positive rate for the bloom filters built
// at Finish.
func NewWriter(s *schema.Schema, version types.Version, bloomFPR float64) *Writer {
	numKeys := s.NumKeyFields()
	less := func(a, b writerItem) bool {
		for i := 0; i < numKeys; i++ {
			c := types.CompareDatum(a.key[i], b.key[i])
			if c != 0 {
				return c < 0
			}
		}
		return a.seq < b.seq
	}
	return &Writer{
		schema:   s,
		version:  version,
		bloomFPR: bloomFPR,
		tree:     btree.NewG(32, less),
		id:       uuid.New().String(),
	}
}

// SetDeleteFlag marks the segment as carrying a batch delete. Readers
// skip delete pruning for such segments.
func (w *Writer) SetDeleteFlag(flag bool) { w.deleteFlag = flag }

// ID returns the generated segment id.
func (w *Writer) ID() string { return w.id }

// NumRows returns the number of buffered rows.
func (w *Writer) NumRows() int { return w.tree.Len() }

// WriteRow buffers one row. The slice is retained; callers must not
// reuse it.
func (w *Writer) WriteRow(row []types.Datum) error {
	if len(row) != w.schema.NumFields() {
		return fmt.Errorf("segment: row has %d columns, schema has %d", len(row), w.schema.NumFields())
	}
	for i := 0; i < w.schema.NumKeyFields(); i++ {
		if row[i] == nil {
			return fmt.Errorf("segment: key column %s is null", w.schema.Field(i).Name)
		}
	}
	w.tree.ReplaceOrInsert(writerItem{row: row, key: row[:w.schema.NumKeyFields()], seq: w.seq})
	w.seq++
	return nil
}

// Finish builds the in-memory segment from the buffered rows. The
// writer must not be reused afterwards.
func (w *Writer) Finish() (*MemSegment, error) {
	if w.tree.Len() == 0 {
		return nil, fmt.Errorf("segment: no rows written")
	}
	rows := make([][]types.Datum, 0, w.tree.Len())
	w.tree.Ascend(func(it writerItem) bool {
		rows = append(rows, it.row)
		return true
	})
	m := NewMemSegment(w.id, w.schema, w.version, w.deleteFlag, rows, w.bloomFPR)
	w.tree.Clear(false)
	return m, nil
}
