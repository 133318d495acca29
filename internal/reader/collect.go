package reader

import (
	"container/heap"
	"errors"

	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/row"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/segment"
	"github.com/strataio/strata/pkg/types"
)

// childCtx is one segment's cursor within the collect iterator. It refills
// row blocks from the segment iterator and applies per-row filtering for
// partially deleted segments and pushed-down conditions.
type childCtx struct {
	seg         segment.Segment
	schema      *schema.Schema
	columns     []int
	blockRows   int
	order       int
	dataVersion int64
	deleteFlag  bool

	// deletePartial marks a segment that survived delete pruning with
	// rows still to be erased one by one.
	deletePartial bool
	oracle        DeleteOracle
	conds         *predicate.Conditions
	stats         *Stats

	cursor *row.Cursor
	iter   segment.Iterator
	block  *segment.Block
	idx    int
}

func newChildCtx(seg segment.Segment, s *schema.Schema, columns []int, blockRows, order int) *childCtx {
	return &childCtx{
		seg:         seg,
		schema:      s,
		columns:     columns,
		blockRows:   blockRows,
		order:       order,
		dataVersion: seg.Version().Hi,
		deleteFlag:  seg.DeleteFlag(),
		cursor:      row.NewCursorWithColumns(s, columns),
	}
}

// attach opens the child on a scan range and positions it on its first
// surviving row. Returns segment.ErrDataEOF when the range holds none.
func (c *childCtx) attach(b rangeBounds) error {
	if c.iter != nil {
		c.iter.Close()
		c.iter = nil
	}
	iter, err := c.seg.NewIterator(segment.IterOptions{
		Columns:        c.columns,
		StartKey:       b.start,
		StartExclusive: b.startExclusive,
		EndKey:         b.end,
		EndInclusive:   b.endInclusive,
		BlockRows:      c.blockRows,
	})
	if err != nil {
		return err
	}
	c.iter = iter
	c.block = nil
	c.idx = -1
	return c.next()
}

// next advances to the following surviving row.
func (c *childCtx) next() error {
	for {
		c.idx++
		if c.block == nil || c.idx >= c.block.NumRows() {
			blk, err := c.iter.NextBlock()
			if err != nil {
				return err
			}
			c.stats.RawRowsRead += int64(blk.NumRows())
			c.block = blk
			c.idx = 0
		}
		r := c.block.Rows[c.idx]
		if c.conds != nil && !c.conds.EvalRow(func(cid int) types.Datum { return r[cid] }) {
			continue
		}
		if c.deletePartial && c.oracle != nil &&
			c.oracle.IsFilterData(c.dataVersion, func(cid int) types.Datum { return r[cid] }) {
			c.stats.RowsDelFiltered++
			continue
		}
		c.cursor.AttachRow(r)
		return nil
	}
}

func (c *childCtx) close() {
	if c.iter != nil {
		c.iter.Close()
		c.iter = nil
	}
}

// childHeap orders children by current full key ascending, then data
// version ascending so versions of one key stream oldest first and newer
// values fold over older ones, then by acquisition order for determinism.
type childHeap struct {
	items   []*childCtx
	numKeys int
}

func (h *childHeap) Len() int { return len(h.items) }

func (h *childHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	for k := 0; k < h.numKeys; k++ {
		if cmp := types.CompareDatum(a.cursor.Datum(k), b.cursor.Datum(k)); cmp != 0 {
			return cmp < 0
		}
	}
	if a.dataVersion != b.dataVersion {
		return a.dataVersion < b.dataVersion
	}
	return a.order < b.order
}

func (h *childHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *childHeap) Push(x any) { h.items = append(h.items, x.(*childCtx)) }

func (h *childHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// collectIterator folds the attached children into one row stream. In
// merge mode children are interleaved in key order through a min-heap; in
// concat mode they are drained one after another.
type collectIterator struct {
	merge    bool
	heap     *childHeap
	children []*childCtx
	cur      int
}

func newCollectIterator(merge bool, numKeys int) *collectIterator {
	return &collectIterator{merge: merge, heap: &childHeap{numKeys: numKeys}}
}

// reset drops the previous range's children.
func (ci *collectIterator) reset() {
	ci.heap.items = ci.heap.items[:0]
	ci.children = ci.children[:0]
	ci.cur = 0
}

// addChild registers a positioned child for the current range.
func (ci *collectIterator) addChild(c *childCtx) {
	if ci.merge {
		ci.heap.items = append(ci.heap.items, c)
		return
	}
	ci.children = append(ci.children, c)
}

// build finalizes the child set after attachment.
func (ci *collectIterator) build() {
	if ci.merge {
		heap.Init(ci.heap)
	}
}

// current returns the child holding the smallest row, or nil when the
// range is drained.
func (ci *collectIterator) current() *childCtx {
	if ci.merge {
		if len(ci.heap.items) == 0 {
			return nil
		}
		return ci.heap.items[0]
	}
	if ci.cur >= len(ci.children) {
		return nil
	}
	return ci.children[ci.cur]
}

// next advances the stream. Returns segment.ErrDataEOF when the current
// range is fully drained.
func (ci *collectIterator) next() error {
	if ci.merge {
		if len(ci.heap.items) == 0 {
			return segment.ErrDataEOF
		}
		top := ci.heap.items[0]
		if err := top.next(); err != nil {
			if !errors.Is(err, segment.ErrDataEOF) {
				return err
			}
			heap.Pop(ci.heap)
			top.close()
		} else {
			heap.Fix(ci.heap, 0)
		}
		if len(ci.heap.items) == 0 {
			return segment.ErrDataEOF
		}
		return nil
	}
	if ci.cur >= len(ci.children) {
		return segment.ErrDataEOF
	}
	if err := ci.children[ci.cur].next(); err != nil {
		if !errors.Is(err, segment.ErrDataEOF) {
			return err
		}
		ci.children[ci.cur].close()
		ci.cur++
		if ci.cur >= len(ci.children) {
			return segment.ErrDataEOF
		}
	}
	return nil
}

// closeAll releases every remaining child of the current range.
func (ci *collectIterator) closeAll() {
	for _, c := range ci.heap.items {
		c.close()
	}
	for i := ci.cur; i < len(ci.children); i++ {
		ci.children[i].close()
	}
}
