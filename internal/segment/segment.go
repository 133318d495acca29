// Package segment defines the data sources of the read path: immutable
// sorted runs of rows with per-column statistics and bloom filters, an
// in-memory form for fresh writes, and an on-disk form with compressed
// blocks.
package segment

import (
	"errors"

	"github.com/strataio/strata/internal/bloom"
	"github.com/strataio/strata/internal/row"
	"github.com/strataio/strata/pkg/types"
)

// ErrDataEOF is returned by iterators when the segment is exhausted.
var ErrDataEOF = errors.New("segment: end of data")

// Segment is one immutable sorted run of rows at a version.
type Segment interface {
	// ID identifies the segment within its tablet.
	ID() string

	// Version is the version range the segment covers.
	Version() types.Version

	// NumRows is the row count, zero for an empty segment.
	NumRows() int

	// DeleteFlag reports whether the segment was produced by a delete
	// load. Under the unique key model its rows are tombstones.
	DeleteFlag() bool

	// ZoneStats returns the min/max/null statistics of a column. ok is
	// false when the segment carries no statistics for it.
	ZoneStats(columnID int) (min, max types.Datum, hasNull bool, ok bool)

	// BloomFilter returns the column's bloom filter, or nil when the
	// column does not carry one.
	BloomFilter(columnID int) *bloom.Filter

	// NewIterator opens a block iterator over the requested columns and
	// key range.
	NewIterator(opts IterOptions) (Iterator, error)

	// Close releases the segment's resources.
	Close() error
}

// IterOptions bounds an iterator to a key range and column set.
type IterOptions struct {
	// Columns are the schema column ids to materialize. Empty means all.
	Columns []int

	// StartKey positions the iterator at the first row of the range. Nil
	// starts at the beginning of the segment.
	StartKey *row.Cursor

	// StartExclusive skips rows whose key prefix equals StartKey.
	StartExclusive bool

	// EndKey bounds the iterator. Nil runs to the end of the segment.
	EndKey *row.Cursor

	// EndInclusive keeps rows whose key prefix equals EndKey.
	EndInclusive bool

	// BlockRows caps the rows per returned block. Zero uses the segment
	// default.
	BlockRows int
}

// Iterator yields row blocks in key order until ErrDataEOF.
type Iterator interface {
	NextBlock() (*Block, error)
	Close() error
}

// Block is a batch of decoded rows. Each row is indexed by schema column
// id; columns outside the iterator's selection are nil.
type Block struct {
	Rows [][]types.Datum
}

// NumRows returns the number of rows in the block.
func (b *Block) NumRows() int { return len(b.Rows) }
