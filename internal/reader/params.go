// Package reader implements the tablet read path: version-bounded segment
// acquisition, zone and bloom pruning, versioned delete filtering, and
// k-way merge of sorted segments under the tablet's key model.
package reader

import (
	"github.com/strataio/strata/internal/config"
	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/segment"
	"github.com/strataio/strata/internal/tombstone"
	"github.com/strataio/strata/pkg/types"
)

// Type tells the reader who is consuming it. Queries read through the
// segment cache; every type except cumulative compaction filters rows
// erased by delete records.
type Type int

const (
	TypeQuery Type = iota
	TypeChecksum
	TypeAlterTablet
	TypeBaseCompaction
	TypeCumulativeCompaction
)

// String returns a short name for logging.
func (t Type) String() string {
	switch t {
	case TypeQuery:
		return "query"
	case TypeChecksum:
		return "checksum"
	case TypeAlterTablet:
		return "alter"
	case TypeBaseCompaction:
		return "base_compaction"
	case TypeCumulativeCompaction:
		return "cumulative_compaction"
	}
	return "unknown"
}

// SegmentSource hands out the segments covering a version range. The
// tablet implements it for the query path; compaction passes segments
// directly through Params.Segments.
type SegmentSource interface {
	AcquireDataSources(v types.Version, useCache bool) ([]segment.Segment, error)
}

// Params configures one Reader.
type Params struct {
	Schema   *schema.Schema
	KeysType types.KeysType
	Type     Type

	// Version is the read version. Rows committed above Version.Hi are
	// invisible.
	Version types.Version

	// Aggregation asks the reader to fold rows sharing a full key. Only
	// meaningful under the aggregate key model.
	Aggregation bool

	// Range and EndRange are the boundary operators of the scan ranges:
	// "gt", "ge" or "eq" for Range, "lt" or "le" for EndRange. Empty
	// defaults to "gt" and "lt".
	Range    string
	EndRange string

	// StartKeys and EndKeys are parallel lists of scan range bounds, each
	// a key prefix in column order. Empty StartKeys means a full scan.
	StartKeys [][]string
	EndKeys   [][]string

	// Conditions are the pushed-down column filters. Conditions on key
	// columns, or on any column under the duplicate key model, are applied
	// to every row before merging, not-equal and not-in included; those
	// two prune a zone only when its min and max pin it to excluded
	// values. The other conditions are returned by UnpushedConditions.
	Conditions []predicate.Condition

	// DeleteRecords are the tablet's delete statements.
	DeleteRecords []tombstone.Record

	// ReturnColumns are the schema indices to materialize. Must be set
	// for query and checksum reads, must be empty for maintenance reads.
	ReturnColumns []int

	// Segments are pre-acquired data sources, used by the compaction and
	// alter paths instead of Source.
	Segments []segment.Segment

	// Source acquires data sources for the query and checksum paths.
	Source SegmentSource

	// Config supplies reader knobs. Nil falls back to defaults.
	Config *config.Config
}

func (p *Params) config() *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.DefaultConfig()
}

// Stats counts what the read path did. Counters are cumulative over the
// reader's lifetime.
type Stats struct {
	// RawRowsRead counts rows decoded from segment blocks before any
	// merge or delete filtering.
	RawRowsRead int64

	// RowsRead counts rows returned to the caller.
	RowsRead int64

	// MergedRows counts rows folded away by key merging.
	MergedRows int64

	// RowsDelFiltered counts rows dropped by delete records and
	// tombstones.
	RowsDelFiltered int64

	// RowsStatsFiltered counts rows skipped by whole-segment zone and
	// delete pruning.
	RowsStatsFiltered int64

	// RowsBFFiltered counts rows skipped by bloom filter pruning.
	RowsBFFiltered int64
}

// DeleteOracle answers whether a row of a given data version is erased by
// a delete record. tombstone.Handler implements it.
type DeleteOracle interface {
	IsFilterData(dataVersion int64, row func(columnID int) types.Datum) bool
}
