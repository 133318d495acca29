// Package tombstone applies versioned delete records to the read path.
// A delete record is a conjunction of column conditions attached to a
// version; it erases every matching row in data at or below that version.
package tombstone

import (
	"sort"

	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/pkg/types"
)

// Record is one delete statement as stored in the tablet header.
type Record struct {
	// Version is the version the delete was committed at. It erases rows
	// from data versions at or below it.
	Version int64

	// Conditions is the conjunction of column filters selecting the rows
	// to erase.
	Conditions []predicate.Condition
}

type parsedRecord struct {
	version int64
	conds   *predicate.Conditions
}

// Handler holds the delete records visible to one read, parsed against the
// tablet schema.
type Handler struct {
	schema  *schema.Schema
	records []parsedRecord
}

// NewHandler parses the delete records committed at or below readVersion.
// Records above the read version are invisible to the read and skipped.
func NewHandler(s *schema.Schema, records []Record, readVersion int64) (*Handler, error) {
	h := &Handler{schema: s}
	for _, r := range records {
		if r.Version > readVersion {
			continue
		}
		conds := predicate.NewConditions(s)
		for _, c := range r.Conditions {
			if err := conds.Append(c, true); err != nil {
				return nil, err
			}
		}
		h.records = append(h.records, parsedRecord{version: r.Version, conds: conds})
	}
	sort.Slice(h.records, func(i, j int) bool {
		return h.records[i].version < h.records[j].version
	})
	return h, nil
}

// Empty reports whether no delete record applies to the read.
func (h *Handler) Empty() bool { return len(h.records) == 0 }

// Versions returns the versions of the applicable delete records, ascending.
func (h *Handler) Versions() []int64 {
	vs := make([]int64, len(h.records))
	for i, r := range h.records {
		vs[i] = r.version
	}
	return vs
}

// ColumnIDs returns the schema indices of every column referenced by an
// applicable delete record, deduplicated in first-appearance order.
func (h *Handler) ColumnIDs() []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, r := range h.records {
		for _, cid := range r.conds.ColumnIDs() {
			if _, ok := seen[cid]; ok {
				continue
			}
			seen[cid] = struct{}{}
			ids = append(ids, cid)
		}
	}
	return ids
}

// IsFilterData reports whether a row from the given data version is erased
// by any applicable delete record.
func (h *Handler) IsFilterData(dataVersion int64, row func(columnID int) types.Datum) bool {
	for _, r := range h.records {
		if r.version < dataVersion {
			continue
		}
		if r.conds.EvalRow(row) {
			return true
		}
	}
	return false
}

// EvalZone classifies a whole segment of the given data version against the
// applicable delete records using per-column min/max statistics. A segment
// is fully deleted when any single record erases all of it.
func (h *Handler) EvalZone(dataVersion int64, stats func(columnID int) (min, max types.Datum, hasNull bool)) predicate.Satisfied {
	ret := predicate.DelNotSatisfied
	for _, r := range h.records {
		if r.version < dataVersion {
			continue
		}
		rec := predicate.DelSatisfied
		for _, cid := range r.conds.ColumnIDs() {
			min, max, hasNull := stats(cid)
			switch r.conds.Column(cid).EvalZoneDelete(min, max, hasNull) {
			case predicate.DelNotSatisfied:
				rec = predicate.DelNotSatisfied
			case predicate.DelPartialSatisfied:
				if rec == predicate.DelSatisfied {
					rec = predicate.DelPartialSatisfied
				}
			}
			if rec == predicate.DelNotSatisfied {
				break
			}
		}
		switch rec {
		case predicate.DelSatisfied:
			return predicate.DelSatisfied
		case predicate.DelPartialSatisfied:
			ret = predicate.DelPartialSatisfied
		}
	}
	return ret
}
