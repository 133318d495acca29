// Package compaction merges a tablet's segments into fewer, larger ones.
// Cumulative compaction folds recent singleton versions together; base
// compaction folds everything down to one segment and retires the delete
// records it absorbed.
package compaction

import (
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/pkg/types"
)

// CandidateGroup is a set of contiguous-version segments selected for one
// merge.
type CandidateGroup struct {
	TabletID string
	Records  []*manifest.SegmentRecord

	// Version is the span covered by the merged output.
	Version types.Version
}

// SelectBase groups all active segments of a tablet. Returns nil when
// there is nothing to merge.
func SelectBase(tabletID string, recs []*manifest.SegmentRecord) *CandidateGroup {
	if len(recs) < 2 {
		return nil
	}
	return newGroup(tabletID, recs)
}

// SelectCumulative picks the longest contiguous run of small singleton
// version segments, newest versions included. Segments spanning more
// than one version are prior compaction output and are left alone.
// Returns nil when fewer than minSources qualify.
func SelectCumulative(tabletID string, recs []*manifest.SegmentRecord, minSources, maxSources int) *CandidateGroup {
	if minSources < 2 {
		minSources = 2
	}

	var best []*manifest.SegmentRecord
	var run []*manifest.SegmentRecord
	for _, rec := range recs {
		if rec.Version.Lo != rec.Version.Hi {
			if len(run) > len(best) {
				best = run
			}
			run = nil
			continue
		}
		if len(run) > 0 && run[len(run)-1].Version.Hi+1 != rec.Version.Lo {
			if len(run) > len(best) {
				best = run
			}
			run = nil
		}
		run = append(run, rec)
		if maxSources > 0 && len(run) == maxSources {
			break
		}
	}
	if len(run) > len(best) {
		best = run
	}
	if len(best) < minSources {
		return nil
	}
	return newGroup(tabletID, best)
}

func newGroup(tabletID string, recs []*manifest.SegmentRecord) *CandidateGroup {
	v := recs[0].Version
	for _, rec := range recs[1:] {
		if rec.Version.Lo < v.Lo {
			v.Lo = rec.Version.Lo
		}
		if rec.Version.Hi > v.Hi {
			v.Hi = rec.Version.Hi
		}
	}
	return &CandidateGroup{TabletID: tabletID, Records: recs, Version: v}
}
