// Package observability tracks predicate frequency and scan counters
// across reads for performance monitoring, such as spotting which
// columns deserve bloom filters. The reader does not consult it.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/strataio/strata/internal/reader"
)

// ScanStats tracks which columns queries filter on and accumulates the
// read path counters of finished scans.
type ScanStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*ColumnStats
	window        time.Duration
	totals        reader.Stats
	scans         int64
}

// ColumnStats holds predicate statistics for one column.
type ColumnStats struct {
	Column    string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int
}

// NewScanStats creates a scan statistics tracker. window bounds how long
// an idle column stays in the frequency table.
func NewScanStats(window time.Duration) *ScanStats {
	return &ScanStats{
		predicateFreq: make(map[string]*ColumnStats),
		window:        window,
	}
}

// RecordPredicate records a pushed-down filter on a column.
func (s *ScanStats) RecordPredicate(column, operator string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, exists := s.predicateFreq[column]
	if !exists {
		stats = &ColumnStats{
			Column:    column,
			Operators: make(map[string]int),
		}
		s.predicateFreq[column] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.Operators[operator]++
}

// RecordScan folds one finished reader's counters into the totals.
func (s *ScanStats) RecordScan(st reader.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scans++
	s.totals.RawRowsRead += st.RawRowsRead
	s.totals.RowsRead += st.RowsRead
	s.totals.MergedRows += st.MergedRows
	s.totals.RowsDelFiltered += st.RowsDelFiltered
	s.totals.RowsStatsFiltered += st.RowsStatsFiltered
	s.totals.RowsBFFiltered += st.RowsBFFiltered
}

// Totals returns the accumulated counters and the number of scans.
func (s *ScanStats) Totals() (reader.Stats, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals, s.scans
}

// TopPredicates returns the n most filtered columns, most frequent
// first. The result is a copy.
func (s *ScanStats) TopPredicates(n int) []ColumnStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.predicateFreq) == 0 {
		return []ColumnStats{}
	}

	stats := make([]ColumnStats, 0, len(s.predicateFreq))
	for _, cs := range s.predicateFreq {
		cp := ColumnStats{
			Column:    cs.Column,
			Frequency: cs.Frequency,
			LastSeen:  cs.LastSeen,
			Operators: make(map[string]int),
		}
		for op, count := range cs.Operators {
			cp.Operators[op] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Frequency > stats[j].Frequency
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune drops columns not filtered on within the window.
func (s *ScanStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for col, stats := range s.predicateFreq {
		if stats.LastSeen.Before(threshold) {
			delete(s.predicateFreq, col)
		}
	}
}
