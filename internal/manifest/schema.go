// Package manifest provides the manifest catalog for tracking tablet and
// segment metadata.
package manifest

// The manifest catalog is a SQLite database that serves as the source of
// truth for tablet schemas, registered segments, and delete records.

// CreateTabletsTableSQL creates the tablets table. The column layout is
// stored as JSON so the catalog can reconstruct a schema without the
// original config file.
const CreateTabletsTableSQL = `
CREATE TABLE IF NOT EXISTS tablets (
    tablet_id TEXT PRIMARY KEY,
    keys_type INTEGER NOT NULL,
    schema_json TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateSegmentsTableSQL creates the segments table. Each row is one
// segment object with its version range and object storage key.
const CreateSegmentsTableSQL = `
CREATE TABLE IF NOT EXISTS segments (
    segment_id TEXT PRIMARY KEY,
    tablet_id TEXT NOT NULL,
    version_lo INTEGER NOT NULL,
    version_hi INTEGER NOT NULL,
    object_key TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    delete_flag INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    compacted_into TEXT,
    FOREIGN KEY (tablet_id) REFERENCES tablets(tablet_id),
    FOREIGN KEY (compacted_into) REFERENCES segments(segment_id)
)`

// CreateSegmentsIndexesSQL creates indexes for segment lookup. Filtered
// conditions exclude compacted segments from active queries.
var CreateSegmentsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_segments_tablet ON segments(tablet_id, version_lo, version_hi)
		WHERE compacted_into IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_segments_size ON segments(tablet_id, size_bytes)
		WHERE compacted_into IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_segments_created ON segments(created_at)`,
}

// CreateDeleteRecordsTableSQL creates the delete records table. A record
// holds the conjunctive delete conditions that apply to data at versions
// up to and including its version.
const CreateDeleteRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS delete_records (
    tablet_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    conditions_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (tablet_id, version),
    FOREIGN KEY (tablet_id) REFERENCES tablets(tablet_id)
) WITHOUT ROWID`

// CreateZoneMapsTableSQL creates the zone maps table. Each row holds
// the text-encoded min and max of one column of one segment, so a
// version load can discard segments before fetching their objects.
// Segments written without stats have no rows here and are never
// pruned.
const CreateZoneMapsTableSQL = `
CREATE TABLE IF NOT EXISTS zone_maps (
    segment_id TEXT NOT NULL,
    column_id INTEGER NOT NULL,
    min_value TEXT NOT NULL,
    max_value TEXT NOT NULL,
    has_null INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (segment_id, column_id),
    FOREIGN KEY (segment_id) REFERENCES segments(segment_id)
) WITHOUT ROWID`

// AnalyzeSQL keeps the SQLite query planner informed about index
// statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all SQL statements needed to initialize the
// manifest catalog.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateTabletsTableSQL,
		CreateSegmentsTableSQL,
		CreateDeleteRecordsTableSQL,
		CreateZoneMapsTableSQL,
	}
	stmts = append(stmts, CreateSegmentsIndexesSQL...)
	return stmts
}
