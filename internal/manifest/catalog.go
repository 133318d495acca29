package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/tombstone"
	"github.com/strataio/strata/pkg/types"
)

// SegmentRecord represents one segment in the manifest.
type SegmentRecord struct {
	SegmentID     string
	TabletID      string
	Version       types.Version
	ObjectKey     string
	RowCount      int64
	SizeBytes     int64
	DeleteFlag    bool
	CreatedAt     time.Time
	CompactedInto *string

	// ZoneMaps holds per-column min/max stats registered with the
	// segment. Empty for segments without stats, such as delete
	// markers. Populated on registration, loaded via Catalog.ZoneMaps.
	ZoneMaps []ZoneMapEntry
}

// ZoneMapEntry is the text-encoded min/max of one column of a segment.
// Values use the column's datum text form so the catalog stays oblivious
// to field types.
type ZoneMapEntry struct {
	ColumnID int
	Min      string
	Max      string
	HasNull  bool
}

// TabletRecord represents one tablet in the manifest.
type TabletRecord struct {
	TabletID  string
	KeysType  types.KeysType
	Schema    *schema.Schema
	CreatedAt time.Time
}

// tabletSchemaJSON is the stored form of a tablet schema.
type tabletSchemaJSON struct {
	Fields            []schema.FieldInfo `json:"fields"`
	NumShortKeyFields int                `json:"num_short_key_fields"`
}

// Catalog manages tablet and segment metadata in manifest.db.
type Catalog struct {
	db     *sql.DB // write connection, single writer
	readDB *sql.DB // read connection pool
	dbPath string
	mu     sync.Mutex // guards writes only

	insertSegmentStmt *sql.Stmt
}

// NewCatalog opens or creates a SQLite-backed catalog at dbPath.
func NewCatalog(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &Catalog{db: db, readDB: readDB, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO segments (
			segment_id, tablet_id, version_lo, version_hi,
			object_key, row_count, size_bytes, delete_flag, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare insert statement: %w", err)
	}
	c.insertSegmentStmt = insertStmt

	return c, nil
}

func (c *Catalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// RegisterTablet adds a tablet to the catalog. Registering an existing
// tablet id is an error.
func (c *Catalog) RegisterTablet(ctx context.Context, tabletID string, keysType types.KeysType, s *schema.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(tabletSchemaJSON{
		Fields:            s.Fields(),
		NumShortKeyFields: s.NumShortKeyFields(),
	})
	if err != nil {
		return fmt.Errorf("manifest: failed to marshal tablet schema: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT INTO tablets (tablet_id, keys_type, schema_json, created_at) VALUES (?, ?, ?, ?)",
		tabletID, int(keysType), string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to register tablet %s: %w", tabletID, err)
	}
	return nil
}

// GetTablet retrieves a tablet and reconstructs its schema.
func (c *Catalog) GetTablet(ctx context.Context, tabletID string) (*TabletRecord, error) {
	var keysType int
	var schemaJSON string
	var createdAtUnix int64

	err := c.readDB.QueryRowContext(ctx,
		"SELECT keys_type, schema_json, created_at FROM tablets WHERE tablet_id = ?",
		tabletID,
	).Scan(&keysType, &schemaJSON, &createdAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("manifest: tablet %s not found", tabletID)
		}
		return nil, fmt.Errorf("manifest: failed to get tablet %s: %w", tabletID, err)
	}

	var stored tabletSchemaJSON
	if err := json.Unmarshal([]byte(schemaJSON), &stored); err != nil {
		return nil, fmt.Errorf("manifest: failed to unmarshal schema for tablet %s: %w", tabletID, err)
	}
	s, err := schema.New(stored.Fields, stored.NumShortKeyFields)
	if err != nil {
		return nil, fmt.Errorf("manifest: stored schema for tablet %s is invalid: %w", tabletID, err)
	}

	return &TabletRecord{
		TabletID:  tabletID,
		KeysType:  types.KeysType(keysType),
		Schema:    s,
		CreatedAt: time.Unix(createdAtUnix, 0),
	}, nil
}

// ListTablets returns the ids of all registered tablets.
func (c *Catalog) ListTablets(ctx context.Context) ([]string, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT tablet_id FROM tablets ORDER BY tablet_id")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list tablets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan tablet id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating tablets: %w", err)
	}
	return ids, nil
}

// RegisterSegment adds a segment and its zone maps to the catalog in a
// single transaction.
func (c *Catalog) RegisterSegment(ctx context.Context, rec *SegmentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleteFlag := 0
	if rec.DeleteFlag {
		deleteFlag = 1
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.StmtContext(ctx, c.insertSegmentStmt).ExecContext(ctx,
		rec.SegmentID, rec.TabletID, rec.Version.Lo, rec.Version.Hi,
		rec.ObjectKey, rec.RowCount, rec.SizeBytes, deleteFlag, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to insert segment %s: %w", rec.SegmentID, err)
	}

	for _, zm := range rec.ZoneMaps {
		hasNull := 0
		if zm.HasNull {
			hasNull = 1
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO zone_maps (segment_id, column_id, min_value, max_value, has_null) VALUES (?, ?, ?, ?, ?)",
			rec.SegmentID, zm.ColumnID, zm.Min, zm.Max, hasNull,
		)
		if err != nil {
			return fmt.Errorf("manifest: failed to insert zone map for segment %s column %d: %w",
				rec.SegmentID, zm.ColumnID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifest: failed to commit segment %s: %w", rec.SegmentID, err)
	}
	return nil
}

// ZoneMaps returns the zone map entries of a segment ordered by column
// id. Segments registered without stats yield an empty result.
func (c *Catalog) ZoneMaps(ctx context.Context, segmentID string) ([]ZoneMapEntry, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT column_id, min_value, max_value, has_null FROM zone_maps WHERE segment_id = ? ORDER BY column_id",
		segmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query zone maps: %w", err)
	}
	defer rows.Close()

	var entries []ZoneMapEntry
	for rows.Next() {
		var zm ZoneMapEntry
		var hasNull int
		if err := rows.Scan(&zm.ColumnID, &zm.Min, &zm.Max, &hasNull); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan zone map: %w", err)
		}
		zm.HasNull = hasNull == 1
		entries = append(entries, zm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating zone maps: %w", err)
	}
	return entries, nil
}

const segmentColumns = `segment_id, tablet_id, version_lo, version_hi,
		object_key, row_count, size_bytes, delete_flag, created_at, compacted_into`

// ListSegments returns all active segments of a tablet ordered by version.
func (c *Catalog) ListSegments(ctx context.Context, tabletID string) ([]*SegmentRecord, error) {
	query := `SELECT ` + segmentColumns + `
		FROM segments
		WHERE tablet_id = ? AND compacted_into IS NULL
		ORDER BY version_lo, version_hi`
	return c.querySegments(ctx, query, tabletID)
}

// SegmentsForVersion returns active segments whose version range is fully
// contained in the read version.
func (c *Catalog) SegmentsForVersion(ctx context.Context, tabletID string, v types.Version) ([]*SegmentRecord, error) {
	query := `SELECT ` + segmentColumns + `
		FROM segments
		WHERE tablet_id = ? AND compacted_into IS NULL
			AND version_lo >= ? AND version_hi <= ?
		ORDER BY version_lo, version_hi`
	return c.querySegments(ctx, query, tabletID, v.Lo, v.Hi)
}

// GetCompactionCandidates returns active segments smaller than maxSize,
// oldest first.
func (c *Catalog) GetCompactionCandidates(ctx context.Context, tabletID string, maxSize int64) ([]*SegmentRecord, error) {
	query := `SELECT ` + segmentColumns + `
		FROM segments
		WHERE tablet_id = ? AND compacted_into IS NULL AND size_bytes < ?
		ORDER BY version_lo, version_hi`
	return c.querySegments(ctx, query, tabletID, maxSize)
}

func (c *Catalog) querySegments(ctx context.Context, query string, args ...interface{}) ([]*SegmentRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query segments: %w", err)
	}
	defer rows.Close()

	var records []*SegmentRecord
	for rows.Next() {
		rec, err := scanSegmentRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating segments: %w", err)
	}
	return records, nil
}

func scanSegmentRecord(rows *sql.Rows) (*SegmentRecord, error) {
	var rec SegmentRecord
	var deleteFlag int
	var createdAtUnix int64

	err := rows.Scan(
		&rec.SegmentID, &rec.TabletID, &rec.Version.Lo, &rec.Version.Hi,
		&rec.ObjectKey, &rec.RowCount, &rec.SizeBytes, &deleteFlag,
		&createdAtUnix, &rec.CompactedInto,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to scan segment: %w", err)
	}
	rec.DeleteFlag = deleteFlag == 1
	rec.CreatedAt = time.Unix(createdAtUnix, 0)
	return &rec, nil
}

// MaxVersion returns the highest version_hi among a tablet's active
// segments, or -1 when the tablet has no segments.
func (c *Catalog) MaxVersion(ctx context.Context, tabletID string) (int64, error) {
	var v int64
	err := c.readDB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version_hi), -1) FROM segments WHERE tablet_id = ? AND compacted_into IS NULL",
		tabletID,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("manifest: failed to get max version for tablet %s: %w", tabletID, err)
	}
	return v, nil
}

// MarkCompacted marks source segments as compacted into target within a
// single transaction.
func (c *Catalog) MarkCompacted(ctx context.Context, sourceIDs []string, targetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM segments WHERE segment_id = ?", targetID).Scan(&exists); err != nil {
		return fmt.Errorf("manifest: target segment %s not found: %w", targetID, err)
	}

	for _, sourceID := range sourceIDs {
		result, err := tx.ExecContext(ctx,
			"UPDATE segments SET compacted_into = ? WHERE segment_id = ? AND compacted_into IS NULL",
			targetID, sourceID,
		)
		if err != nil {
			return fmt.Errorf("manifest: failed to mark segment %s as compacted: %w", sourceID, err)
		}
		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return fmt.Errorf("manifest: segment %s not found or already compacted", sourceID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifest: failed to commit compaction: %w", err)
	}
	return nil
}

// DeleteExpired removes compacted segments older than ttl and returns
// their object keys so the caller can delete the objects from storage.
func (c *Catalog) DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()

	rows, err := c.db.QueryContext(ctx,
		`SELECT segment_id, object_key FROM segments
		 WHERE compacted_into IS NOT NULL AND created_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query expired segments: %w", err)
	}
	defer rows.Close()

	var ids, keys []string
	for rows.Next() {
		var id, key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan expired segment: %w", err)
		}
		ids = append(ids, id)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating expired segments: %w", err)
	}

	for _, id := range ids {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM zone_maps WHERE segment_id = ?", id); err != nil {
			return nil, fmt.Errorf("manifest: failed to delete zone maps for segment %s: %w", id, err)
		}
		if _, err := c.db.ExecContext(ctx, "DELETE FROM segments WHERE segment_id = ?", id); err != nil {
			return nil, fmt.Errorf("manifest: failed to delete segment %s: %w", id, err)
		}
	}
	return keys, nil
}

// ListObjectKeys returns the object keys of all segments of a tablet,
// compacted ones included. Used to reconcile the catalog against object
// storage.
func (c *Catalog) ListObjectKeys(ctx context.Context, tabletID string) ([]string, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT object_key FROM segments WHERE tablet_id = ?", tabletID)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query object keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan object key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating object keys: %w", err)
	}
	return keys, nil
}

// AddDeleteRecord stores the delete conditions that apply to data at
// versions up to and including version.
func (c *Catalog) AddDeleteRecord(ctx context.Context, tabletID string, version int64, conditions []predicate.Condition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("manifest: failed to marshal delete conditions: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		"INSERT INTO delete_records (tablet_id, version, conditions_json, created_at) VALUES (?, ?, ?, ?)",
		tabletID, version, string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to insert delete record: %w", err)
	}
	return nil
}

// DeleteRecords returns all delete records of a tablet ordered by
// version.
func (c *Catalog) DeleteRecords(ctx context.Context, tabletID string) ([]tombstone.Record, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT version, conditions_json FROM delete_records WHERE tablet_id = ? ORDER BY version",
		tabletID,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query delete records: %w", err)
	}
	defer rows.Close()

	var records []tombstone.Record
	for rows.Next() {
		var version int64
		var condJSON string
		if err := rows.Scan(&version, &condJSON); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan delete record: %w", err)
		}
		var conds []predicate.Condition
		if err := json.Unmarshal([]byte(condJSON), &conds); err != nil {
			return nil, fmt.Errorf("manifest: failed to unmarshal delete conditions: %w", err)
		}
		records = append(records, tombstone.Record{Version: version, Conditions: conds})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating delete records: %w", err)
	}
	return records, nil
}

// PruneDeleteRecords removes delete records at or below version. Called
// after a base compaction has folded them into the data.
func (c *Catalog) PruneDeleteRecords(ctx context.Context, tabletID string, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"DELETE FROM delete_records WHERE tablet_id = ? AND version <= ?",
		tabletID, version,
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to prune delete records: %w", err)
	}
	return nil
}

// RunAnalyze updates SQLite query planner statistics. Should be called
// after bulk inserts.
func (c *Catalog) RunAnalyze(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, AnalyzeSQL); err != nil {
		return fmt.Errorf("manifest: failed to run ANALYZE: %w", err)
	}
	return nil
}

// Close closes the catalog database connections.
func (c *Catalog) Close() error {
	if c.insertSegmentStmt != nil {
		c.insertSegmentStmt.Close()
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
