// Package store provides the durable local store for the Inkwell data layer.
//
// The store is an embedded SQLite database (via ncruces/go-sqlite3) opened in
// WAL mode. It holds every collection's records with secondary indexes, the
// persisted sync queue, and a small synchronous settings table. Every put and
// delete is transactional: the record row and its index columns are written
// fully or not at all, and the stored bytes already carry correct metadata
// because callers stamp records through the Tracker before persisting.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inkwell-app/inkwell/internal/record"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with data-layer specific functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrStorageUnavailable, err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: failed to apply %q: %v", ErrStorageUnavailable, pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection. The sync queue operates
// directly on this handle so queue rows share the store's durability.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// BeginTx starts a transaction on the underlying database. Callers use it to
// commit a record write and its queue item as one unit.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	return tx, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT NOT NULL,
		collection TEXT NOT NULL,
		project_id TEXT,       -- parent project for child collections
		payload TEXT NOT NULL, -- JSON document
		version INTEGER NOT NULL,
		sync_status TEXT NOT NULL,
		cloud_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (id, collection)
	);

	-- Persisted sync queue: strict FIFO by seq, one item per record id
	-- (coalescing keeps it that way). version is the record version the
	-- payload snapshot was taken at; the engine keys its acknowledgments
	-- on it.
	CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		collection TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		enqueued_at TEXT NOT NULL
	);

	-- Small synchronous key-value store; no sync queue attached.
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
	CREATE INDEX IF NOT EXISTS idx_records_project ON records(collection, project_id);
	CREATE INDEX IF NOT EXISTS idx_records_status ON records(sync_status);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", mapError(err))
	}

	return nil
}

// PutRecord inserts or updates a record.
//
// The record must already carry metadata stamped by the Tracker; the store
// never invents sync state. The row and its index columns land in a single
// statement, so the write is all-or-nothing.
func (s *Store) PutRecord(rec *record.Record) error {
	return s.PutRecordContext(context.Background(), rec)
}

// PutRecordContext inserts or updates a record with context support.
func (s *Store) PutRecordContext(ctx context.Context, rec *record.Record) error {
	return s.putRecord(ctx, s.conn, rec)
}

// PutRecordTx inserts or updates a record inside an open transaction, so the
// row commits together with its sync queue item.
func (s *Store) PutRecordTx(ctx context.Context, tx *sql.Tx, rec *record.Record) error {
	return s.putRecord(ctx, tx, rec)
}

func (s *Store) putRecord(ctx context.Context, ex execer, rec *record.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if rec.Meta.Version < 1 {
		return fmt.Errorf("invalid record: version must be at least 1 (got %d)", rec.Meta.Version)
	}

	projectID, err := rec.ParentProject()
	if err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	query := `
	INSERT INTO records (
		id, collection, project_id, payload, version,
		sync_status, cloud_id, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id, collection) DO UPDATE SET
		project_id = excluded.project_id,
		payload = excluded.payload,
		version = excluded.version,
		sync_status = excluded.sync_status,
		cloud_id = excluded.cloud_id,
		updated_at = excluded.updated_at
	`

	_, err = ex.ExecContext(ctx, query,
		rec.ID,
		string(rec.Collection),
		nullString(projectID),
		string(rec.Payload),
		rec.Meta.Version,
		string(rec.Meta.SyncStatus),
		nullString(rec.Meta.CloudID),
		rec.Meta.CreatedAt.Format(time.RFC3339Nano),
		rec.Meta.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", rec.Collection, rec.ID, mapError(err))
	}

	return nil
}

// GetRecord retrieves a single record by collection and id.
// Returns (nil, nil) if the record does not exist.
func (s *Store) GetRecord(collection record.Collection, id string) (*record.Record, error) {
	return s.GetRecordContext(context.Background(), collection, id)
}

// GetRecordContext retrieves a single record with context support.
func (s *Store) GetRecordContext(ctx context.Context, collection record.Collection, id string) (*record.Record, error) {
	query := `
	SELECT id, collection, payload, version, sync_status, cloud_id, created_at, updated_at
	FROM records
	WHERE collection = ? AND id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, string(collection), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", collection, id, mapError(err))
	}
	return rec, nil
}

// ListRecords retrieves all records in a collection ordered by creation time.
func (s *Store) ListRecords(collection record.Collection) ([]*record.Record, error) {
	return s.ListRecordsContext(context.Background(), collection)
}

// ListRecordsContext retrieves all records in a collection with context support.
func (s *Store) ListRecordsContext(ctx context.Context, collection record.Collection) ([]*record.Record, error) {
	query := `
	SELECT id, collection, payload, version, sync_status, cloud_id, created_at, updated_at
	FROM records
	WHERE collection = ?
	ORDER BY created_at ASC, id ASC
	`
	return s.queryRecords(ctx, query, string(collection))
}

// ListByProject retrieves records of one collection belonging to a project,
// via the project_id secondary index.
func (s *Store) ListByProject(collection record.Collection, projectID string) ([]*record.Record, error) {
	return s.ListByProjectContext(context.Background(), collection, projectID)
}

// ListByProjectContext retrieves a project's records with context support.
func (s *Store) ListByProjectContext(ctx context.Context, collection record.Collection, projectID string) ([]*record.Record, error) {
	query := `
	SELECT id, collection, payload, version, sync_status, cloud_id, created_at, updated_at
	FROM records
	WHERE collection = ? AND project_id = ?
	ORDER BY created_at ASC, id ASC
	`
	return s.queryRecords(ctx, query, string(collection), projectID)
}

// ListByStatus retrieves records across all collections with the given sync
// status. Used to surface conflict records for manual reconciliation.
func (s *Store) ListByStatus(status record.SyncStatus) ([]*record.Record, error) {
	return s.ListByStatusContext(context.Background(), status)
}

// ListByStatusContext retrieves records by sync status with context support.
func (s *Store) ListByStatusContext(ctx context.Context, status record.SyncStatus) ([]*record.Record, error) {
	query := `
	SELECT id, collection, payload, version, sync_status, cloud_id, created_at, updated_at
	FROM records
	WHERE sync_status = ?
	ORDER BY updated_at ASC, id ASC
	`
	return s.queryRecords(ctx, query, string(status))
}

// DeleteRecord removes a record. Returns nil if it doesn't exist (idempotent).
func (s *Store) DeleteRecord(collection record.Collection, id string) error {
	return s.DeleteRecordContext(context.Background(), collection, id)
}

// DeleteRecordContext removes a record with context support.
func (s *Store) DeleteRecordContext(ctx context.Context, collection record.Collection, id string) error {
	return s.deleteRecord(ctx, s.conn, collection, id)
}

// DeleteRecordTx removes a record inside an open transaction, so the delete
// commits together with its tombstone queue item.
func (s *Store) DeleteRecordTx(ctx context.Context, tx *sql.Tx, collection record.Collection, id string) error {
	return s.deleteRecord(ctx, tx, collection, id)
}

func (s *Store) deleteRecord(ctx context.Context, ex execer, collection record.Collection, id string) error {
	query := `DELETE FROM records WHERE collection = ? AND id = ?`
	if _, err := ex.ExecContext(ctx, query, string(collection), id); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

// Clear removes every record in one collection.
func (s *Store) Clear(collection record.Collection) error {
	return s.ClearContext(context.Background(), collection)
}

// ClearContext removes every record in one collection with context support.
func (s *Store) ClearContext(ctx context.Context, collection record.Collection) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, string(collection)); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}
	return nil
}

// ClearAll wipes records, queue, and settings in one transaction.
// Irreversible; used for account reset.
func (s *Store) ClearAll() error {
	return s.ClearAllContext(context.Background())
}

// ClearAllContext wipes the store with context support.
func (s *Store) ClearAllContext(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"records", "sync_queue", "settings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateMetadata overwrites a record's metadata columns without touching the
// payload. Callers compute the metadata through the Tracker.
func (s *Store) UpdateMetadata(collection record.Collection, id string, meta record.Metadata) error {
	return s.UpdateMetadataContext(context.Background(), collection, id, meta)
}

// UpdateMetadataContext overwrites metadata with context support.
func (s *Store) UpdateMetadataContext(ctx context.Context, collection record.Collection, id string, meta record.Metadata) error {
	query := `
	UPDATE records SET sync_status = ?, cloud_id = ?
	WHERE collection = ? AND id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query,
		string(meta.SyncStatus), nullString(meta.CloudID), string(collection), id); err != nil {
		return fmt.Errorf("failed to update metadata for %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

// UpdateMetadataIfVersion applies metadata only if the stored version still
// equals version. Returns false if the record changed (or vanished) since
// that version was read, in which case nothing is written. This is the guard
// that makes "synced" mean "acknowledged for the exact version sent".
func (s *Store) UpdateMetadataIfVersion(collection record.Collection, id string, version int64, meta record.Metadata) (bool, error) {
	return s.UpdateMetadataIfVersionContext(context.Background(), collection, id, version, meta)
}

// UpdateMetadataIfVersionContext is UpdateMetadataIfVersion with context support.
func (s *Store) UpdateMetadataIfVersionContext(ctx context.Context, collection record.Collection, id string, version int64, meta record.Metadata) (bool, error) {
	query := `
	UPDATE records SET sync_status = ?, cloud_id = ?
	WHERE collection = ? AND id = ? AND version = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		string(meta.SyncStatus), nullString(meta.CloudID), string(collection), id, version)
	if err != nil {
		return false, fmt.Errorf("failed to update metadata for %s/%s: %w", collection, id, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Stats summarizes the local store contents.
type Stats struct {
	CountsPerCollection map[record.Collection]int `json:"counts_per_collection"`
	TotalBytes          int64                     `json:"total_bytes"`
	QueueSize           int                       `json:"queue_size"`
}

// GetStats returns per-collection counts, total payload bytes, and the
// pending queue size.
func (s *Store) GetStats() (*Stats, error) {
	return s.GetStatsContext(context.Background())
}

// GetStatsContext returns store statistics with context support.
func (s *Store) GetStatsContext(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CountsPerCollection: make(map[record.Collection]int),
	}
	for _, c := range record.Collections() {
		stats.CountsPerCollection[c] = 0
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT collection, COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM records GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var collection string
		var count int
		var bytes int64
		if err := rows.Scan(&collection, &count, &bytes); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.CountsPerCollection[record.Collection(collection)] = count
		stats.TotalBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&stats.QueueSize); err != nil {
		return nil, fmt.Errorf("failed to query queue size: %w", err)
	}

	return stats, nil
}

// queryRecords runs a record SELECT and scans the results.
func (s *Store) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*record.Record, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", mapError(err))
	}
	defer rows.Close()

	var recs []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return recs, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanRecord scans a single record row in the standard column order.
func scanRecord(row rowScanner) (*record.Record, error) {
	var rec record.Record
	var collection, payload string
	var cloudID sql.NullString
	var createdAt, updatedAt string
	var status string

	err := row.Scan(
		&rec.ID,
		&collection,
		&payload,
		&rec.Meta.Version,
		&status,
		&cloudID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Collection = record.Collection(collection)
	rec.Payload = json.RawMessage(payload)
	rec.Meta.SyncStatus = record.SyncStatus(status)
	if cloudID.Valid {
		rec.Meta.CloudID = cloudID.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.Meta.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.Meta.UpdatedAt = t
	}

	return &rec, nil
}

// nullString converts "" to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
