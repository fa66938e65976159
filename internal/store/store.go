// Package store persists task sync mappings in an embedded SQLite
// database.
//
// A mapping ties a local task identity to a remote VTODO and carries the
// bookkeeping the sync engine needs for change detection: the content
// fingerprint from the last reconciliation, the last-known modification
// markers of both sides, and the remote concurrency token. The database
// lives in the state directory (.taskdav/mappings.db by default) and is
// the only thing standing between the engine and re-creating every task
// on the next cycle, so every mutation is flushed immediately.
//
// The store is written for single-process, single-threaded use; cycles
// never run concurrently.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Mapping links one local task to one remote record. Both identities are
// unique across the table; a remote record is never shared by two local
// tasks.
type Mapping struct {
	// LocalID is the short hex identity token embedded in the markdown line.
	LocalID string

	// RemoteUID is the iCalendar UID of the paired VTODO.
	RemoteUID string

	// RemotePath is the resource path of the VTODO on the server.
	RemotePath string

	// ETag is the concurrency token from the last read or write.
	ETag string

	// Fingerprint is the content fingerprint recorded at last sync.
	Fingerprint string

	// LocalModified is when the engine last detected a local change.
	LocalModified time.Time

	// RemoteModified is the remote's LAST-MODIFIED at last sync.
	RemoteModified time.Time

	// LastSynced is when the mapping was last reconciled.
	LastSynced time.Time
}

// Validate checks if the Mapping has valid field values.
func (m *Mapping) Validate() error {
	if m.LocalID == "" {
		return fmt.Errorf("local id is required")
	}
	if m.RemoteUID == "" {
		return fmt.Errorf("remote uid is required")
	}
	if m.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if m.LastSynced.IsZero() {
		return fmt.Errorf("last synced is required")
	}
	return nil
}

// Store wraps the SQLite connection holding the mappings table.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store connection at the specified path. The parent
// directory is created if missing; the schema is initialized on first
// use. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping mapping store: %w", err)
	}

	// Single-threaded access pattern, small pool.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL keeps a crashed cycle from corrupting the table.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA synchronous=FULL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the store. Performs a WAL checkpoint so the main database
// file is complete on disk.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close mapping store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the mappings table if it doesn't exist. This is
// idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS mappings (
		local_id TEXT PRIMARY KEY,
		remote_uid TEXT NOT NULL UNIQUE,
		remote_path TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		local_modified TEXT NOT NULL,
		remote_modified TEXT NOT NULL,
		last_synced TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mappings_last_synced ON mappings(last_synced);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Put inserts or updates a mapping keyed by local id. The remote uid
// stays unique across the table; pairing a second local task to an
// already-mapped remote record fails.
func (s *Store) Put(m *Mapping) error {
	return s.PutContext(context.Background(), m)
}

// PutContext inserts or updates a mapping with context support.
func (s *Store) PutContext(ctx context.Context, m *Mapping) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}

	query := `
	INSERT INTO mappings (
		local_id, remote_uid, remote_path, etag, fingerprint,
		local_modified, remote_modified, last_synced
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_uid = excluded.remote_uid,
		remote_path = excluded.remote_path,
		etag = excluded.etag,
		fingerprint = excluded.fingerprint,
		local_modified = excluded.local_modified,
		remote_modified = excluded.remote_modified,
		last_synced = excluded.last_synced
	`

	_, err := s.conn.ExecContext(ctx, query,
		m.LocalID,
		m.RemoteUID,
		m.RemotePath,
		m.ETag,
		m.Fingerprint,
		m.LocalModified.UTC().Format(time.RFC3339),
		m.RemoteModified.UTC().Format(time.RFC3339),
		m.LastSynced.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping %s: %w", m.LocalID, err)
	}

	return nil
}

// Get retrieves the mapping for a local id. Returns (nil, nil) when the
// task has never been synced.
func (s *Store) Get(localID string) (*Mapping, error) {
	return s.GetContext(context.Background(), localID)
}

// GetContext retrieves a mapping with context support.
func (s *Store) GetContext(ctx context.Context, localID string) (*Mapping, error) {
	return s.getWhere(ctx, "local_id = ?", localID)
}

// GetByRemoteUID retrieves the mapping for a remote uid. Returns
// (nil, nil) when the record is not paired to any local task.
func (s *Store) GetByRemoteUID(remoteUID string) (*Mapping, error) {
	return s.GetByRemoteUIDContext(context.Background(), remoteUID)
}

// GetByRemoteUIDContext retrieves a mapping with context support.
func (s *Store) GetByRemoteUIDContext(ctx context.Context, remoteUID string) (*Mapping, error) {
	return s.getWhere(ctx, "remote_uid = ?", remoteUID)
}

func (s *Store) getWhere(ctx context.Context, where string, arg interface{}) (*Mapping, error) {
	query := `
	SELECT local_id, remote_uid, remote_path, etag, fingerprint,
	       local_modified, remote_modified, last_synced
	FROM mappings
	WHERE ` + where

	m, err := scanMapping(s.conn.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return m, nil
}

// Delete removes a mapping by local id. Returns nil if the mapping
// doesn't exist (idempotent).
func (s *Store) Delete(localID string) error {
	return s.DeleteContext(context.Background(), localID)
}

// DeleteContext removes a mapping with context support.
func (s *Store) DeleteContext(ctx context.Context, localID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM mappings WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping %s: %w", localID, err)
	}
	return nil
}

// All returns every mapping ordered by local id.
func (s *Store) All() ([]*Mapping, error) {
	return s.AllContext(context.Background())
}

// AllContext returns every mapping with context support.
func (s *Store) AllContext(ctx context.Context) ([]*Mapping, error) {
	query := `
	SELECT local_id, remote_uid, remote_path, etag, fingerprint,
	       local_modified, remote_modified, last_synced
	FROM mappings
	ORDER BY local_id
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mappings: %w", err)
	}

	return mappings, nil
}

// Count returns the total number of mappings.
func (s *Store) Count() (int, error) {
	return s.CountContext(context.Background())
}

// CountContext returns the total number of mappings with context support.
func (s *Store) CountContext(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mappings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mappings: %w", err)
	}
	return count, nil
}

// LastSyncTime returns the most recent reconciliation time across all
// mappings, or the zero time when nothing has ever synced.
func (s *Store) LastSyncTime() (time.Time, error) {
	return s.LastSyncTimeContext(context.Background())
}

// LastSyncTimeContext returns the most recent reconciliation time with
// context support.
func (s *Store) LastSyncTimeContext(ctx context.Context) (time.Time, error) {
	var last sql.NullString
	err := s.conn.QueryRowContext(ctx, "SELECT MAX(last_synced) FROM mappings").Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, last.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time: %w", err)
	}
	return t, nil
}

// scanner abstracts sql.Row and sql.Rows for scanMapping.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row scanner) (*Mapping, error) {
	var m Mapping
	var localModified, remoteModified, lastSynced string

	err := row.Scan(
		&m.LocalID,
		&m.RemoteUID,
		&m.RemotePath,
		&m.ETag,
		&m.Fingerprint,
		&localModified,
		&remoteModified,
		&lastSynced,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, localModified); err == nil {
		m.LocalModified = t
	}
	if t, err := time.Parse(time.RFC3339, remoteModified); err == nil {
		m.RemoteModified = t
	}
	if t, err := time.Parse(time.RFC3339, lastSynced); err == nil {
		m.LastSynced = t
	}

	return &m, nil
}
