package schedstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
)

// SQLiteStore persists snapshots in a SQLite database, one row per
// manager identifier.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

var _ Store = (*SQLiteStore)(nil)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS job_schedule_snapshots (
	manager_id TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	saved_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// OpenSQLite opens (creating if needed) a snapshot database at path.
// The returned store owns the connection and closes it on Close.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("schedstore: opening %s: %w", path, err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore wraps an existing database handle. The caller owns the
// *sql.DB lifecycle; the store will not close it on Close.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(snapshotSchema); err != nil {
		return nil, fmt.Errorf("schedstore: creating snapshot table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveSnapshot implements Store.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, managerID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_schedule_snapshots (manager_id, payload, saved_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT (manager_id) DO UPDATE SET
			payload  = excluded.payload,
			saved_at = excluded.saved_at`,
		managerID, blob)
	if err != nil {
		return fmt.Errorf("schedstore: saving snapshot for %s: %w", managerID, err)
	}
	return nil
}

// LoadSnapshot implements Store.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, managerID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM job_schedule_snapshots WHERE manager_id = ?`,
		managerID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, managerID)
	}
	if err != nil {
		return nil, fmt.Errorf("schedstore: loading snapshot for %s: %w", managerID, err)
	}
	return blob, nil
}

// DeleteSnapshot implements Store.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, managerID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM job_schedule_snapshots WHERE manager_id = ?`, managerID); err != nil {
		return fmt.Errorf("schedstore: deleting snapshot for %s: %w", managerID, err)
	}
	return nil
}

// Close implements Store. It closes the database only when the store
// opened it itself.
func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
