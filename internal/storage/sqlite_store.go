package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/saurabh2727/property-finder/internal/session"
)

// SQLiteStore keeps session snapshots, their backups and the catalogs they
// reference in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ session.Backend = (*SQLiteStore)(nil)

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) EnsureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
  session_key TEXT PRIMARY KEY,
  data BLOB NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_backups (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_key TEXT NOT NULL,
  data BLOB NOT NULL,
  created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS catalogs (
  id TEXT PRIMARY KEY,
  data BLOB NOT NULL,
  created_at TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_session_backups_key ON session_backups(session_key, id);`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Current(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM session_snapshots WHERE session_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	return data, err
}

func (s *SQLiteStore) Backups(ctx context.Context, key string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT data FROM session_backups
WHERE session_key = ?
ORDER BY id DESC
`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// Commit copies the current row into session_backups, replaces it and prunes
// old backups in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, key string, next []byte, retain int) error {
	if retain < 1 {
		retain = 1
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO session_backups (session_key, data, created_at)
SELECT session_key, data, ? FROM session_snapshots WHERE session_key = ?
`, now, key); err != nil {
		return fmt.Errorf("backup snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO session_snapshots (session_key, data, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(session_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
`, key, next, now); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM session_backups
WHERE session_key = ? AND id NOT IN (
  SELECT id FROM session_backups WHERE session_key = ? ORDER BY id DESC LIMIT ?
)
`, key, key, retain); err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_backups WHERE session_key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

// PutCatalog stores a catalog under its content ID. Existing IDs are left alone.
func (s *SQLiteStore) PutCatalog(ctx context.Context, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO catalogs (id, data, created_at)
VALUES (?, ?, ?)
`, id, data, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetCatalog(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM catalogs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	return data, err
}

// CountSessions reports how many sessions have a committed snapshot.
func (s *SQLiteStore) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_snapshots`).Scan(&n)
	return n, err
}
