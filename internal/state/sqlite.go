package state

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores state in a local database file so incremental runs survive
// process restarts.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	table := `
	CREATE TABLE IF NOT EXISTS run_state (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at DATETIME
	);
	`
	if _, err := db.Exec(table); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (*string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM run_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value *string) error {
	if value == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM run_state WHERE key = ?`, key)
		return err
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, *value, now)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

func init() {
	Register("sqlite", func(dsn string) (Store, error) { return OpenSQLite(dsn) })
}
