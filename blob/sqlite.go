package blob

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single key/value table in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dsn and ensures the blob table
// exists.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	// Same pragmas the stats driver uses; WAL avoids writer starvation when
	// the session lock and session strings are updated concurrently.
	db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open blob db with dsn: %s", dsn)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS blob (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)
	`)
	return errors.Wrap(err, "failed to create blob table")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM blob WHERE key = ?)", key).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check existence of %s", key)
	}
	return exists, nil
}

func (s *SQLite) Read(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM blob WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotExist, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return value, nil
}

func (s *SQLite) Write(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blob (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, data)
	return errors.Wrapf(err, "failed to write %s", key)
}

func (s *SQLite) Touch(ctx context.Context, key string) error {
	return s.Write(ctx, key, nil)
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM blob WHERE key = ?", key)
	return errors.Wrapf(err, "failed to remove %s", key)
}

func (s *SQLite) Glob(ctx context.Context, pattern string) ([]string, error) {
	like := strings.ReplaceAll(pattern, "*", "%")
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM blob WHERE key LIKE ? ORDER BY key", like)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to glob %q", pattern)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "failed to scan blob key")
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "failed to iterate blob keys")
}
