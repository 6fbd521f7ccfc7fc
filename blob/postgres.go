package blob

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
)

// Postgres is a Store backed by a key/value table in PostgreSQL. It is the
// production choice when several hosts share the same account sessions.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects to the database at dsn and ensures the blob table
// exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open blob db")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping blob db")
	}

	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS blob (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)
	`)
	return errors.Wrap(err, "failed to create blob table")
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM blob WHERE key = $1)", key).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check existence of %s", key)
	}
	return exists, nil
}

func (p *Postgres) Read(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, "SELECT value FROM blob WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotExist, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return value, nil
}

func (p *Postgres) Write(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blob (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, data)
	return errors.Wrapf(err, "failed to write %s", key)
}

func (p *Postgres) Touch(ctx context.Context, key string) error {
	return p.Write(ctx, key, nil)
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM blob WHERE key = $1", key)
	return errors.Wrapf(err, "failed to remove %s", key)
}

func (p *Postgres) Glob(ctx context.Context, pattern string) ([]string, error) {
	like := strings.ReplaceAll(pattern, "*", "%")
	rows, err := p.db.QueryContext(ctx, "SELECT key FROM blob WHERE key LIKE $1 ORDER BY key", like)
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
