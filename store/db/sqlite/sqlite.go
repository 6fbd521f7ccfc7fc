package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/tgscan/internal/profile"
	"github.com/hrygo/tgscan/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No foreign key constraints: the schema has none, but it's a good
	// practice to be explicit and prevent future surprises on SQLite upgrades.
	// - Journal mode set to WAL: it's the recommended journal mode for most
	// applications as it prevents locking issues.
	//
	// Note: with the `modernc.org/sqlite` driver each pragma must be prefixed
	// with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite: a single connection is optimal with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const migration = `
CREATE TABLE IF NOT EXISTS channels (
	username TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	username TEXT NOT NULL,
	reach INTEGER NOT NULL,
	subscribers INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS msgs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	link TEXT NOT NULL,
	reach INTEGER NOT NULL,
	likes INTEGER NOT NULL,
	replies INTEGER NOT NULL,
	forwards INTEGER NOT NULL,
	datetime TIMESTAMP NOT NULL,
	text TEXT NOT NULL
);
`

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, migration); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

func (d *DB) ListChannels(ctx context.Context) ([]store.ChannelRow, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT username FROM channels ORDER BY username")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list channels")
	}
	defer rows.Close()

	var channels []store.ChannelRow
	for rows.Next() {
		var ch store.ChannelRow
		if err := rows.Scan(&ch.Username); err != nil {
			return nil, errors.Wrap(err, "failed to scan channel row")
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (d *DB) UpsertChannel(ctx context.Context, username string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO channels (username) VALUES (?) ON CONFLICT (username) DO NOTHING",
		username,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert channel %s", username)
	}
	return nil
}

func (d *DB) InsertStats(ctx context.Context, createdAt time.Time, stats []store.StatRow) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO stats (created_at, username, reach, subscribers) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return errors.Wrap(err, "failed to prepare stats insert")
	}
	defer stmt.Close()

	for _, row := range stats {
		if _, err := stmt.ExecContext(ctx, createdAt.UTC(), row.Username, row.Reach, row.Subscribers); err != nil {
			return errors.Wrapf(err, "failed to insert stats for %s", row.Username)
		}
	}
	return tx.Commit()
}

func (d *DB) ListStats(ctx context.Context) ([]store.StatRow, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT created_at, username, reach, subscribers FROM stats ORDER BY created_at, username",
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stats")
	}
	defer rows.Close()

	var stats []store.StatRow
	for rows.Next() {
		var row store.StatRow
		if err := rows.Scan(&row.CreatedAt, &row.Username, &row.Reach, &row.Subscribers); err != nil {
			return nil, errors.Wrap(err, "failed to scan stats row")
		}
		stats = append(stats, row)
	}
	return stats, rows.Err()
}

func (d *DB) ReplaceMsgs(ctx context.Context, msgs []store.MsgRow) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM msgs"); err != nil {
		return errors.Wrap(err, "failed to clear msgs")
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO msgs (username, link, reach, likes, replies, forwards, datetime, text) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return errors.Wrap(err, "failed to prepare msgs insert")
	}
	defer stmt.Close()

	for _, row := range msgs {
		_, err := stmt.ExecContext(ctx,
			row.Username, row.Link, row.Reach, row.Likes, row.Replies, row.Forwards,
			row.Datetime.UTC(), row.Text,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to insert msg %s", row.Link)
		}
	}
	return tx.Commit()
}

func (d *DB) ListMsgs(ctx context.Context) ([]store.MsgRow, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT username, link, reach, likes, replies, forwards, datetime, text FROM msgs ORDER BY datetime DESC",
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list msgs")
	}
	defer rows.Close()

	var msgs []store.MsgRow
	for rows.Next() {
		var row store.MsgRow
		err := rows.Scan(
			&row.Username, &row.Link, &row.Reach, &row.Likes, &row.Replies,
			&row.Forwards, &row.Datetime, &row.Text,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan msg row")
		}
		msgs = append(msgs, row)
	}
	return msgs, rows.Err()
}
