// Package store persists collected channel statistics.
package store

import (
	"context"
	"database/sql"
	"time"
)

// ChannelRow is a channel the collector is asked to scan.
type ChannelRow struct {
	Username string
}

// StatRow is one per-channel statistics snapshot. Rows written in one batch
// share a single CreatedAt.
type StatRow struct {
	CreatedAt   time.Time
	Username    string
	Reach       int
	Subscribers int
}

// MsgRow is one per-message statistics record. The msgs table holds only the
// latest batch; saving replaces it wholesale.
type MsgRow struct {
	Username string
	Link     string
	Reach    int
	Likes    int
	Replies  int
	Forwards int
	Datetime time.Time
	Text     string
}

// Driver is the database-specific backend of the store.
type Driver interface {
	GetDB() *sql.DB

	// Migrate creates the channels, stats and msgs tables.
	Migrate(ctx context.Context) error

	ListChannels(ctx context.Context) ([]ChannelRow, error)
	UpsertChannel(ctx context.Context, username string) error

	// InsertStats appends a snapshot batch stamped with createdAt.
	InsertStats(ctx context.Context, createdAt time.Time, rows []StatRow) error
	ListStats(ctx context.Context) ([]StatRow, error)

	// ReplaceMsgs swaps the whole msgs table for rows.
	ReplaceMsgs(ctx context.Context, rows []MsgRow) error
	ListMsgs(ctx context.Context) ([]MsgRow, error)

	Close() error
}

// Timestamps are stored in UTC and served in Moscow time.
var moscow = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}()

// Duration reported by SinceLastUpdate when no stats exist yet.
const neverUpdated = 365 * 24 * time.Hour

// Store provides database access to the collected statistics.
type Store struct {
	driver Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) ListChannels(ctx context.Context) ([]ChannelRow, error) {
	return s.driver.ListChannels(ctx)
}

func (s *Store) UpsertChannel(ctx context.Context, username string) error {
	return s.driver.UpsertChannel(ctx, username)
}

// SaveStats appends the snapshot batch, stamping every row with the same
// moment.
func (s *Store) SaveStats(ctx context.Context, rows []StatRow) error {
	return s.driver.InsertStats(ctx, time.Now().UTC(), rows)
}

// SaveMsgs replaces the stored message batch.
func (s *Store) SaveMsgs(ctx context.Context, rows []MsgRow) error {
	return s.driver.ReplaceMsgs(ctx, rows)
}

// ListStats returns every snapshot row, timestamps in Moscow time.
func (s *Store) ListStats(ctx context.Context) ([]StatRow, error) {
	rows, err := s.driver.ListStats(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].CreatedAt = rows[i].CreatedAt.In(moscow)
	}
	return rows, nil
}

// ListMsgs returns the stored message batch, timestamps in Moscow time.
func (s *Store) ListMsgs(ctx context.Context) ([]MsgRow, error) {
	rows, err := s.driver.ListMsgs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Datetime = rows[i].Datetime.In(moscow)
	}
	return rows, nil
}

// LastStats returns the rows of the most recent snapshot.
func (s *Store) LastStats(ctx context.Context) ([]StatRow, error) {
	rows, err := s.ListStats(ctx)
	if err != nil {
		return nil, err
	}
	var last time.Time
	for _, row := range rows {
		if row.CreatedAt.After(last) {
			last = row.CreatedAt
		}
	}
	var out []StatRow
	for _, row := range rows {
		if row.CreatedAt.Equal(last) {
			out = append(out, row)
		}
	}
	return out, nil
}

// SinceLastUpdate returns the time elapsed since the newest snapshot, or a
// year when the stats table is empty.
func (s *Store) SinceLastUpdate(ctx context.Context) (time.Duration, error) {
	rows, err := s.driver.ListStats(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return neverUpdated, nil
	}
	var last time.Time
	for _, row := range rows {
		if row.CreatedAt.After(last) {
			last = row.CreatedAt
		}
	}
	return time.Since(last), nil
}
