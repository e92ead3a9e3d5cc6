// Package store is the optional Postgres sink for canonical records and
// segments.
package store

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}

	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. The driver name of db decides the
// bind variable style, so tests should pass "pgx".
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id               TEXT NOT NULL,
		fingerprint      TEXT PRIMARY KEY,
		sent_at          TIMESTAMPTZ,
		raw_timestamp    TEXT NOT NULL DEFAULT '',
		sender_kind      TEXT NOT NULL,
		sender_value     TEXT NOT NULL DEFAULT '',
		is_from_me       BOOLEAN NOT NULL,
		contents         TEXT NOT NULL,
		readtime         JSONB,
		attachments      JSONB NOT NULL DEFAULT '[]',
		source_device_id TEXT NOT NULL,
		schema_version   TEXT NOT NULL,
		features         JSONB,
		extracted        JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_sent_at_idx ON messages (sent_at)`,
	`CREATE TABLE IF NOT EXISTS segments (
		id                     UUID PRIMARY KEY,
		run_id                 UUID NOT NULL,
		segment_id             INTEGER NOT NULL,
		segment_date           TEXT NOT NULL,
		start_time             TEXT NOT NULL,
		end_time               TEXT NOT NULL,
		message_count          INTEGER NOT NULL,
		participants           JSONB NOT NULL,
		time_gaps              JSONB NOT NULL,
		total_duration_minutes DOUBLE PRECISION NOT NULL,
		avg_gap_minutes        DOUBLE PRECISION NOT NULL,
		max_gap_minutes        DOUBLE PRECISION NOT NULL,
		min_gap_minutes        DOUBLE PRECISION NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (run_id, segment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS segment_messages (
		segment_uuid UUID NOT NULL REFERENCES segments (id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		message_id   TEXT NOT NULL,
		PRIMARY KEY (segment_uuid, position)
	)`,
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CountMessages returns the number of stored records.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM messages`); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
