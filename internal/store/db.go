package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &DB{Client: db}, nil
}

// Migrate creates the record tables when missing. The unique keys are the
// source of truth for roll number, per-day attendance and single marks.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Client.ExecContext(ctx, schema)
	return errors.Wrap(err, "migrate")
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
	roll_no    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	class      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance_entries (
	seq        BIGSERIAL PRIMARY KEY,
	id         UUID NOT NULL UNIQUE,
	roll_no    TEXT NOT NULL REFERENCES students (roll_no),
	name       TEXT NOT NULL,
	attendance TEXT NOT NULL,
	date       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	day        TEXT NOT NULL,
	UNIQUE (roll_no, day)
);

CREATE INDEX IF NOT EXISTS idx_attendance_roll_date ON attendance_entries (roll_no, date);

CREATE TABLE IF NOT EXISTS marks_entries (
	roll_no     TEXT PRIMARY KEY REFERENCES students (roll_no),
	name        TEXT NOT NULL,
	total_marks DOUBLE PRECISION NOT NULL,
	result      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS record_events (
	id          UUID PRIMARY KEY,
	type        TEXT NOT NULL,
	roll_no     TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
