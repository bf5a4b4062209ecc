// Package quota enforces the free daily practice allowance. Usage accrues
// while a session runs and persists across restarts, keyed to the local
// calendar day. Day boundaries and elapsed time follow the wall clock, so
// a system clock or timezone change during a session skews accounting.
package quota

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// usageKey is the single row the store reads and writes.
const usageKey = "daily_usage"

// dayFormat keys usage to the local calendar day.
const dayFormat = "2006-01-02"

// record is the stored JSON shape. Field names are part of the on-disk
// format and must not change.
type record struct {
	Date       string `json:"date"`
	TimeUsedMs int64  `json:"timeUsedMs"`
}

// Store persists the current day's usage in a small key-value table. A
// missing, unreadable, or stale record always reads as zero usage for
// today, never as an error.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// OpenStore opens (creating if needed) the usage database at path and runs
// pending migrations.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now, logger: logger}, nil
}

// Load returns today's recorded usage. Records from previous days reset to
// zero; malformed records are discarded with a warning.
func (s *Store) Load() time.Duration {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, usageKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0
	}
	if err != nil {
		s.logger.Warn("reading usage record", "error", err)
		return 0
	}

	var rec record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		s.logger.Warn("discarding malformed usage record", "error", err)
		return 0
	}
	if rec.Date != s.now().Format(dayFormat) {
		return 0
	}
	if rec.TimeUsedMs < 0 {
		return 0
	}
	return time.Duration(rec.TimeUsedMs) * time.Millisecond
}

// Save writes today's usage, replacing any previous record.
func (s *Store) Save(used time.Duration) error {
	rec := record{
		Date:       s.now().Format(dayFormat),
		TimeUsedMs: used.Milliseconds(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		usageKey, string(value),
	)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
