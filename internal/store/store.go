// Package store persists birthdays, the transient-role log, manual wishes
// and scheduler run metadata in a single SQLite file.
//
// The reconciler and the command handlers share one *Store without extra
// locking; correctness relies on SQLite's atomic upsert/delete semantics
// per row.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"wishbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Birthday is one member's recurring date. Matching is by (day, month);
// year is kept as metadata only.
type Birthday struct {
	MemberID int64
	Day      int
	Month    int
	Year     int
}

// RoleLogEntry records that a member currently holds the transient birthday
// role, and since which reconciliation day (local-date string, "2006-01-02").
type RoleLogEntry struct {
	MemberID  int64
	DateAdded string
}

// ManualWish is a staff-entered wish for a fixed date.
type ManualWish struct {
	ID            int64
	Name          string
	Day           int
	Month         int
	Year          int
	Message       string
	MentionKind   string // "none", "everyone" or "role"
	MentionRoleID int64
}

// SchedulerMeta is the persisted run metadata for one named job.
// Timestamps are RFC 3339 in the scheduler's local zone; empty means never.
type SchedulerMeta struct {
	JobName   string
	LastRunAt string
	NextRunAt string
}

// MonthCount is one bucket of the grouped birthdays-per-month query.
type MonthCount struct {
	Month int
	Count int64
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// EnsureIndexes creates the secondary indexes used by the eligibility scan.
// Idempotent; callers may treat a failure as non-fatal.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_birthdays_month_day ON birthdays(month, day)`)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
