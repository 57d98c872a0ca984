package store

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertSchedulerMeta overwrites the run metadata for one job. It is called
// on every run attempt that reaches the persistence phase, successful or not.
func (s *Store) UpsertSchedulerMeta(ctx context.Context, m SchedulerMeta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_meta(job_name, last_run_at, next_run_at) VALUES(?,?,?)
		 ON CONFLICT(job_name) DO UPDATE SET last_run_at=excluded.last_run_at, next_run_at=excluded.next_run_at`,
		m.JobName, m.LastRunAt, m.NextRunAt,
	)
	return err
}

// GetSchedulerMeta fetches the run metadata for one job. ok is false before
// the first-ever run; status surfaces must render that as "unknown".
func (s *Store) GetSchedulerMeta(ctx context.Context, jobName string) (SchedulerMeta, bool, error) {
	var m SchedulerMeta
	err := s.db.QueryRowContext(ctx,
		`SELECT job_name, last_run_at, next_run_at FROM scheduler_meta WHERE job_name = ?`, jobName,
	).Scan(&m.JobName, &m.LastRunAt, &m.NextRunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SchedulerMeta{}, false, nil
	}
	if err != nil {
		return SchedulerMeta{}, false, err
	}
	return m, true, nil
}
