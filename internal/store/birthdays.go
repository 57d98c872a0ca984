package store

import (
	"context"
	"database/sql"
	"errors"
)

// SetBirthday inserts or replaces the birthday for one member.
func (s *Store) SetBirthday(ctx context.Context, memberID int64, day, month, year int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO birthdays(member_id, day, month, year) VALUES(?,?,?,?)
		 ON CONFLICT(member_id) DO UPDATE SET day=excluded.day, month=excluded.month, year=excluded.year`,
		memberID, day, month, year,
	)
	return err
}

// GetBirthday looks up one member's birthday. ok is false when none is set.
func (s *Store) GetBirthday(ctx context.Context, memberID int64) (Birthday, bool, error) {
	var b Birthday
	err := s.db.QueryRowContext(ctx,
		`SELECT member_id, day, month, year FROM birthdays WHERE member_id = ?`, memberID,
	).Scan(&b.MemberID, &b.Day, &b.Month, &b.Year)
	if errors.Is(err, sql.ErrNoRows) {
		return Birthday{}, false, nil
	}
	if err != nil {
		return Birthday{}, false, err
	}
	return b, true, nil
}

// DeleteBirthday removes a member's birthday and reports whether one existed.
func (s *Store) DeleteBirthday(ctx context.Context, memberID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM birthdays WHERE member_id = ?`, memberID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BirthdaysOn returns every birthday matching (day, month), ignoring year.
func (s *Store) BirthdaysOn(ctx context.Context, day, month int) ([]Birthday, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, day, month, year FROM birthdays WHERE day = ? AND month = ? ORDER BY member_id`,
		day, month,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBirthdays(rows)
}

// AllBirthdays returns every stored birthday, ordered by member id.
func (s *Store) AllBirthdays(ctx context.Context) ([]Birthday, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, day, month, year FROM birthdays ORDER BY member_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBirthdays(rows)
}

// CountBirthdays returns the total number of stored birthdays.
func (s *Store) CountBirthdays(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM birthdays`).Scan(&n)
	return n, err
}

// BirthdaysByMonth is the server-side grouped query behind the dashboard's
// per-month chart. Months with no birthdays are absent from the result.
func (s *Store) BirthdaysByMonth(ctx context.Context) ([]MonthCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT month, COUNT(*) FROM birthdays GROUP BY month ORDER BY month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthCount
	for rows.Next() {
		var mc MonthCount
		if err := rows.Scan(&mc.Month, &mc.Count); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

func scanBirthdays(rows *sql.Rows) ([]Birthday, error) {
	var out []Birthday
	for rows.Next() {
		var b Birthday
		if err := rows.Scan(&b.MemberID, &b.Day, &b.Month, &b.Year); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
