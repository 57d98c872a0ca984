package store

import "context"

// AddManualWish appends a staff-entered wish.
func (s *Store) AddManualWish(ctx context.Context, w ManualWish) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manual_wishes(name, day, month, year, message, mention_kind, mention_role_id)
		 VALUES(?,?,?,?,?,?,?)`,
		w.Name, w.Day, w.Month, w.Year, w.Message, w.MentionKind, w.MentionRoleID,
	)
	return err
}

// ListManualWishes returns every stored wish, newest first.
func (s *Store) ListManualWishes(ctx context.Context) ([]ManualWish, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, day, month, year, message, mention_kind, mention_role_id
		 FROM manual_wishes ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ManualWish
	for rows.Next() {
		var w ManualWish
		if err := rows.Scan(&w.ID, &w.Name, &w.Day, &w.Month, &w.Year,
			&w.Message, &w.MentionKind, &w.MentionRoleID); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteManualWish removes one wish by id and reports whether it existed.
func (s *Store) DeleteManualWish(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM manual_wishes WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountManualWishes returns the total number of stored wishes.
func (s *Store) CountManualWishes(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM manual_wishes`).Scan(&n)
	return n, err
}
