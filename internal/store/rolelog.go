package store

import "context"

// MarkRoleActive records that memberID holds the transient role since date.
// Last write wins per member.
func (s *Store) MarkRoleActive(ctx context.Context, memberID int64, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_log(member_id, date_added) VALUES(?,?)
		 ON CONFLICT(member_id) DO UPDATE SET date_added=excluded.date_added`,
		memberID, date,
	)
	return err
}

// ActiveRoleEntries returns every member currently logged as holding the
// transient role. This is the sole durable input to the next cycle's
// role cleanup.
func (s *Store) ActiveRoleEntries(ctx context.Context) ([]RoleLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, date_added FROM role_log ORDER BY member_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleLogEntry
	for rows.Next() {
		var e RoleLogEntry
		if err := rows.Scan(&e.MemberID, &e.DateAdded); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearRoleEntry removes a member from the role log. Clearing an absent
// member is a no-op.
func (s *Store) ClearRoleEntry(ctx context.Context, memberID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM role_log WHERE member_id = ?`, memberID)
	return err
}

// PurgeMember removes a departed member's birthday record and role log
// entry in one transaction, never one without the other.
func (s *Store) PurgeMember(ctx context.Context, memberID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM birthdays WHERE member_id = ?`, memberID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_log WHERE member_id = ?`, memberID); err != nil {
		return err
	}
	return tx.Commit()
}
