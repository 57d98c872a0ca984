package store

import (
	"context"
	"path/filepath"
	"testing"

	"wishbot/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "wishbot.db"), logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBirthdayCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.GetBirthday(ctx, 100); err != nil || ok {
		t.Fatalf("GetBirthday on empty store = ok=%v err=%v", ok, err)
	}

	if err := s.SetBirthday(ctx, 100, 15, 6, 1995); err != nil {
		t.Fatalf("SetBirthday: %v", err)
	}
	b, ok, err := s.GetBirthday(ctx, 100)
	if err != nil || !ok {
		t.Fatalf("GetBirthday = ok=%v err=%v", ok, err)
	}
	if b.Day != 15 || b.Month != 6 || b.Year != 1995 {
		t.Fatalf("birthday = %+v", b)
	}

	// Setting again replaces, by member id.
	if err := s.SetBirthday(ctx, 100, 1, 1, 2000); err != nil {
		t.Fatalf("SetBirthday replace: %v", err)
	}
	b, _, _ = s.GetBirthday(ctx, 100)
	if b.Day != 1 || b.Month != 1 || b.Year != 2000 {
		t.Fatalf("replaced birthday = %+v", b)
	}
	if n, err := s.CountBirthdays(ctx); err != nil || n != 1 {
		t.Fatalf("CountBirthdays = %d err=%v, want 1", n, err)
	}

	deleted, err := s.DeleteBirthday(ctx, 100)
	if err != nil || !deleted {
		t.Fatalf("DeleteBirthday = %v err=%v", deleted, err)
	}
	deleted, err = s.DeleteBirthday(ctx, 100)
	if err != nil || deleted {
		t.Fatalf("second DeleteBirthday = %v err=%v, want false", deleted, err)
	}
}

func TestBirthdaysOnIgnoresYear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seed := []Birthday{
		{MemberID: 1, Day: 15, Month: 6, Year: 1990},
		{MemberID: 2, Day: 15, Month: 6, Year: 2001},
		{MemberID: 3, Day: 16, Month: 6, Year: 1990},
		{MemberID: 4, Day: 15, Month: 7, Year: 1990},
	}
	for _, b := range seed {
		if err := s.SetBirthday(ctx, b.MemberID, b.Day, b.Month, b.Year); err != nil {
			t.Fatalf("SetBirthday(%d): %v", b.MemberID, err)
		}
	}

	got, err := s.BirthdaysOn(ctx, 15, 6)
	if err != nil {
		t.Fatalf("BirthdaysOn: %v", err)
	}
	if len(got) != 2 || got[0].MemberID != 1 || got[1].MemberID != 2 {
		t.Fatalf("BirthdaysOn(15,6) = %+v", got)
	}

	all, err := s.AllBirthdays(ctx)
	if err != nil || len(all) != 4 {
		t.Fatalf("AllBirthdays = %d entries err=%v", len(all), err)
	}
}

func TestBirthdaysByMonth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, month := range []int{6, 6, 12} {
		if err := s.SetBirthday(ctx, int64(i+1), 1, month, 1990); err != nil {
			t.Fatalf("SetBirthday: %v", err)
		}
	}

	got, err := s.BirthdaysByMonth(ctx)
	if err != nil {
		t.Fatalf("BirthdaysByMonth: %v", err)
	}
	want := []MonthCount{{Month: 6, Count: 2}, {Month: 12, Count: 1}}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bucket %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRoleLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.MarkRoleActive(ctx, 7, "2026-08-28"); err != nil {
		t.Fatalf("MarkRoleActive: %v", err)
	}
	if err := s.MarkRoleActive(ctx, 8, "2026-08-29"); err != nil {
		t.Fatalf("MarkRoleActive: %v", err)
	}
	// Re-marking the same member updates the date in place.
	if err := s.MarkRoleActive(ctx, 7, "2026-08-29"); err != nil {
		t.Fatalf("MarkRoleActive upsert: %v", err)
	}

	entries, err := s.ActiveRoleEntries(ctx)
	if err != nil {
		t.Fatalf("ActiveRoleEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].MemberID != 7 || entries[0].DateAdded != "2026-08-29" {
		t.Fatalf("upserted entry = %+v", entries[0])
	}

	if err := s.ClearRoleEntry(ctx, 7); err != nil {
		t.Fatalf("ClearRoleEntry: %v", err)
	}
	if err := s.ClearRoleEntry(ctx, 7); err != nil {
		t.Fatalf("ClearRoleEntry absent member: %v", err)
	}
	entries, _ = s.ActiveRoleEntries(ctx)
	if len(entries) != 1 || entries[0].MemberID != 8 {
		t.Fatalf("entries after clear = %+v", entries)
	}
}

func TestPurgeMember(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetBirthday(ctx, 42, 1, 1, 1990); err != nil {
		t.Fatalf("SetBirthday: %v", err)
	}
	if err := s.MarkRoleActive(ctx, 42, "2026-01-01"); err != nil {
		t.Fatalf("MarkRoleActive: %v", err)
	}
	if err := s.SetBirthday(ctx, 43, 2, 2, 1991); err != nil {
		t.Fatalf("SetBirthday: %v", err)
	}

	if err := s.PurgeMember(ctx, 42); err != nil {
		t.Fatalf("PurgeMember: %v", err)
	}

	if _, ok, _ := s.GetBirthday(ctx, 42); ok {
		t.Fatal("birthday survived purge")
	}
	entries, _ := s.ActiveRoleEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("role log survived purge: %+v", entries)
	}
	if _, ok, _ := s.GetBirthday(ctx, 43); !ok {
		t.Fatal("unrelated member purged")
	}

	// Purging a member with no rows at all is a no-op.
	if err := s.PurgeMember(ctx, 999); err != nil {
		t.Fatalf("PurgeMember absent: %v", err)
	}
}

func TestManualWishes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := ManualWish{Name: "Founding Day", Day: 1, Month: 3, Year: 2026,
		Message: "Happy founding day!", MentionKind: "everyone"}
	second := ManualWish{Name: "Guild Anniversary", Day: 5, Month: 9, Year: 2026,
		Message: "Cheers!", MentionKind: "role", MentionRoleID: 555}

	if err := s.AddManualWish(ctx, first); err != nil {
		t.Fatalf("AddManualWish: %v", err)
	}
	if err := s.AddManualWish(ctx, second); err != nil {
		t.Fatalf("AddManualWish: %v", err)
	}

	wishes, err := s.ListManualWishes(ctx)
	if err != nil {
		t.Fatalf("ListManualWishes: %v", err)
	}
	if len(wishes) != 2 {
		t.Fatalf("wishes = %+v", wishes)
	}
	// Newest first.
	if wishes[0].Name != "Guild Anniversary" || wishes[1].Name != "Founding Day" {
		t.Fatalf("ordering = %q, %q", wishes[0].Name, wishes[1].Name)
	}
	if wishes[0].MentionKind != "role" || wishes[0].MentionRoleID != 555 {
		t.Fatalf("mention fields = %+v", wishes[0])
	}

	if n, _ := s.CountManualWishes(ctx); n != 2 {
		t.Fatalf("CountManualWishes = %d", n)
	}

	deleted, err := s.DeleteManualWish(ctx, wishes[1].ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteManualWish = %v err=%v", deleted, err)
	}
	deleted, _ = s.DeleteManualWish(ctx, wishes[1].ID)
	if deleted {
		t.Fatal("second delete reported a row")
	}
}

func TestSchedulerMeta(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.GetSchedulerMeta(ctx, "daily_wishes"); err != nil || ok {
		t.Fatalf("GetSchedulerMeta before first run = ok=%v err=%v", ok, err)
	}

	m := SchedulerMeta{
		JobName:   "daily_wishes",
		LastRunAt: "2026-08-29T09:00:00+05:30",
		NextRunAt: "2026-08-30T09:00:00+05:30",
	}
	if err := s.UpsertSchedulerMeta(ctx, m); err != nil {
		t.Fatalf("UpsertSchedulerMeta: %v", err)
	}

	got, ok, err := s.GetSchedulerMeta(ctx, "daily_wishes")
	if err != nil || !ok {
		t.Fatalf("GetSchedulerMeta = ok=%v err=%v", ok, err)
	}
	if got != m {
		t.Fatalf("meta = %+v, want %+v", got, m)
	}

	m.LastRunAt = "2026-08-30T09:00:00+05:30"
	m.NextRunAt = "2026-08-31T09:00:00+05:30"
	if err := s.UpsertSchedulerMeta(ctx, m); err != nil {
		t.Fatalf("UpsertSchedulerMeta overwrite: %v", err)
	}
	got, _, _ = s.GetSchedulerMeta(ctx, "daily_wishes")
	if got.LastRunAt != m.LastRunAt || got.NextRunAt != m.NextRunAt {
		t.Fatalf("overwritten meta = %+v", got)
	}
}

func TestEnsureIndexesIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes second call: %v", err)
	}
}
