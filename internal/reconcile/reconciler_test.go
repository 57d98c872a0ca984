package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wishbot/internal/extapi"
	"wishbot/internal/store"
	"wishbot/internal/transport"
	"wishbot/pkg/logx"
)

type fakeDeliverer struct {
	msgs []string
	err  error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, text string) error {
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, text)
	return nil
}

type fakeRoles struct {
	holding   map[int64]bool
	granted   []int64
	revoked   []int64
	grantErr  error
	revokeErr error
	hasErr    error
}

func (r *fakeRoles) Grant(ctx context.Context, memberID int64) error {
	if r.grantErr != nil {
		return r.grantErr
	}
	if r.holding == nil {
		r.holding = map[int64]bool{}
	}
	r.holding[memberID] = true
	r.granted = append(r.granted, memberID)
	return nil
}

func (r *fakeRoles) Revoke(ctx context.Context, memberID int64) error {
	if r.revokeErr != nil {
		return r.revokeErr
	}
	delete(r.holding, memberID)
	r.revoked = append(r.revoked, memberID)
	return nil
}

func (r *fakeRoles) Has(ctx context.Context, memberID int64) (bool, error) {
	if r.hasErr != nil {
		return false, r.hasErr
	}
	return r.holding[memberID], nil
}

type fakeDirectory struct {
	members map[int64]transport.Member
	errIDs  map[int64]bool
}

func (d *fakeDirectory) Resolve(ctx context.Context, memberID int64) (transport.Member, bool, error) {
	if d.errIDs[memberID] {
		return transport.Member{}, false, errors.New("lookup unavailable")
	}
	m, ok := d.members[memberID]
	return m, ok, nil
}

type fakeHolidays struct {
	facts []extapi.HolidayFact
	err   error
}

func (h *fakeHolidays) MonthHolidays(ctx context.Context, year, month int) ([]extapi.HolidayFact, error) {
	return h.facts, h.err
}

type fakeGenerator struct {
	birthdayText string
	birthdayErr  error
	holidayText  string
	holidayErr   error
}

func (g *fakeGenerator) BirthdayWish(ctx context.Context, displayName, mention string) (string, error) {
	return g.birthdayText, g.birthdayErr
}

func (g *fakeGenerator) HolidayWish(ctx context.Context, holidayName string) (string, error) {
	return g.holidayText, g.holidayErr
}

// fixture bundles a reconciler over a real on-disk store with fakes for
// everything else, pinned to 2026-08-29 09:00 UTC.
type fixture struct {
	rec       *Reconciler
	st        *store.Store
	roles     *fakeRoles
	dir       *fakeDirectory
	holidays  *fakeHolidays
	gen       *fakeGenerator
	birthdays *fakeDeliverer
	wishes    *fakeDeliverer
	alerts    *fakeDeliverer
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "wishbot.db"), logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sched, err := NewDailySchedule(9, 0, time.UTC)
	if err != nil {
		t.Fatalf("NewDailySchedule: %v", err)
	}

	f := &fixture{
		st:        st,
		roles:     &fakeRoles{},
		dir:       &fakeDirectory{members: map[int64]transport.Member{}, errIDs: map[int64]bool{}},
		holidays:  &fakeHolidays{},
		gen:       &fakeGenerator{birthdayText: "generated birthday text", holidayText: "generated holiday text"},
		birthdays: &fakeDeliverer{},
		wishes:    &fakeDeliverer{},
		alerts:    &fakeDeliverer{},
		now:       time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC),
	}
	f.rec = New(Deps{
		Store:           st,
		Holidays:        f.holidays,
		Generator:       f.gen,
		Roles:           f.roles,
		Directory:       f.dir,
		BirthdayChannel: f.birthdays,
		WishesChannel:   f.wishes,
		AlertsChannel:   f.alerts,
		Log:             logx.Nop(),
	}, sched, time.UTC)
	f.rec.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addMember(id int64, name string) {
	f.dir.members[id] = transport.Member{ID: id, DisplayName: name, Mention: "<@" + name + ">"}
}

func TestRunBirthdayDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addMember(1, "alice")
	if err := f.st.SetBirthday(ctx, 1, 29, 8, 1995); err != nil {
		t.Fatal(err)
	}
	// Not today; must stay untouched.
	f.addMember(2, "bob")
	if err := f.st.SetBirthday(ctx, 2, 30, 8, 1995); err != nil {
		t.Fatal(err)
	}

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Birthdays != 1 || sum.Holidays != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(f.roles.granted) != 1 || f.roles.granted[0] != 1 {
		t.Fatalf("granted = %v", f.roles.granted)
	}
	if len(f.birthdays.msgs) != 1 || f.birthdays.msgs[0] != "generated birthday text" {
		t.Fatalf("birthday messages = %q", f.birthdays.msgs)
	}

	entries, err := f.st.ActiveRoleEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].MemberID != 1 || entries[0].DateAdded != "2026-08-29" {
		t.Fatalf("role log = %+v", entries)
	}

	last := f.alerts.msgs[len(f.alerts.msgs)-1]
	want := "✅ Daily task done | Birthdays: 1 | Holidays: 0 | Roles removed: 0 | Departed cleaned: 0 | Next run: 2026-08-30 09:00 (UTC)"
	if last != want {
		t.Fatalf("summary notice = %q, want %q", last, want)
	}

	meta, ok, err := f.st.GetSchedulerMeta(ctx, JobName)
	if err != nil || !ok {
		t.Fatalf("GetSchedulerMeta = ok=%v err=%v", ok, err)
	}
	if meta.LastRunAt != f.now.Format(time.RFC3339) {
		t.Fatalf("last_run_at = %q", meta.LastRunAt)
	}
	wantNext := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if meta.NextRunAt != wantNext {
		t.Fatalf("next_run_at = %q, want %q", meta.NextRunAt, wantNext)
	}
}

func TestRunHolidayDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.holidays.facts = []extapi.HolidayFact{
		{Name: "Onam", ISODate: "2026-08-29"},
		{Name: "Later Fest", ISODate: "2026-08-30"},
	}

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Holidays != 1 {
		t.Fatalf("holidays = %d, want 1", sum.Holidays)
	}
	if len(f.wishes.msgs) != 1 || f.wishes.msgs[0] != "generated holiday text" {
		t.Fatalf("wishes = %q", f.wishes.msgs)
	}

	found := false
	for _, m := range f.alerts.msgs {
		if m == "ℹ️ **Daily Check:** Found 1 holiday(s): **Onam**." {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing daily-check notice in %q", f.alerts.msgs)
	}
}

func TestRunHolidayNoticeListsEveryName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.holidays.facts = []extapi.HolidayFact{
		{Name: "Onam", ISODate: "2026-08-29"},
		{Name: "Guild Fest", ISODate: "2026-08-29"},
	}

	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, m := range f.alerts.msgs {
		if m == "ℹ️ **Daily Check:** Found 2 holiday(s): **Onam**, **Guild Fest**." {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing daily-check notice in %q", f.alerts.msgs)
	}
}

func TestRunBirthdayFallbackOnGeneratorExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addMember(1, "alice")
	if err := f.st.SetBirthday(ctx, 1, 29, 8, 1995); err != nil {
		t.Fatal(err)
	}
	f.gen.birthdayErr = &extapi.ExhaustedError{Label: "text generation", Attempts: 3, Last: errors.New("quota")}

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Birthdays != 1 {
		t.Fatalf("birthdays = %d, want 1 (fallback still counts)", sum.Birthdays)
	}
	if len(f.birthdays.msgs) != 1 {
		t.Fatalf("messages = %q", f.birthdays.msgs)
	}
	if !strings.Contains(f.birthdays.msgs[0], "<@alice>") || !strings.Contains(f.birthdays.msgs[0], "Happy Birthday") {
		t.Fatalf("fallback message = %q", f.birthdays.msgs[0])
	}
}

func TestRunBirthdayEmptyGenerationUsesFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addMember(1, "alice")
	if err := f.st.SetBirthday(ctx, 1, 29, 8, 1995); err != nil {
		t.Fatal(err)
	}
	f.gen.birthdayText = ""

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Birthdays != 1 {
		t.Fatalf("birthdays = %d", sum.Birthdays)
	}
	if !strings.Contains(f.birthdays.msgs[0], "Happy Birthday") {
		t.Fatalf("message = %q", f.birthdays.msgs[0])
	}
}

func TestRunSanitizesDeliveredText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addMember(1, "alice")
	if err := f.st.SetBirthday(ctx, 1, 29, 8, 1995); err != nil {
		t.Fatal(err)
	}
	f.gen.birthdayText = "Happy fucking birthday!"

	if _, err := f.rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.birthdays.msgs[0]; got != "Happy ***ing birthday!" {
		t.Fatalf("delivered = %q", got)
	}
}

func TestRunHolidayApprovalMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.holidays.facts = []extapi.HolidayFact{{Name: "Onam", ISODate: "2026-08-29"}}
	f.rec.deps.ApprovalMode = func() bool { return true }

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Holidays != 0 {
		t.Fatalf("holidays = %d, want 0 in approval mode", sum.Holidays)
	}
	if len(f.wishes.msgs) != 0 {
		t.Fatalf("wishes channel got %q", f.wishes.msgs)
	}
	preview := false
	for _, m := range f.alerts.msgs {
		if strings.HasPrefix(m, "📝 **Preview (Onam):**") && strings.Contains(m, "generated holiday text") {
			preview = true
		}
	}
	if !preview {
		t.Fatalf("no preview among %q", f.alerts.msgs)
	}
}

func TestRunHolidayFetchExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.holidays.err = &extapi.ExhaustedError{Label: "calendar lookup", Attempts: 3, Last: errors.New("503")}

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run should degrade, got: %v", err)
	}
	if sum.Holidays != 0 {
		t.Fatalf("holidays = %d", sum.Holidays)
	}
	found := false
	for _, m := range f.alerts.msgs {
		if m == "⚠️ **API Error:** Could not fetch holidays." {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing fetch warning among %q", f.alerts.msgs)
	}
}

// Stored manual wishes are staff reference data for /post_wish and the
// dashboard; the daily cycle never posts them on its own.
func TestRunLeavesManualWishesAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wish := store.ManualWish{Name: "Guild Day", Day: 29, Month: 8, Year: 2026,
		Message: "Three years of us!", MentionKind: "role", MentionRoleID: 555}
	if err := f.st.AddManualWish(ctx, wish); err != nil {
		t.Fatal(err)
	}

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.wishes.msgs) != 0 {
		t.Fatalf("daily cycle posted stored wishes: %q", f.wishes.msgs)
	}
	if sum.Holidays != 0 || sum.Birthdays != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	// The run still completes and persists its metadata.
	if _, ok, err := f.st.GetSchedulerMeta(ctx, JobName); err != nil || !ok {
		t.Fatalf("meta = ok=%v err=%v", ok, err)
	}
	if n, _ := f.st.CountManualWishes(ctx); n != 1 {
		t.Fatalf("stored wishes = %d, want 1", n)
	}
}

func TestRunRoleCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// Yesterday's holder, still wearing the role.
	if err := f.st.MarkRoleActive(ctx, 10, "2026-08-28"); err != nil {
		t.Fatal(err)
	}
	f.roles.holding = map[int64]bool{10: true}
	// Today's holder stays.
	if err := f.st.MarkRoleActive(ctx, 11, "2026-08-29"); err != nil {
		t.Fatal(err)
	}
	// Stale entry whose role is already gone; the log entry is still cleared.
	if err := f.st.MarkRoleActive(ctx, 12, "2026-08-27"); err != nil {
		t.Fatal(err)
	}

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RolesRemoved != 2 {
		t.Fatalf("roles removed = %d, want 2", sum.RolesRemoved)
	}
	if len(f.roles.revoked) != 1 || f.roles.revoked[0] != 10 {
		t.Fatalf("revoked = %v", f.roles.revoked)
	}
	entries, _ := f.st.ActiveRoleEntries(ctx)
	if len(entries) != 1 || entries[0].MemberID != 11 {
		t.Fatalf("surviving entries = %+v", entries)
	}
}

func TestRunRoleCleanupKeepsEntryOnRevokeFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.st.MarkRoleActive(ctx, 10, "2026-08-28"); err != nil {
		t.Fatal(err)
	}
	f.roles.holding = map[int64]bool{10: true}
	f.roles.revokeErr = errors.New("api down")

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RolesRemoved != 0 {
		t.Fatalf("roles removed = %d, want 0", sum.RolesRemoved)
	}
	// Entry survives so the next cycle retries the revocation.
	entries, _ := f.st.ActiveRoleEntries(ctx)
	if len(entries) != 1 || entries[0].MemberID != 10 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRunDepartedCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addMember(1, "alice")
	if err := f.st.SetBirthday(ctx, 1, 1, 1, 1990); err != nil {
		t.Fatal(err)
	}
	// Member 2 left the community; both rows must go atomically.
	if err := f.st.SetBirthday(ctx, 2, 2, 2, 1991); err != nil {
		t.Fatal(err)
	}
	if err := f.st.MarkRoleActive(ctx, 2, "2026-08-29"); err != nil {
		t.Fatal(err)
	}
	// Member 3's resolution errors; uncertainty keeps the record.
	if err := f.st.SetBirthday(ctx, 3, 3, 3, 1992); err != nil {
		t.Fatal(err)
	}
	f.dir.errIDs[3] = true

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.DepartedCleaned != 1 {
		t.Fatalf("departed cleaned = %d, want 1", sum.DepartedCleaned)
	}
	if _, ok, _ := f.st.GetBirthday(ctx, 2); ok {
		t.Fatal("departed member's birthday survived")
	}
	entries, _ := f.st.ActiveRoleEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("departed member's role log survived: %+v", entries)
	}
	if _, ok, _ := f.st.GetBirthday(ctx, 1); !ok {
		t.Fatal("present member purged")
	}
	if _, ok, _ := f.st.GetBirthday(ctx, 3); !ok {
		t.Fatal("unresolvable member purged despite lookup error")
	}
}

func TestRunSkipsUnresolvableBirthdayMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addMember(1, "alice")
	if err := f.st.SetBirthday(ctx, 1, 29, 8, 1995); err != nil {
		t.Fatal(err)
	}
	f.dir.errIDs[1] = true

	sum, err := f.rec.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Birthdays != 0 {
		t.Fatalf("birthdays = %d, want 0", sum.Birthdays)
	}
	if len(f.roles.granted) != 0 {
		t.Fatalf("granted = %v", f.roles.granted)
	}
}

func TestRunOverlapGuard(t *testing.T) {
	f := newFixture(t)
	f.rec.running.Store(true)

	_, err := f.rec.Run(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
}

// erroringStore fails the role-entry scan to verify phase sequencing.
type erroringStore struct {
	Store
}

func (erroringStore) ActiveRoleEntries(ctx context.Context) ([]store.RoleLogEntry, error) {
	return nil, errors.New("disk gone")
}

func TestRunPhaseErrorAbortsAndAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addMember(1, "alice")
	if err := f.st.SetBirthday(ctx, 1, 29, 8, 1995); err != nil {
		t.Fatal(err)
	}
	f.rec.deps.Store = erroringStore{f.st}

	_, err := f.rec.Run(ctx)
	if err == nil {
		t.Fatal("expected phase error")
	}
	// Later phases never ran.
	if len(f.birthdays.msgs) != 0 {
		t.Fatalf("birthday phase ran after failed cleanup: %q", f.birthdays.msgs)
	}
	if len(f.alerts.msgs) != 1 || !strings.HasPrefix(f.alerts.msgs[0], "❌ Daily task failed:") {
		t.Fatalf("alerts = %q", f.alerts.msgs)
	}
	// No meta row for a failed run.
	if _, ok, _ := f.st.GetSchedulerMeta(ctx, JobName); ok {
		t.Fatal("meta persisted for failed run")
	}
}

func TestScheduleNext(t *testing.T) {
	loc := time.UTC
	sched, err := NewDailySchedule(9, 0, loc)
	if err != nil {
		t.Fatalf("NewDailySchedule: %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			name: "before today's fire",
			at:   time.Date(2026, 8, 29, 6, 30, 0, 0, loc),
			want: time.Date(2026, 8, 29, 9, 0, 0, 0, loc),
		},
		{
			name: "exactly at fire time rolls to tomorrow",
			at:   time.Date(2026, 8, 29, 9, 0, 0, 0, loc),
			want: time.Date(2026, 8, 30, 9, 0, 0, 0, loc),
		},
		{
			name: "after today's fire",
			at:   time.Date(2026, 8, 29, 21, 15, 0, 0, loc),
			want: time.Date(2026, 8, 30, 9, 0, 0, 0, loc),
		},
		{
			name: "month rollover",
			at:   time.Date(2026, 8, 31, 10, 0, 0, 0, loc),
			want: time.Date(2026, 9, 1, 9, 0, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sched.Next(tt.at); !got.Equal(tt.want) {
				t.Fatalf("Next(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestTriggerArmLatch(t *testing.T) {
	f := newFixture(t)
	tr := NewTrigger(f.rec, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Arm(ctx); err != nil {
		t.Fatalf("first Arm: %v", err)
	}
	if err := tr.Arm(ctx); !errors.Is(err, ErrAlreadyArmed) {
		t.Fatalf("second Arm = %v, want ErrAlreadyArmed", err)
	}
}

func TestTriggerOnReadyIdempotent(t *testing.T) {
	f := newFixture(t)
	tr := NewTrigger(f.rec, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Gateway reconnects replay the ready event; the notice must go out once.
	tr.OnReady(ctx)
	tr.OnReady(ctx)
	tr.OnReady(ctx)

	notices := 0
	for _, m := range f.alerts.msgs {
		if strings.HasPrefix(m, "🗓️ Wishbot online.") {
			notices++
		}
	}
	if notices != 1 {
		t.Fatalf("startup notices = %d, want 1", notices)
	}
	if !strings.Contains(f.alerts.msgs[0], "Last run was never.") {
		t.Fatalf("notice = %q", f.alerts.msgs[0])
	}
}

func TestFormatSummary(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	s := Summary{
		Birthdays:       2,
		Holidays:        1,
		RolesRemoved:    3,
		DepartedCleaned: 0,
		NextRun:         time.Date(2026, 8, 30, 9, 0, 0, 0, loc),
	}
	got := FormatSummary(s, loc)
	want := "✅ Daily task done | Birthdays: 2 | Holidays: 1 | Roles removed: 3 | Departed cleaned: 0 | Next run: 2026-08-30 09:00 (Asia/Kolkata)"
	if got != want {
		t.Fatalf("FormatSummary = %q, want %q", got, want)
	}
}
