// Package reconcile implements the once-per-day reconciliation: role
// cleanup, departed-member cleanup, birthday and holiday announcements,
// and run-metadata persistence.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"wishbot/internal/extapi"
	"wishbot/internal/guard"
	"wishbot/internal/metrics"
	"wishbot/internal/store"
	"wishbot/internal/transport"
	"wishbot/pkg/logx"
)

// JobName is the single well-known scheduler_meta key of this system.
const JobName = "daily_wishes"

const dateLayout = "2006-01-02"

// Store is the slice of the persistence API the reconciler uses.
// *store.Store satisfies it.
type Store interface {
	BirthdaysOn(ctx context.Context, day, month int) ([]store.Birthday, error)
	AllBirthdays(ctx context.Context) ([]store.Birthday, error)
	PurgeMember(ctx context.Context, memberID int64) error
	MarkRoleActive(ctx context.Context, memberID int64, date string) error
	ActiveRoleEntries(ctx context.Context) ([]store.RoleLogEntry, error)
	ClearRoleEntry(ctx context.Context, memberID int64) error
	UpsertSchedulerMeta(ctx context.Context, m store.SchedulerMeta) error
	GetSchedulerMeta(ctx context.Context, jobName string) (store.SchedulerMeta, bool, error)
	EnsureIndexes(ctx context.Context) error
}

// HolidaySource yields a month's holiday facts.
type HolidaySource interface {
	MonthHolidays(ctx context.Context, year, month int) ([]extapi.HolidayFact, error)
}

// WishGenerator produces announcement texts. An empty text with nil error
// means the provider yielded no content.
type WishGenerator interface {
	BirthdayWish(ctx context.Context, displayName, mention string) (string, error)
	HolidayWish(ctx context.Context, holidayName string) (string, error)
}

// Deps gathers the reconciler's collaborators.
type Deps struct {
	Store     Store
	Holidays  HolidaySource
	Generator WishGenerator
	Roles     transport.RoleManager
	Directory transport.MemberDirectory

	BirthdayChannel transport.Deliverer
	WishesChannel   transport.Deliverer
	AlertsChannel   transport.Deliverer

	// ApprovalMode is read at each fire so a config reload takes effect
	// without a restart.
	ApprovalMode func() bool

	Metrics *metrics.Metrics
	Log     logx.Logger
}

// Summary aggregates one reconciliation cycle's counts.
type Summary struct {
	Birthdays       int
	Holidays        int
	RolesRemoved    int
	DepartedCleaned int
	NextRun         time.Time
}

// Reconciler runs the daily cycle. One fire at a time: overlapping fires
// are skipped, because the platform trigger does not guarantee that itself.
type Reconciler struct {
	deps    Deps
	loc     *time.Location
	sched   Schedule
	now     func() time.Time
	running atomic.Bool
}

// New builds a Reconciler firing daily at the given wall-clock schedule.
func New(deps Deps, sched Schedule, loc *time.Location) *Reconciler {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.ApprovalMode == nil {
		deps.ApprovalMode = func() bool { return false }
	}
	if loc == nil {
		loc = time.UTC
	}
	r := &Reconciler{deps: deps, loc: loc, sched: sched}
	r.now = func() time.Time { return time.Now().In(loc) }
	return r
}

// ErrAlreadyRunning is reported when a fire overlaps a still-running cycle.
var ErrAlreadyRunning = fmt.Errorf("reconciliation already running")

// Run executes one full reconciliation cycle. Phases run strictly in order;
// a phase-level error aborts the remaining phases and is reported once to
// the operator channel. Run never panics the scheduling loop.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.deps.Log.Warn("fire overlapped a running cycle; skipping")
		r.count("skipped")
		return Summary{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	now := r.now()
	today := now.Format(dateLayout)
	log := r.deps.Log.With(logx.String("day", today))
	log.Info("daily reconciliation started")

	var sum Summary
	err := func() error {
		var err error
		if sum.RolesRemoved, err = r.cleanupRoles(ctx, today); err != nil {
			return fmt.Errorf("role cleanup: %w", err)
		}
		if sum.DepartedCleaned, err = r.cleanupDeparted(ctx); err != nil {
			return fmt.Errorf("departed cleanup: %w", err)
		}
		if sum.Birthdays, err = r.announceBirthdays(ctx, now); err != nil {
			return fmt.Errorf("birthday announcements: %w", err)
		}
		if sum.Holidays, err = r.announceHolidays(ctx, now); err != nil {
			return fmt.Errorf("holiday announcements: %w", err)
		}
		return nil
	}()
	if err != nil {
		log.Error("daily reconciliation failed", logx.Err(err))
		r.count("failure")
		r.alert(ctx, fmt.Sprintf("❌ Daily task failed: %v", err))
		return Summary{}, err
	}

	sum.NextRun = r.persistMeta(ctx, now)
	r.count("success")
	if r.deps.Metrics != nil {
		r.deps.Metrics.LastRunUnix.Set(float64(now.Unix()))
	}

	summary := FormatSummary(sum, r.loc)
	r.alert(ctx, summary)
	log.Info("daily reconciliation done",
		logx.Int("birthdays", sum.Birthdays),
		logx.Int("holidays", sum.Holidays),
		logx.Int("roles_removed", sum.RolesRemoved),
		logx.Int("departed_cleaned", sum.DepartedCleaned),
		logx.Time("next_run", sum.NextRun))
	return sum, nil
}

// cleanupRoles revokes the transient role from everyone whose log entry is
// not from today and clears their entries. A failed revocation keeps the
// entry so the next cycle retries it.
func (r *Reconciler) cleanupRoles(ctx context.Context, today string) (int, error) {
	entries, err := r.deps.Store.ActiveRoleEntries(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.DateAdded == today {
			continue
		}
		held, err := r.deps.Roles.Has(ctx, e.MemberID)
		if err != nil {
			r.deps.Log.Warn("role check failed", logx.Int64("member", e.MemberID), logx.Err(err))
			continue
		}
		if held {
			if err := r.deps.Roles.Revoke(ctx, e.MemberID); err != nil {
				r.deps.Log.Warn("role revoke failed", logx.Int64("member", e.MemberID), logx.Err(err))
				continue
			}
		}
		if err := r.deps.Store.ClearRoleEntry(ctx, e.MemberID); err != nil {
			r.deps.Log.Warn("role log clear failed", logx.Int64("member", e.MemberID), logx.Err(err))
			continue
		}
		removed++
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RolesRemoved.Add(float64(removed))
	}
	return removed, nil
}

// cleanupDeparted deletes the birthday record and any role log entry of
// members no longer resolvable in the community. Runs unconditionally every
// cycle; it doubles as garbage collection for members who left since the
// last check.
func (r *Reconciler) cleanupDeparted(ctx context.Context) (int, error) {
	all, err := r.deps.Store.AllBirthdays(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, b := range all {
		_, ok, err := r.deps.Directory.Resolve(ctx, b.MemberID)
		if err != nil {
			// Uncertainty is not departure; keep the record.
			r.deps.Log.Warn("member resolve failed", logx.Int64("member", b.MemberID), logx.Err(err))
			continue
		}
		if ok {
			continue
		}
		if err := r.deps.Store.PurgeMember(ctx, b.MemberID); err != nil {
			r.deps.Log.Warn("departed purge failed", logx.Int64("member", b.MemberID), logx.Err(err))
			continue
		}
		cleaned++
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.DepartedCleaned.Add(float64(cleaned))
	}
	return cleaned, nil
}

// announceBirthdays processes today's eligible members. One member's
// failure never blocks the next; the count is successful deliveries only.
func (r *Reconciler) announceBirthdays(ctx context.Context, now time.Time) (int, error) {
	eligible, err := r.deps.Store.BirthdaysOn(ctx, now.Day(), int(now.Month()))
	if err != nil {
		return 0, err
	}
	today := now.Format(dateLayout)

	sent := 0
	for _, b := range eligible {
		member, ok, err := r.deps.Directory.Resolve(ctx, b.MemberID)
		if err != nil || !ok {
			if err != nil {
				r.deps.Log.Warn("member resolve failed", logx.Int64("member", b.MemberID), logx.Err(err))
			}
			continue
		}

		text, err := r.deps.Generator.BirthdayWish(ctx, member.DisplayName, member.Mention)
		if err != nil || text == "" {
			// Exhaustion or empty result: the member is never skipped,
			// the fixed template goes out instead.
			if err != nil {
				r.deps.Log.Warn("birthday wish generation exhausted",
					logx.Int64("member", b.MemberID), logx.Err(err))
				r.countExhaustion("text generation")
			}
			text = extapi.FallbackBirthdayWish(member.DisplayName, member.Mention)
		}

		if err := r.deps.Roles.Grant(ctx, b.MemberID); err != nil {
			r.deps.Log.Warn("role grant failed", logx.Int64("member", b.MemberID), logx.Err(err))
			continue
		}
		if err := r.deps.BirthdayChannel.Deliver(ctx, guard.Sanitize(text)); err != nil {
			r.deps.Log.Warn("birthday delivery failed", logx.Int64("member", b.MemberID), logx.Err(err))
			continue
		}
		sent++
		if r.deps.Metrics != nil {
			r.deps.Metrics.AnnouncementsSent.WithLabelValues("birthday").Inc()
		}
		if err := r.deps.Store.MarkRoleActive(ctx, b.MemberID, today); err != nil {
			// The role is granted but unlogged: cleanup will miss it
			// until the member is logged again. Loud, not fatal.
			r.deps.Log.Error("role log write failed", logx.Int64("member", b.MemberID), logx.Err(err))
		}
	}
	return sent, nil
}

// announceHolidays fetches the month's holidays, filters to today and posts
// a generated wish per holiday. In approval mode, the sanitized text goes
// to the operator channel as a preview and is not counted as sent.
func (r *Reconciler) announceHolidays(ctx context.Context, now time.Time) (int, error) {
	facts, err := r.deps.Holidays.MonthHolidays(ctx, now.Year(), int(now.Month()))
	if err != nil {
		r.deps.Log.Warn("holiday fetch exhausted", logx.Err(err))
		r.countExhaustion("calendar lookup")
		r.alert(ctx, "⚠️ **API Error:** Could not fetch holidays.")
		return 0, nil
	}

	today := now.Format(dateLayout)
	var names []string
	for _, f := range facts {
		if f.ISODate == today {
			names = append(names, f.Name)
		}
	}
	if len(names) > 0 {
		bolded := make([]string, len(names))
		for i, name := range names {
			bolded[i] = "**" + name + "**"
		}
		r.alert(ctx, fmt.Sprintf("ℹ️ **Daily Check:** Found %d holiday(s): %s.",
			len(names), strings.Join(bolded, ", ")))
	}

	sent := 0
	for _, name := range names {
		text, err := r.deps.Generator.HolidayWish(ctx, name)
		if err != nil || text == "" {
			if err != nil {
				r.countExhaustion("text generation")
			}
			r.deps.Log.Warn("holiday wish unavailable", logx.String("holiday", name), logx.Err(err))
			r.alert(ctx, fmt.Sprintf("⚠️ **API Error:** Failed to generate wish text for **%s**.", name))
			continue
		}

		clean := guard.Sanitize(text)
		if r.deps.ApprovalMode() {
			r.alert(ctx, fmt.Sprintf("📝 **Preview (%s):**\n%s", name, clean))
			continue
		}
		if err := r.deps.WishesChannel.Deliver(ctx, clean); err != nil {
			r.deps.Log.Warn("holiday delivery failed", logx.String("holiday", name), logx.Err(err))
			continue
		}
		sent++
		if r.deps.Metrics != nil {
			r.deps.Metrics.AnnouncementsSent.WithLabelValues("holiday").Inc()
		}
	}
	return sent, nil
}

// persistMeta records {last_run_at: now, next_run_at} for the job. Failures
// are logged only: already-delivered announcements are never rolled back.
func (r *Reconciler) persistMeta(ctx context.Context, now time.Time) time.Time {
	next := r.sched.Next(now)
	meta := store.SchedulerMeta{
		JobName:   JobName,
		LastRunAt: now.Format(time.RFC3339),
		NextRunAt: next.Format(time.RFC3339),
	}
	if err := r.deps.Store.UpsertSchedulerMeta(ctx, meta); err != nil {
		r.deps.Log.Error("scheduler meta persist failed", logx.Err(err))
	}
	return next
}

func (r *Reconciler) alert(ctx context.Context, text string) {
	if r.deps.AlertsChannel == nil {
		return
	}
	if err := r.deps.AlertsChannel.Deliver(ctx, text); err != nil {
		r.deps.Log.Warn("operator notice failed", logx.Err(err))
	}
}

func (r *Reconciler) count(result string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.ReconcileRuns.WithLabelValues(result).Inc()
	}
}

func (r *Reconciler) countExhaustion(call string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.RetryExhaustions.WithLabelValues(call).Inc()
	}
}

// FormatSummary renders the operator-facing one-liner.
func FormatSummary(s Summary, loc *time.Location) string {
	return fmt.Sprintf(
		"✅ Daily task done | Birthdays: %d | Holidays: %d | Roles removed: %d | Departed cleaned: %d | Next run: %s (%s)",
		s.Birthdays, s.Holidays, s.RolesRemoved, s.DepartedCleaned,
		s.NextRun.Format("2006-01-02 15:04"), loc.String())
}
