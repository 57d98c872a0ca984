package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"wishbot/pkg/logx"
)

// Schedule is the daily wall-clock fire time in a fixed zone.
type Schedule struct {
	spec cron.Schedule
	loc  *time.Location
}

// NewDailySchedule builds the once-a-day schedule at hour:minute local time.
func NewDailySchedule(hour, minute int, loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	spec, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{spec: spec, loc: loc}, nil
}

// Next returns the first fire instant strictly after t. If today's
// configured time has already passed, that is the same time tomorrow.
func (s Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t.In(s.loc))
}

// ErrAlreadyArmed is reported when the daily trigger is armed a second
// time. Re-arming is an observed bug class (platform "ready" fires again
// on every reconnect), hence the explicit latch.
var ErrAlreadyArmed = errors.New("daily trigger already armed")

// Trigger owns the scheduling timeline: it waits for the next fire instant,
// runs one reconciliation cycle, and loops. The only suspension point is
// that wait; cancellation is process shutdown only.
type Trigger struct {
	rec *Reconciler
	log logx.Logger

	armed    atomic.Bool
	prepOnce sync.Once
}

// NewTrigger is called exactly once by the process entry point; the Trigger
// is then handed to the platform layer's ready hook.
func NewTrigger(rec *Reconciler, log logx.Logger) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{rec: rec, log: log}
}

// OnReady is the platform-ready hook. The preparation step runs once per
// process lifetime; arming twice is swallowed because gateway reconnects
// replay the ready event.
func (t *Trigger) OnReady(ctx context.Context) {
	t.prepOnce.Do(func() { t.prepare(ctx) })
	if err := t.Arm(ctx); err != nil && !errors.Is(err, ErrAlreadyArmed) {
		t.log.Error("failed to arm daily trigger", logx.Err(err))
	}
}

// Arm starts the scheduling loop. A second call returns ErrAlreadyArmed.
func (t *Trigger) Arm(ctx context.Context) error {
	if !t.armed.CompareAndSwap(false, true) {
		return ErrAlreadyArmed
	}
	go t.loop(ctx)
	return nil
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		now := t.rec.now()
		next := t.rec.sched.Next(now)
		t.log.Info("daily trigger armed", logx.Time("next_fire", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			t.log.Info("daily trigger stopped")
			return
		case <-timer.C:
			// Run reports its own failures; the loop always re-arms
			// the next day's fire.
			_, _ = t.rec.Run(ctx)
		}
	}
}

// prepare runs the idempotent index preparation (safe to skip on failure)
// and posts the informational startup notice to the operator channel.
func (t *Trigger) prepare(ctx context.Context) {
	if err := t.rec.deps.Store.EnsureIndexes(ctx); err != nil {
		t.log.Warn("index preparation skipped", logx.Err(err))
	}

	now := t.rec.now()
	next := t.rec.sched.Next(now)
	lastStr := "never"
	if meta, ok, err := t.rec.deps.Store.GetSchedulerMeta(ctx, JobName); err == nil && ok && meta.LastRunAt != "" {
		lastStr = meta.LastRunAt
	}
	t.rec.alert(ctx, fmt.Sprintf("🗓️ Wishbot online. Next run is at %s (%s). Last run was %s.",
		next.Format("2006-01-02 15:04"), t.rec.loc.String(), lastStr))
}
