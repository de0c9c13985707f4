package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"countdownbot/internal/countdown"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/state"
	"countdownbot/internal/task/scheduler"
	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

type captureNotifier struct {
	mu  sync.Mutex
	got []kit.Notification
	err error
}

func (c *captureNotifier) Notify(_ context.Context, n kit.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, n)
	return nil
}

func (c *captureNotifier) sent() []kit.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]kit.Notification(nil), c.got...)
}

var msk = time.FixedZone("MSK", 3*60*60)

type fixture struct {
	store *state.Memory
	sched *scheduler.Service
	out   *captureNotifier
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T, now time.Time, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: state.NewMemory(),
		sched: scheduler.New(scheduler.Config{Timezone: "Europe/Moscow"}, logx.Nop(), nil),
		out:   &captureNotifier{},
		now:   now,
	}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = New(f.store, f.sched, f.out, opts...)
	return f
}

func TestJobName(t *testing.T) {
	t.Parallel()
	if got := JobName(123456789); got != "notification_123456789" {
		t.Fatalf("JobName = %q", got)
	}
}

func TestScheduleReplacesExistingJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	const user = int64(5)

	if err := f.svc.Schedule(user, countdown.TimeOfDay{Hour: 9, Minute: 0}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Schedule(user, countdown.TimeOfDay{Hour: 21, Minute: 30}); err != nil {
		t.Fatal(err)
	}
	snap := f.sched.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("jobs = %d, want 1", len(snap.Schedules))
	}
	if s := snap.Schedules[0]; s.Name != "notification_5" || s.Spec != "30 21 * * *" {
		t.Fatalf("job = %+v", s)
	}
	if !f.svc.Scheduled(user) {
		t.Fatal("Scheduled = false")
	}

	f.svc.Unschedule(user)
	f.svc.Unschedule(user) // absent is a no-op
	if f.svc.Scheduled(user) {
		t.Fatal("job survived Unschedule")
	}
}

func TestScheduleRejectsInvalidTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	if err := f.svc.Schedule(1, countdown.TimeOfDay{Hour: 24}); !errors.Is(err, countdown.ErrInvalidTime) {
		t.Fatalf("err = %v", err)
	}
}

func TestFireSkipsIncompleteUsers(t *testing.T) {
	t.Parallel()
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, msk)
	f := newFixture(t, now)

	// no date at all
	if err := f.svc.Fire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	// date but no notification time
	f.store.SetDate(2, now.AddDate(0, 0, 10))
	if err := f.svc.Fire(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	// notification time but no date
	f.store.SetNotification(3, countdown.TimeOfDay{Hour: 9})
	if err := f.svc.Fire(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if n := len(f.out.sent()); n != 0 {
		t.Fatalf("sent %d messages, want 0", n)
	}
}

func TestFireSendsCountdown(t *testing.T) {
	t.Parallel()
	target := time.Date(2030, 1, 10, 0, 0, 0, 0, msk)
	now := target.Add(-(24*time.Hour + 2*time.Hour + 3*time.Minute + 30*time.Second))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	f := newFixture(t, now, WithBus(bus))

	const user = int64(77)
	f.store.SetDate(user, target)
	f.store.SetNotification(user, countdown.TimeOfDay{Hour: 21, Minute: 56})

	if err := f.svc.Fire(context.Background(), user); err != nil {
		t.Fatal(err)
	}
	sent := f.out.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d, want 1", len(sent))
	}
	want := "🔔 Ежедневное уведомление!\n\n📅 До 10.01.2030 осталось:\n\n🕐 1 дней, 2 часов, 3 минут"
	if sent[0].Text != want {
		t.Fatalf("text =\n%q\nwant\n%q", sent[0].Text, want)
	}
	if sent[0].Target.ChatID != user || sent[0].DedupKey == "" {
		t.Fatalf("notification = %+v", sent[0])
	}
	select {
	case e := <-events:
		if e.Type != "reminder.sent" {
			t.Fatalf("event = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestFireRetiresPassedDate(t *testing.T) {
	t.Parallel()
	target := time.Date(2030, 1, 10, 0, 0, 0, 0, msk)
	cases := map[string]time.Time{
		"exactly now": target,
		"past":        target.Add(time.Hour),
	}
	for name, now := range cases {
		now := now
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, now)
			const user = int64(8)
			f.store.SetDate(user, target)
			at := countdown.TimeOfDay{Hour: 10}
			f.store.SetNotification(user, at)
			if err := f.svc.Schedule(user, at); err != nil {
				t.Fatal(err)
			}

			if err := f.svc.Fire(context.Background(), user); err != nil {
				t.Fatal(err)
			}
			if len(f.out.sent()) != 0 {
				t.Fatal("passed date must not send a message")
			}
			if f.svc.Scheduled(user) {
				t.Fatal("job still scheduled")
			}
			if f.store.HasNotification(user) {
				t.Fatal("notification time not removed")
			}
			if !f.store.HasDate(user) {
				t.Fatal("date must be kept")
			}
		})
	}
}

func TestFireReportsDeliveryError(t *testing.T) {
	t.Parallel()
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, msk)
	f := newFixture(t, now)
	f.out.err = errors.New("forbidden: bot was blocked by the user")
	f.store.SetDate(1, now.AddDate(0, 1, 0))
	f.store.SetNotification(1, countdown.TimeOfDay{Hour: 9})

	if err := f.svc.Fire(context.Background(), 1); !errors.Is(err, f.out.err) {
		t.Fatalf("err = %v", err)
	}
	if !f.store.HasNotification(1) {
		t.Fatal("a failed delivery must not clear the user's settings")
	}
}
