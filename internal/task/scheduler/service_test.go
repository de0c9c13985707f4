package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"countdownbot/internal/eventbus"
	logx "countdownbot/pkg/logx"
)

func nopJob(context.Context) error { return nil }

func newStarted(t *testing.T, tz string, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Timezone: tz}, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestAddDailyReplacesByName(t *testing.T) {
	t.Parallel()
	s := newStarted(t, "Europe/Moscow", nil)

	if _, err := s.AddDaily("notification_1", 9, 0, 0, nopJob); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if _, err := s.AddDaily("notification_1", 21, 30, 0, nopJob); err != nil {
		t.Fatalf("AddDaily again: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(snap.Schedules))
	}
	it := snap.Schedules[0]
	if it.Spec != "30 21 * * *" {
		t.Fatalf("spec = %q", it.Spec)
	}
	next := it.Next.In(s.Location())
	if next.Hour() != 21 || next.Minute() != 30 {
		t.Fatalf("next = %v, want 21:30 in %s", next, s.Location())
	}
	if !next.After(time.Now()) {
		t.Fatalf("next %v is not in the future", next)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := newStarted(t, "UTC", nil)
	if _, err := s.AddDaily("a", 1, 2, 0, nopJob); err != nil {
		t.Fatal(err)
	}
	if !s.Has("a") {
		t.Fatal("Has(a) = false")
	}
	if !s.Remove("a") {
		t.Fatal("Remove(a) = false")
	}
	if s.Remove("a") {
		t.Fatal("second Remove reported true")
	}
	if s.Has("a") || len(s.Snapshot().Schedules) != 0 {
		t.Fatal("job still registered")
	}
}

func TestAddBeforeStartIsRegisteredOnStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), nil)
	if _, err := s.AddDaily("early", 6, 0, 0, nopJob); err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); snap.Running || !snap.Schedules[0].Next.IsZero() {
		t.Fatalf("unexpected snapshot before start: %+v", snap)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if next := s.Snapshot().Schedules[0].Next; next.IsZero() || next.UTC().Hour() != 6 {
		t.Fatalf("next = %v", next)
	}
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	cases := []struct {
		name string
		fn   func() error
	}{
		{"bad spec", func() error { _, err := s.AddCron("x", "not a spec", 0, nopJob); return err }},
		{"empty name", func() error { _, err := s.AddCron(" ", "@daily", 0, nopJob); return err }},
		{"nil job", func() error { _, err := s.AddCron("x", "@daily", 0, nil); return err }},
		{"hour 24", func() error { _, err := s.AddDaily("x", 24, 0, 0, nopJob); return err }},
		{"minute 60", func() error { _, err := s.AddDaily("x", 0, 60, 0, nopJob); return err }},
	}
	for _, tc := range cases {
		if err := tc.fn(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if s.Has("x") {
		t.Fatal("invalid add left a definition behind")
	}
}

func TestInvalidTimezoneFallsBackToLocal(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Mars/Olympus"}, logx.Nop(), nil)
	if s.Location() != time.Local {
		t.Fatalf("Location = %v, want Local", s.Location())
	}
}

func TestRunRecordsStatsAndPublishes(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := newStarted(t, "UTC", bus)
	boom := errors.New("boom")
	var sawDeadline bool
	if _, err := s.AddCron("job", "@daily", 50*time.Millisecond, func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return boom
	}); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	d := s.defs["job"]
	s.mu.Unlock()
	s.run(d)

	if !sawDeadline {
		t.Fatal("job ctx has no deadline")
	}
	it := s.Snapshot().Schedules[0]
	if it.Runs != 1 || it.Failures != 1 || it.LastErr != "boom" || it.Prev.IsZero() {
		t.Fatalf("stats = %+v", it)
	}
	select {
	case e := <-ch:
		ev, ok := e.Data.(RunEvent)
		if e.Type != "scheduler.failed" || !ok || ev.Name != "job" || ev.Error != "boom" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestSecondsSpecFires(t *testing.T) {
	t.Parallel()
	s := newStarted(t, "UTC", nil)
	fired := make(chan struct{}, 1)
	if _, err := s.AddCron("tick", "* * * * * *", 0, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}
