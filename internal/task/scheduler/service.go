package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"countdownbot/internal/eventbus"
	logx "countdownbot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log,
		bus: bus,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*scheduleDef{},
	}
	s.loc = loadLocation(cfg.Timezone, log)
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the zone every cron spec is evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start begins triggering. Jobs added earlier are registered now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	cl := CronLogger(s.log)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running jobs until ctx is done.
// Definitions are kept so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// AddCron registers job under name, replacing any job with the same name.
// It returns the name, which is the handle for Remove.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c == nil {
		return name, nil
	}
	if err := s.registerLocked(d); err != nil {
		delete(s.defs, name)
		return "", err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec)}
	if next := s.previewLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return name, nil
}

// AddDaily runs job every day at hour:minute in the scheduler zone.
func (s *Service) AddDaily(name string, hour, minute int, timeout time.Duration, job Job) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid daily time %02d:%02d", hour, minute)
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", minute, hour), timeout, job)
}

// Remove unregisters name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) Has(name string) bool {
	s.mu.Lock()
	_, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	return ok
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) registerLocked(d *scheduleDef) error {
	id, err := s.c.AddJob(d.spec, cron.FuncJob(func() { s.run(d) }))
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) run(d *scheduleDef) {
	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.job(ctx)
	took := time.Since(start)

	s.mu.Lock()
	d.runs++
	d.lastRun = start
	if err != nil {
		d.failures++
		d.lastErr = err.Error()
	}
	s.mu.Unlock()

	ev := RunEvent{Name: d.name, Took: took}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("schedule run failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
	}
	if s.bus != nil {
		typ := "scheduler.ran"
		if err != nil {
			typ = "scheduler.failed"
		}
		s.bus.Publish(eventbus.Event{Type: typ, Time: start, Data: ev})
	}
}

// previewLocked lists the next n run times for debug logs.
func (s *Service) previewLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Running: s.c != nil, Timezone: s.loc.String()}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:     d.name,
			Spec:     d.spec,
			Timeout:  d.timeout,
			Runs:     d.runs,
			Failures: d.failures,
			LastErr:  d.lastErr,
			Prev:     d.lastRun,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	sortSchedules(snap.Schedules)
	return snap
}
