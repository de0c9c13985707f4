// Package reminder owns the daily per-user countdown notification: one cron
// job per user, named notification_<user>, that sends the remaining time
// until the user's target date and retires itself once the date arrives.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"countdownbot/internal/countdown"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/state"
	"countdownbot/internal/task/scheduler"
	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

const textHeader = "🔔 Ежедневное уведомление!\n\n"

// Scheduler is the slice of the cron service the reminder needs.
type Scheduler interface {
	AddDaily(name string, hour, minute int, timeout time.Duration, job scheduler.Job) (string, error)
	Remove(name string) bool
	Has(name string) bool
}

// Notifier delivers one message; implementations may queue it.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Event is published on the bus as reminder.sent, reminder.expired or
// reminder.failed.
type Event struct {
	UserID int64  `json:"user_id"`
	Job    string `json:"job"`
	Error  string `json:"error,omitempty"`
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option     { return func(s *Service) { s.log = log } }
func WithBus(bus eventbus.Bus) Option        { return func(s *Service) { s.bus = bus } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithTimeout bounds one Fire call; 0 means no bound.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

type Service struct {
	store  state.Store
	sched  Scheduler
	notify Notifier

	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	timeout time.Duration
}

func New(store state.Store, sched Scheduler, notify Notifier, opts ...Option) *Service {
	s := &Service{
		store:   store,
		sched:   sched,
		notify:  notify,
		now:     time.Now,
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// JobName is the scheduler name of the user's daily job.
func JobName(userID int64) string {
	return "notification_" + strconv.FormatInt(userID, 10)
}

// Schedule replaces any job the user has with a daily one at at.
func (s *Service) Schedule(userID int64, at countdown.TimeOfDay) error {
	if !at.Valid() {
		return fmt.Errorf("%w: %s", countdown.ErrInvalidTime, at)
	}
	name := JobName(userID)
	if _, err := s.sched.AddDaily(name, at.Hour, at.Minute, s.timeout, func(ctx context.Context) error {
		return s.Fire(ctx, userID)
	}); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Info("reminder scheduled", logx.Int64("user_id", userID), logx.String("at", at.String()))
	return nil
}

// Unschedule removes the user's job. Absent jobs are fine.
func (s *Service) Unschedule(userID int64) {
	if s.sched.Remove(JobName(userID)) {
		s.log.Info("reminder unscheduled", logx.Int64("user_id", userID))
	}
}

// Scheduled reports whether the user has a live job.
func (s *Service) Scheduled(userID int64) bool {
	return s.sched.Has(JobName(userID))
}

// Fire is the body of the daily job.
//
// A user with no date or no notification time is skipped. A date that is no
// longer in the future retires the job and clears the notification time
// without messaging the user. Delivery errors are logged and returned to
// the scheduler for its run stats; they never affect other users' jobs.
func (s *Service) Fire(ctx context.Context, userID int64) error {
	log := s.log.With(logx.Int64("user_id", userID))

	target, ok := s.store.Date(userID)
	if !ok {
		log.Debug("reminder skipped: no date")
		return nil
	}
	if !s.store.HasNotification(userID) {
		log.Debug("reminder skipped: no notification time")
		return nil
	}

	now := s.now()
	name := JobName(userID)
	if countdown.IsPassed(target, now) {
		s.Unschedule(userID)
		s.store.RemoveNotification(userID)
		log.Info("reminder retired: date reached", logx.String("date", countdown.FormatDate(target)))
		s.publish("reminder.expired", Event{UserID: userID, Job: name})
		return nil
	}

	n := kit.Notification{
		Channel: "telegram",
		Target:  kit.ChatTarget{ChatID: userID},
		Text:    textHeader + countdown.Describe(now, target),
		// one delivery per job per minute, even if cron double-fires
		DedupKey: name + "@" + now.UTC().Format("2006-01-02T15:04"),
	}
	if err := s.notify.Notify(ctx, n); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		log.Warn("reminder not delivered", logx.Err(err))
		s.publish("reminder.failed", Event{UserID: userID, Job: name, Error: err.Error()})
		return err
	}
	s.publish("reminder.sent", Event{UserID: userID, Job: name})
	return nil
}

func (s *Service) publish(typ string, ev Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
