// Package app wires the countdown bot together: config, logging, the
// Telegram adapter, the reminder pipeline, the dialog layer and the
// optional ops server, plus hot reload and the staged shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"countdownbot/internal/bot"
	"countdownbot/internal/config"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/notifier"
	"countdownbot/internal/ops"
	"countdownbot/internal/reminder"
	rtsup "countdownbot/internal/runtime/supervisor"
	"countdownbot/internal/state"
	"countdownbot/internal/storage"
	"countdownbot/internal/task/scheduler"
	kit "countdownbot/internal/transport"
	telegram "countdownbot/internal/transport/telegram/adapter"
	"countdownbot/internal/transport/telegram/router"
	logx "countdownbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	sched     *scheduler.Service
	notif     *notifier.Service
	ops       *ops.Service
	users     *state.Memory
	reminders *reminder.Service
	bot       *bot.Bot
	cmdm      *router.CommandManager

	startedAt time.Time
	updates   chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	a, err := build(cfgm, cfg, ad)
	if err != nil {
		return nil, err
	}
	a.cfgPath = cfgPath
	return a, nil
}

// build maps an already loaded config onto the runtime services.
func build(cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	// Apply would warn about an enabled Telegram sink with no target, so
	// start with it off, set the target, then apply the real config.
	finalLogCfg := mapLogConfig(cfg)
	baseLogCfg := finalLogCfg
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	if chatID := logTarget(cfg); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(finalLogCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedSvc := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone},
		log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus, store)

	jobTimeout, err := config.ParseDurationField("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	if err != nil {
		return nil, err
	}
	users := state.NewMemory()
	rem := reminder.New(users, schedSvc, notifSvc,
		reminder.WithLogger(log.With(logx.String("comp", "reminder"))),
		reminder.WithBus(bus),
		reminder.WithTimeout(jobTimeout),
	)

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		sched:     schedSvc,
		notif:     notifSvc,
		users:     users,
		reminders: rem,
		startedAt: time.Now(),
		updates:   make(chan kit.Update, 256),
	}

	a.bot = bot.New(bot.Deps{
		Store:     users,
		Reminders: rem,
		Location:  schedSvc.Location(),
		Bus:       bus,
		Log:       log.With(logx.String("comp", "bot")),
		Status:    a.status,
		DialogTTL: 24 * time.Hour,
	})

	busy, forbidden := bot.RouterTexts()
	a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, cfg.Telegram.OwnerUserIDs, router.WithTexts(busy, forbidden))
	a.cmdm.SetRegistry(a.bot.Registry())

	a.ops = ops.New(opsCfg, log.With(logx.String("comp", "ops")), func(ctx context.Context) any {
		return a.status(ctx)
	})
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// reloads are validated against the runtime mappers before commit
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())
	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}

	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.cmdm.PublishMenu(c); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
	})

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.audit", func(c context.Context) {
		defer unsub()
		a.eventLoop(c, events)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: only the newest config is applied
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("timezone", a.sched.Location().String()),
		logx.Bool("storage", a.store != nil),
		logx.Bool("ops", a.ops.Enabled()),
	)
	return nil
}

// applyConfig pushes the live-reloadable parts of newCfg into the running
// services. Fields listed by config.RestartRequired are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("fields", restart))
	}

	// target first so Apply doesn't warn about a sink without a chat
	a.logs.SetTelegramTarget(logTarget(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	prevNotifEnabled := a.notif.Enabled()
	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		switch {
		case prevNotifEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevNotifEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	opsCfg, err := mapOpsConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, opsCfg)
	}

	a.log.Info("config reloaded", fields...)
}

// status builds the report shared by /status and the ops endpoint.
func (a *App) status(ctx context.Context) bot.StatusReport {
	withDate, withNotification := a.users.Stats()
	r := bot.StatusReport{
		StartedAt:        a.startedAt,
		Uptime:           time.Since(a.startedAt).Truncate(time.Second).String(),
		Users:            a.users.Len(),
		WithDate:         withDate,
		WithNotification: withNotification,
		OpenDialogs:      a.bot.OpenDialogs(),
		Scheduler:        a.sched.Snapshot(),
		Notifier:         a.notif.Stats(),
		Router:           a.cmdm.Stats(),
	}
	if a.store != nil {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		entries, err := a.store.RecentAudit(cctx, 5)
		cancel()
		if err != nil {
			a.log.Debug("recent audit unavailable", logx.Err(err))
		} else {
			r.RecentAudit = entries
		}
	}
	return r
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// cancel first so background loops start unwinding immediately
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component can't stall the rest
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; report it if it doesn't
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// scheduler first: no reminder may fire into a stopped notifier
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", 1*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// config watch/reload, dispatcher and the audit loop
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
