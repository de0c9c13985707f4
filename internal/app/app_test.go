package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"countdownbot/internal/bot"
	"countdownbot/internal/config"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/notifier"
	"countdownbot/internal/reminder"
	"countdownbot/internal/storage"
	"countdownbot/internal/transport/transporttest"
)

func TestMapNotifierConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapNotifierConfig(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled || got.Workers != 2 || got.QueueSize != 512 || got.RetryMax != 0 {
		t.Fatalf("defaults = %+v", got)
	}
	if got.DedupWindow != 50*time.Second || got.RetryBase != 500*time.Millisecond {
		t.Fatalf("durations = %v %v", got.DedupWindow, got.RetryBase)
	}

	cfg := config.Default()
	cfg.Notifier = &config.NotifierConfig{Enabled: false, Workers: 4, RetryMax: 2, DedupWindow: "2m"}
	got, err = mapNotifierConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled || got.Workers != 4 || got.RetryMax != 2 || got.DedupWindow != 2*time.Minute || got.QueueSize != 512 {
		t.Fatalf("explicit = %+v", got)
	}

	cfg.Notifier.RetryBase = "soon"
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "omitted"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "./data/bot"}, enabled: true, driver: "file"},
		{name: "file without path", in: &config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite", Path: "./bot.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite bad busy", in: &config.StorageConfig{Driver: "sqlite", Path: "./bot.db", BusyTimeout: "x"}, wantErr: true},
		{name: "postgres", in: &config.StorageConfig{Driver: "pg", DSN: "postgres://u@h/db"}, enabled: true, driver: "postgres"},
		{name: "postgres without dsn", in: &config.StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage = tc.in
			sc, enabled, err := mapStorageConfig(cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if enabled != tc.enabled || sc.Driver != tc.driver {
				t.Fatalf("got (%+v, %v)", sc, enabled)
			}
		})
	}
}

func TestMapOpsConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapOpsConfig(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr != config.DefaultOpsAddr || got.ReadTimeout != 5*time.Second || got.IdleTimeout != time.Minute {
		t.Fatalf("ops = %+v", got)
	}
}

func TestLogTarget(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if logTarget(cfg) != 0 {
		t.Fatal("empty group_log should give 0")
	}
	cfg.Telegram.GroupLog = " -1001234567890 "
	if got := logTarget(cfg); got != -1001234567890 {
		t.Fatalf("target = %d", got)
	}
}

func TestAuditEntryFor(t *testing.T) {
	t.Parallel()
	at := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		ev     eventbus.Event
		keep   bool
		action string
		ok     bool
	}{
		{
			name:   "date set",
			ev:     eventbus.Event{Type: "dialog.date_set", Time: at, Data: bot.DialogEvent{UserID: 1, Value: "25.12.2030", ReqID: "r1"}},
			keep:   true,
			action: "date_set",
			ok:     true,
		},
		{
			name:   "reminder sent",
			ev:     eventbus.Event{Type: "reminder.sent", Time: at, Data: reminder.Event{UserID: 1, Job: "notification_1"}},
			keep:   true,
			action: "reminder_sent",
			ok:     true,
		},
		{
			name:   "reminder failed",
			ev:     eventbus.Event{Type: "reminder.failed", Time: at, Data: reminder.Event{UserID: 1, Error: "boom"}},
			keep:   true,
			action: "reminder_failed",
		},
		{
			name:   "notifier failed",
			ev:     eventbus.Event{Type: "notifier.failed", Time: at, Data: notifier.NotificationEvent{ChatID: 5, Error: "502"}},
			keep:   true,
			action: "notifier_failed",
		},
		{
			name: "notifier sent is not journaled",
			ev:   eventbus.Event{Type: "notifier.sent", Time: at, Data: notifier.NotificationEvent{ChatID: 5}},
		},
		{
			name: "scheduler run",
			ev:   eventbus.Event{Type: "scheduler.run", Time: at, Data: "x"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, keep := auditEntryFor(tc.ev)
			if keep != tc.keep {
				t.Fatalf("keep = %v", keep)
			}
			if !keep {
				return
			}
			if got.Action != tc.action || got.OK != tc.ok || !got.At.Equal(at) {
				t.Fatalf("entry = %+v", got)
			}
		})
	}

	got, _ := auditEntryFor(cases[0].ev)
	if !strings.Contains(got.MetaJSON, `"req_id":"r1"`) {
		t.Fatalf("meta = %q", got.MetaJSON)
	}
}

func newTestApp(t *testing.T) (*App, *transporttest.Adapter) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Telegram.Token = "test-token"
	cfg.Telegram.OwnerUserIDs = []int64{42}
	cfg.Logging.Console = false
	cfg.Logging.Level = "error"
	cfg.Storage = &config.StorageConfig{Driver: "file", Path: filepath.Join(dir, "bot.db")}

	cfgm := config.NewManager(filepath.Join(dir, "config.yaml"))
	cfgm.Commit(cfg)

	ad := transporttest.New()
	a, err := build(cfgm, cfg, ad)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a, ad
}

func TestAppDialogIsJournaled(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	a.updates <- transporttest.Text(42, "/set_date")
	if !ad.WaitFor(2*time.Second, func(ad *transporttest.Adapter) bool { return len(ad.Sent()) >= 1 }) {
		t.Fatal("no prompt")
	}
	a.updates <- transporttest.Text(42, "25.12.2099")
	if !ad.WaitFor(2*time.Second, func(ad *transporttest.Adapter) bool {
		return strings.Contains(ad.LastText(), "25.12.2099")
	}) {
		t.Fatalf("last reply = %q", ad.LastText())
	}

	var entries []storage.AuditEntry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, _ = a.store.RecentAudit(context.Background(), 10)
		if len(entries) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(entries) == 0 || entries[0].Action != "date_set" || entries[0].UserID != 42 {
		t.Fatalf("audit = %+v", entries)
	}
	if !strings.Contains(entries[0].MetaJSON, "req_id") {
		t.Fatalf("meta = %q", entries[0].MetaJSON)
	}

	st := a.status(context.Background())
	if st.Users != 1 || st.WithDate != 1 || st.WithNotification != 0 {
		t.Fatalf("status = %+v", st)
	}
	if len(st.RecentAudit) == 0 {
		t.Fatal("status should carry recent audit entries")
	}
	if len(ad.Menu()) == 0 {
		t.Fatal("command menu not published")
	}
}

func TestApplyConfigUpdatesOwners(t *testing.T) {
	t.Parallel()
	a, ad := newTestApp(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Telegram.OwnerUserIDs = []int64{7}
	a.applyConfig(context.Background(), oldCfg, &next)

	a.updates <- transporttest.Text(7, "/status")
	if !ad.WaitFor(2*time.Second, func(ad *transporttest.Adapter) bool {
		return strings.Contains(ad.LastText(), "Countdown bot")
	}) {
		t.Fatalf("new owner denied: %q", ad.LastText())
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t)
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed before Start")
	}
	_ = a.store.Close()
}
