package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envOf(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAMLKeepsDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/bot.sqlite
`)
	m := NewManager(p)
	m.getenv = envOf(nil)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Scheduler.Timezone != DefaultTimezone || cfg.Telegram.PollTimeout != DefaultPollTimeout {
		t.Fatalf("defaults lost: %+v %+v", cfg.Scheduler, cfg.Telegram)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Notifier != nil || !cfg.NotifierOrDefault().Enabled {
		t.Fatal("omitted notifier should fall back to enabled defaults")
	}
}

func TestParseStrict(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := []struct{ file, body string }{
		{"unknown.json", `{"telegram":{"token":"x"},"plugins":{}}`},
		{"trailing.json", `{"telegram":{"token":"x"}}{"x":1}`},
		{"unknown.yaml", "telegram:\n  token: x\n  proxy: socks5://h\n"},
		{"broken.yaml", "telegram: [unclosed"},
	}
	for _, tc := range cases {
		p := writeFile(t, dir, tc.file, tc.body)
		if _, err := NewManager(p).Parse(); err == nil {
			t.Fatalf("%s: expected error", tc.file)
		}
	}
}

func TestMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.getenv = envOf(map[string]string{
		EnvToken:    " 999:token ",
		EnvLogLevel: "warn",
		EnvTimezone: "UTC",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "999:token" || cfg.Logging.Level != "warn" || cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestLoadFailsWithoutToken(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.getenv = envOf(map[string]string{EnvToken: "   "})
	if _, err := m.Load(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() *Config {
		c := Default()
		c.Telegram.Token = "t"
		return c
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Nowhere/City" }, "scheduler.timezone"},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "telegram.poll_timeout"},
		{"negative job timeout", func(c *Config) { c.Scheduler.JobTimeout = "-1s" }, "scheduler.job_timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@channel" }, "telegram.group_log"},
		{"telegram log without group", func(c *Config) { c.Logging.Telegram.Enabled = true }, "group_log"},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"postgres without dsn", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }, "storage.dsn"},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"bad dedup window", func(c *Config) {
			n := DefaultNotifier()
			n.DedupWindow = "often"
			c.Notifier = &n
		}, "notifier.dedup_window"},
		{"public ops without token", func(c *Config) { c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:6060"} }, "ops.addr"},
		{"public ops with token", func(c *Config) { c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "s"} }, ""},
		{"loopback ops", func(c *Config) { c.Ops = OpsConfig{Enabled: true} }, ""},
	}
	for _, tc := range cases {
		c := valid()
		tc.mutate(c)
		err := Validate(c)
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
}

func TestSummarizeAndRestartRequired(t *testing.T) {
	t.Parallel()
	a := Default()
	a.Telegram.Token = "secret-1"
	b := Default()
	b.Telegram.Token = "secret-1"
	b.Logging.Level = "debug"
	b.Telegram.OwnerUserIDs = []int64{1}

	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "logging,telegram" {
		t.Fatalf("changed = %v", changed)
	}
	if r := RestartRequired(a, b); len(r) != 0 {
		t.Fatalf("live-reloadable change reported as restart: %v", r)
	}

	b.Scheduler.Timezone = "UTC"
	b.Storage = &StorageConfig{Driver: "file", Path: "x"}
	r := RestartRequired(a, b)
	if strings.Join(r, ",") != "scheduler,storage" {
		t.Fatalf("restart = %v", r)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "telegram:\n  token: t\nlogging:\n  level: info\n")
	m := NewManager(p)
	m.getenv = envOf(nil)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// let the watcher register the directory
	time.Sleep(200 * time.Millisecond)

	// invalid timezone: rejected, nothing published
	writeFile(t, dir, "config.yaml", "telegram:\n  token: t\nscheduler:\n  timezone: Nowhere/City\n")
	select {
	case c := <-ch:
		t.Fatalf("invalid config published: %+v", c.Scheduler)
	case <-time.After(700 * time.Millisecond):
	}

	writeFile(t, dir, "config.yaml", "telegram:\n  token: t\nlogging:\n  level: debug\n")
	select {
	case c := <-ch:
		if c.Logging.Level != "debug" {
			t.Fatalf("level = %q", c.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload not committed")
	}

	cancel()
	<-done
}
