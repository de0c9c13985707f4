package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "countdownbot/pkg/logx"
)

var ErrMissingToken = errors.New("telegram token is not set (BOT_TOKEN or telegram.token)")

// Validate checks everything that would otherwise fail later at startup.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(ErrMissingToken)
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := ParseChatID(g); err != nil {
			add(fmt.Errorf("telegram.group_log: %w", err))
		}
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if lv := strings.TrimSpace(cfg.Logging.Telegram.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", lv))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add(errors.New("logging.telegram.enabled requires telegram.group_log"))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	_, err = ParseDurationField("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	add(err)

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			add(errors.New("notifier: numeric fields must be >= 0"))
		}
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.send_timeout":    n.SendTimeout,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
	}

	if s := cfg.Storage; s != nil {
		add(validateStorage(s))
	}

	if cfg.Ops.Enabled {
		add(validateOps(cfg.Ops))
	}

	return errors.Join(errs...)
}

func validateStorage(s *StorageConfig) error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "none":
		return nil
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=%s", s.Driver)
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		return err
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(s.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}

func validateOps(o OpsConfig) error {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		addr = DefaultOpsAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if !isLoopback(host) && strings.TrimSpace(o.Token) == "" && !o.AllowInsecure {
		return fmt.Errorf("ops.addr %q is not loopback: set ops.token or ops.allow_insecure", addr)
	}
	for path, raw := range map[string]string{
		"ops.read_timeout": o.ReadTimeout,
		"ops.idle_timeout": o.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
