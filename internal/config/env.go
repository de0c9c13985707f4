package config

import (
	"os"
	"strings"
)

// Environment variables that override file values. BOT_TOKEN is the usual
// way to supply the token; .env is loaded into the environment by main.
const (
	EnvToken    = "BOT_TOKEN"
	EnvLogLevel = "LOG_LEVEL"
	EnvTimezone = "BOT_TIMEZONE"
)

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvTimezone)); v != "" {
		cfg.Scheduler.Timezone = v
	}
}
