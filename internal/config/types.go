package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier may be omitted; runtime defaults apply (enabled, no retry).
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	// Storage may be omitted; nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`
	Ops     OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	// Token is usually supplied through BOT_TOKEN instead.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the daily reminder jobs.
type SchedulerConfig struct {
	// Timezone every reminder time and target date is read in.
	Timezone string `json:"timezone,omitempty"`
	// JobTimeout bounds one reminder run. "0s" disables it.
	JobTimeout string `json:"job_timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/countdownbot.sqlite }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the optional operator HTTP server (health, status,
// pprof).
//
// Bind to loopback, or set a token, or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

const (
	DefaultTimezone    = "Europe/Moscow"
	DefaultPollTimeout = "10s"
	DefaultOpsAddr     = "127.0.0.1:6060"
)

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: DefaultPollTimeout},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			Timezone:   DefaultTimezone,
			JobTimeout: "30s",
		},
	}
}

// DefaultNotifier is used when the notifier section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      20,
		RetryMax:        0,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "50s",
		DedupMaxEntries: 2000,
	}
}

// NotifierOrDefault returns the configured notifier section or
// DefaultNotifier.
func (c *Config) NotifierOrDefault() NotifierConfig {
	if c == nil || c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}
