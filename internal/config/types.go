package config

// Config is the on-disk configuration. JSON and YAML share the same keys.
//
// Secrets may be left empty in the file and supplied through the
// environment (see ApplyEnv).
type Config struct {
	Completion CompletionConfig `json:"completion"`
	Telegram   TelegramConfig   `json:"telegram"`
	Slack      *SlackConfig     `json:"slack,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Storage    StorageConfig    `json:"storage"`
	Admin      AdminConfig      `json:"admin"`
}

// CompletionConfig configures the OpenAI-compatible client.
//
// Durations are Go duration strings. MaxRetries is a pointer so an explicit
// 0 (single attempt) differs from omitted (default 3).
type CompletionConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
	Referer    string `json:"referer,omitempty"`
	Title      string `json:"title,omitempty"`
}

type TelegramConfig struct {
	Token      string  `json:"token"`
	APIURL     string  `json:"api_url,omitempty"`
	AdminIDs   []int64 `json:"admin_ids"`
	RatePerSec int     `json:"rate_per_sec,omitempty"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Notify  LoggingNotify `json:"notify"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingNotify forwards warnings and errors to a chat target.
type LoggingNotify struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// TickTimeout bounds a single run ("0s" or empty: unbounded).
	TickTimeout string `json:"tick_timeout,omitempty"`
	// Retention is how long execution records are kept (default "720h").
	Retention string `json:"retention,omitempty"`
	// Builtins toggles the maintenance jobs; omitted means on.
	Builtins *bool `json:"builtins,omitempty"`
	// AlertFailures sends job.failed events to the admins.
	AlertFailures bool `json:"alert_failures,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "dsn": "./data/cronbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	DSN         string `json:"dsn"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// AdminConfig controls the HTTP administrative surface.
//
// Requests must carry "Authorization: Bearer <cron_secret>". Prefer binding
// to localhost.
type AdminConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	CronSecret   string `json:"cron_secret,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts /debug/pprof/ behind the same auth.
	Pprof bool `json:"pprof,omitempty"`
}

// BuiltinsEnabled reports whether the maintenance jobs are registered.
func (s SchedulerConfig) BuiltinsEnabled() bool {
	return s.Builtins == nil || *s.Builtins
}
