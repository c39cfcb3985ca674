package config

import (
	"errors"
	"fmt"
	"strings"
)

// MaxRetries bounds completion.max_retries.
const MaxRetries = 20

// Validate checks the parts of cfg that can be checked without I/O.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	durations := map[string]string{
		"completion.timeout":     cfg.Completion.Timeout,
		"completion.retry_delay": cfg.Completion.RetryDelay,
		"scheduler.tick_timeout": cfg.Scheduler.TickTimeout,
		"scheduler.retention":    cfg.Scheduler.Retention,
		"storage.busy_timeout":   cfg.Storage.BusyTimeout,
		"admin.read_timeout":     cfg.Admin.ReadTimeout,
		"admin.write_timeout":    cfg.Admin.WriteTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if r := cfg.Completion.MaxRetries; r != nil && (*r < 0 || *r > MaxRetries) {
		errs = append(errs, fmt.Errorf("completion.max_retries must be between 0 and %d", MaxRetries))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "postgres", "postgresql", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.CronSecret) == "" {
		errs = append(errs, errors.New("admin.cron_secret (or CRON_SECRET) is required when admin is enabled"))
	}
	if cfg.Logging.Notify.Enabled && strings.TrimSpace(cfg.Logging.Notify.Target) == "" && len(cfg.Telegram.AdminIDs) == 0 {
		errs = append(errs, errors.New("logging.notify.target is required when logging.notify is enabled"))
	}
	return errors.Join(errs...)
}
