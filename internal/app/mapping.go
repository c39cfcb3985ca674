package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cronbot/internal/admin"
	"cronbot/internal/completion"
	"cronbot/internal/config"
	"cronbot/internal/notify"
	"cronbot/internal/scheduler"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

// mapLogConfig falls back to the first admin when the notify sink has no
// explicit target.
func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	target := strings.TrimSpace(l.Notify.Target)
	if target == "" && len(cfg.Telegram.AdminIDs) > 0 {
		target = adminTargets(cfg.Telegram.AdminIDs[:1])[0]
	}
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Notify: logx.NotifyConfig{
			Enabled:    l.Notify.Enabled,
			Target:     target,
			MinLevel:   l.Notify.MinLevel,
			RatePerSec: l.Notify.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	dsn := strings.TrimSpace(sc.DSN)
	switch driver {
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			dsn = "./data/cronbot.db"
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: "sqlite", DSN: dsn, BusyTimeout: busy}, nil
	case "postgres", "postgresql":
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "postgres", DSN: dsn}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// OpenStore opens the configured store. CLI commands that only read or
// prune history use it without building the whole app.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log.With(logx.String("comp", "storage")))
}

func mapCompletionConfig(cfg *config.Config) (completion.Config, error) {
	c := cfg.Completion
	timeout, err := config.ParseDurationField("completion.timeout", c.Timeout)
	if err != nil {
		return completion.Config{}, err
	}
	delay, err := config.ParseDurationField("completion.retry_delay", c.RetryDelay)
	if err != nil {
		return completion.Config{}, err
	}
	retries := completion.DefaultMaxRetries
	if c.MaxRetries != nil {
		retries = *c.MaxRetries
	}
	return completion.Config{
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Model:      c.Model,
		Timeout:    timeout,
		MaxRetries: retries,
		RetryDelay: delay,
		Referer:    c.Referer,
		Title:      c.Title,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, time.Duration, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationField("scheduler.tick_timeout", sc.TickTimeout)
	if err != nil {
		return scheduler.Config{}, 0, err
	}
	retention, err := config.ParseDurationField("scheduler.retention", sc.Retention)
	if err != nil {
		return scheduler.Config{}, 0, err
	}
	return scheduler.Config{Timezone: sc.Timezone, TickTimeout: tick}, retention, nil
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	a := cfg.Admin
	return admin.Config{
		Addr:         a.Addr,
		CronSecret:   a.CronSecret,
		ReadTimeout:  config.DurationOr("admin.read_timeout", a.ReadTimeout, 15*time.Second),
		WriteTimeout: config.DurationOr("admin.write_timeout", a.WriteTimeout, 30*time.Second),
		Pprof:        a.Pprof,
	}
}

// buildNotifier wires the configured chat backends behind a router. Bare
// targets go to telegram. The returned Telegram is nil when no bot token is
// configured.
func buildNotifier(cfg *config.Config, log logx.Logger) (*notify.Router, *notify.Telegram, error) {
	router := notify.NewRouter("telegram")
	var tg *notify.Telegram
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		t, err := notify.NewTelegram(notify.TelegramConfig{
			Token:      cfg.Telegram.Token,
			APIURL:     cfg.Telegram.APIURL,
			RatePerSec: cfg.Telegram.RatePerSec,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		tg = t
		router.Handle("telegram", t)
	}
	if cfg.Slack != nil && strings.TrimSpace(cfg.Slack.WebhookURL) != "" {
		s, err := notify.NewSlack(cfg.Slack.WebhookURL, cfg.Slack.Username)
		if err != nil {
			return nil, nil, err
		}
		router.Handle("slack", s)
	}
	return router, tg, nil
}

// adminTargets turns the configured admin user ids into notifier targets.
func adminTargets(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "telegram:"+strconv.FormatInt(id, 10))
	}
	return out
}
