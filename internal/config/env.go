package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overlays secrets and deployment settings from the environment.
// Set variables win over file values.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Completion.APIKey, "OPENAI_API_KEY")
	set(&cfg.Completion.BaseURL, "OPENAI_API_BASE_URL")
	set(&cfg.Completion.Model, "OPENAI_MODEL")
	set(&cfg.Telegram.Token, "BOT_TOKEN")
	set(&cfg.Admin.CronSecret, "CRON_SECRET")

	if dsn := strings.TrimSpace(getenv("DATABASE_URL")); dsn != "" {
		cfg.Storage.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		}
	}
	if hook := strings.TrimSpace(getenv("SLACK_WEBHOOK_URL")); hook != "" {
		if cfg.Slack == nil {
			cfg.Slack = &SlackConfig{}
		}
		cfg.Slack.WebhookURL = hook
	}
	if raw := strings.TrimSpace(getenv("ADMIN_IDS")); raw != "" {
		ids, err := parseIDs(raw)
		if err != nil {
			return fmt.Errorf("ADMIN_IDS: %w", err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var out []int64
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
