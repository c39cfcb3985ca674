package config

import (
	"reflect"
	"strings"

	logx "cronbot/pkg/logx"
)

// LiveSections can change without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeChange lists the sections that differ between two configs and
// safe log fields describing the new values. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.notify", newCfg.Logging.Notify.Enabled),
		)
	}

	oc, nc := oldCfg.Completion, newCfg.Completion
	oc.APIKey, nc.APIKey = "", ""
	if !reflect.DeepEqual(oc, nc) || oldCfg.Completion.APIKey != newCfg.Completion.APIKey {
		changed = append(changed, "completion")
		attrs = append(attrs,
			logx.String("completion.base_url", nc.BaseURL),
			logx.String("completion.model", nc.Model),
			logx.Bool("completion.api_key_changed", oldCfg.Completion.APIKey != newCfg.Completion.APIKey),
		)
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.APIURL) != strings.TrimSpace(newCfg.Telegram.APIURL) ||
		!reflect.DeepEqual(oldCfg.Telegram.AdminIDs, newCfg.Telegram.AdminIDs) ||
		oldCfg.Telegram.RatePerSec != newCfg.Telegram.RatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Int("telegram.admin_count", len(newCfg.Telegram.AdminIDs)))
	}

	if !reflect.DeepEqual(oldCfg.Slack, newCfg.Slack) {
		changed = append(changed, "slack")
		attrs = append(attrs, logx.Bool("slack.enabled", newCfg.Slack != nil && newCfg.Slack.WebhookURL != ""))
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	oa, na := oldCfg.Admin, newCfg.Admin
	if oa.Enabled != na.Enabled || oa.Addr != na.Addr || oa.CronSecret != na.CronSecret ||
		oa.ReadTimeout != na.ReadTimeout || oa.WriteTimeout != na.WriteTimeout || oa.Pprof != na.Pprof {
		changed = append(changed, "admin")
		attrs = append(attrs, logx.Bool("admin.enabled", na.Enabled), logx.String("admin.addr", na.Addr))
	}
	return changed, attrs
}

// RestartRequired returns the changed sections that only apply on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		if !LiveSections[c] {
			out = append(out, c)
		}
	}
	return out
}
