package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cronbot/internal/scheduler"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schedule...]",
		Short: "Check the config file, or the given cron expressions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				bad := 0
				for _, expr := range args {
					if err := scheduler.ValidateSchedule(expr); err != nil {
						bad++
						fmt.Fprintf(out, "invalid  %q: %v\n", expr, err)
						continue
					}
					fmt.Fprintf(out, "valid    %q\n", expr)
				}
				if bad > 0 {
					return fmt.Errorf("%d invalid schedule(s)", bad)
				}
				return nil
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			var backends []string
			if strings.TrimSpace(cfg.Telegram.Token) != "" {
				backends = append(backends, "telegram")
			}
			if cfg.Slack != nil && strings.TrimSpace(cfg.Slack.WebhookURL) != "" {
				backends = append(backends, "slack")
			}
			fmt.Fprintf(out, "config OK: %s\n", opts.configPath)
			fmt.Fprintf(out, "  storage:    %s\n", orDefault(cfg.Storage.Driver, "sqlite"))
			fmt.Fprintf(out, "  scheduler:  enabled=%v builtins=%v tz=%s\n", cfg.Scheduler.Enabled, cfg.Scheduler.BuiltinsEnabled(), orDefault(cfg.Scheduler.Timezone, "local"))
			fmt.Fprintf(out, "  notifiers:  %s\n", orDefault(strings.Join(backends, ","), "none"))
			fmt.Fprintf(out, "  admin:      enabled=%v addr=%s\n", cfg.Admin.Enabled, orDefault(cfg.Admin.Addr, "127.0.0.1:8080"))
			fmt.Fprintf(out, "  completion: api_key=%v\n", strings.TrimSpace(cfg.Completion.APIKey) != "")
			return nil
		},
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
