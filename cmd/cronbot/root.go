package main

import (
	"github.com/spf13/cobra"

	"cronbot/internal/app"
	"cronbot/internal/config"
	"cronbot/internal/recorder"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cronbot",
		Short:         "Scheduled prompt jobs with chat delivery and execution history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.json", "path to config file (json or yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for one-shot commands")

	cmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newJobsCmd(opts),
		newTriggerCmd(opts),
		newHistoryCmd(opts),
		newPurgeCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.NewManager(o.configPath).Parse()
}

func (o *rootOptions) logger() logx.Logger {
	return logx.NewConsole(o.logLevel)
}

// openStore opens storage for commands that do not need the scheduler.
// The caller closes the returned store.
func (o *rootOptions) openStore() (storage.Store, *recorder.Recorder, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := o.logger()
	st, err := app.OpenStore(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return st, recorder.New(st, log), nil
}
