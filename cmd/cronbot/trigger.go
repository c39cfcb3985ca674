package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cronbot/internal/app"
)

func newTriggerCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "trigger NAME",
		Short: "Run one job now and record its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(opts.configPath)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.Stop(ctx, app.StopAppStop)
			}()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			started := time.Now()
			if err := a.RunJob(ctx, args[0]); err != nil {
				return fmt.Errorf("%s failed after %s: %w", args[0], time.Since(started).Round(time.Millisecond), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s succeeded in %s\n", args[0], time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "upper bound for the run (0 for none)")
	return cmd
}
