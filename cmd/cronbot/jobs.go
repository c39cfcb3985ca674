package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cronbot/internal/jobs"
	"cronbot/internal/scheduler"
	"cronbot/internal/storage"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage stored prompt jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(opts),
		newJobsAddCmd(opts),
		newJobsRemoveCmd(opts),
		newJobsToggleCmd(opts, "enable", true),
		newJobsToggleCmd(opts, "disable", false),
	)
	return cmd
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored job definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			defs, err := st.ListJobs(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSCHEDULE\tENABLED\tTARGET\tCREATED\tPROMPT")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\t%s\n",
					d.Name, d.Schedule, d.Enabled, d.ChatTarget,
					d.CreatedAt.Format(time.DateTime), clip(d.Prompt, 48))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only enabled definitions")
	return cmd
}

func newJobsAddCmd(opts *rootOptions) *cobra.Command {
	var (
		def      storage.JobDefinition
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new prompt job (picked up by serve on start or restart)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def.Enabled = !disabled
			if jobs.IsBuiltin(def.Name) {
				return fmt.Errorf("job name %q is reserved for a builtin job", def.Name)
			}
			if err := scheduler.ValidateSchedule(def.Schedule); err != nil {
				return err
			}
			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.CreateJob(cmd.Context(), &def); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					return fmt.Errorf("job %q already exists", def.Name)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", def.Name, def.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&def.Name, "name", "", "unique job name")
	f.StringVar(&def.Schedule, "schedule", "", "five-field cron expression")
	f.StringVar(&def.Prompt, "prompt", "", "prompt sent to the completion API")
	f.StringVar(&def.ChatTarget, "target", "", "chat target, e.g. 12345 or slack:#ops")
	f.BoolVar(&disabled, "disabled", false, "store without scheduling")
	for _, name := range []string{"name", "schedule", "prompt", "target"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newJobsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a stored job definition",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.DeleteJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newJobsToggleCmd(opts *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " NAME",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a stored job definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			def, err := st.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			def.Enabled = enabled
			if err := st.UpdateJob(cmd.Context(), def); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", verb, def.Name)
			return nil
		},
	}
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
