package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cronbot/internal/jobs"
	"cronbot/internal/recorder"
	"cronbot/internal/storage"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		jobName string
		status  string
		since   time.Duration
		limit   int
		asc     bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := recorder.Filter{JobName: jobName, Ascending: asc, Limit: limit}
			switch strings.ToUpper(strings.TrimSpace(status)) {
			case "":
			case string(storage.StatusSuccess):
				f.Status = storage.StatusSuccess
			case string(storage.StatusFailure):
				f.Status = storage.StatusFailure
			default:
				return fmt.Errorf("unknown status %q (want success or failure)", status)
			}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}

			st, rec, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for r, err := range rec.Query(cmd.Context(), f) {
					if err != nil {
						return err
					}
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tJOB\tSTATUS\tDURATION\tERROR")
			for r, err := range rec.Query(cmd.Context(), f) {
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Format(time.DateTime), r.JobName, r.Status,
					r.Duration.Round(time.Millisecond), clip(r.ErrorDetail, 60))
			}
			return tw.Flush()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&jobName, "job", "", "only this job")
	fl.StringVar(&status, "status", "", "success or failure")
	fl.DurationVar(&since, "since", 0, "only executions newer than this (e.g. 24h)")
	fl.IntVarP(&limit, "limit", "n", 20, "maximum records (0 for all)")
	fl.BoolVar(&asc, "asc", false, "oldest first")
	fl.BoolVar(&asJSON, "json", false, "one JSON record per line")
	return cmd
}

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete execution records older than a retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			st, rec, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			cutoff := time.Now().Add(-olderThan)
			n, err := rec.Purge(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s) started before %s\n", n, cutoff.Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", jobs.DefaultRetention, "retention window")
	return cmd
}
