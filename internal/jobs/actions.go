package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cronbot/internal/completion"
	"cronbot/internal/notify"
	"cronbot/internal/recorder"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

// Completer is the part of completion.Client the prompt job needs.
type Completer interface {
	Chat(ctx context.Context, prompt string) (*completion.Response, error)
}

// CompletionJob sends a prompt to the completion API and forwards the answer
// to a chat target.
type CompletionJob struct {
	Prompt     string
	ChatTarget string
	Client     Completer
	Notifier   notify.Notifier
}

func (j *CompletionJob) Run(ctx context.Context) (Outcome, error) {
	if j.Client == nil {
		return Outcome{}, errors.New("completion client not configured")
	}
	resp, err := j.Client.Chat(ctx, j.Prompt)
	if err != nil {
		return Outcome{RequestPayload: j.Prompt}, err
	}
	out := Outcome{RequestPayload: resp.RequestPayload, ResponsePayload: resp.ResponsePayload}
	if j.ChatTarget == "" || j.Notifier == nil {
		return out, nil
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		text = "(empty response)"
	}
	if err := j.Notifier.SendMessage(ctx, j.ChatTarget, text); err != nil {
		return out, fmt.Errorf("deliver to %s: %w", j.ChatTarget, err)
	}
	return out, nil
}

// StatsJob sends a daily summary of job definitions and executions to the
// admin targets. Delivery failures are logged per target.
type StatsJob struct {
	Store    storage.Store
	Recorder *recorder.Recorder
	Notifier notify.Notifier
	Admins   []string
	Log      logx.Logger
	Now      func() time.Time
}

type statsReport struct {
	Definitions int64     `json:"definitions"`
	Earliest    time.Time `json:"earliest,omitzero"`
	Latest      time.Time `json:"latest,omitzero"`
	Success24h  int64     `json:"success24h"`
	Failure24h  int64     `json:"failure24h"`
	Delivered   int       `json:"delivered"`
}

func (j *StatsJob) Run(ctx context.Context) (Outcome, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	st, err := j.Store.JobStats(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("job stats: %w", err)
	}
	rep := statsReport{Definitions: st.Count, Earliest: st.Earliest, Latest: st.Latest}
	since := now().Add(-24 * time.Hour)
	if j.Recorder != nil {
		if rep.Success24h, err = j.Recorder.Count(ctx, recorder.Filter{Status: storage.StatusSuccess, Since: since}); err != nil {
			return Outcome{}, fmt.Errorf("count executions: %w", err)
		}
		if rep.Failure24h, err = j.Recorder.Count(ctx, recorder.Filter{Status: storage.StatusFailure, Since: since}); err != nil {
			return Outcome{}, fmt.Errorf("count executions: %w", err)
		}
	}

	msg := formatStats(rep)
	for _, admin := range j.Admins {
		if j.Notifier == nil {
			break
		}
		if err := j.Notifier.SendMessage(ctx, admin, msg); err != nil {
			j.Log.Error("daily stats not delivered", logx.String("target", admin), logx.Err(err))
			continue
		}
		rep.Delivered++
	}
	b, _ := json.Marshal(rep)
	return Outcome{ResponsePayload: string(b)}, nil
}

func formatStats(r statsReport) string {
	day := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02")
	}
	var b strings.Builder
	b.WriteString("Daily report\n")
	fmt.Fprintf(&b, "- job definitions: %d\n", r.Definitions)
	fmt.Fprintf(&b, "- earliest: %s\n", day(r.Earliest))
	fmt.Fprintf(&b, "- latest: %s\n", day(r.Latest))
	fmt.Fprintf(&b, "- executions (24h): %d ok, %d failed", r.Success24h, r.Failure24h)
	return b.String()
}

// CleanupJob purges execution records older than Retention.
type CleanupJob struct {
	Recorder  *recorder.Recorder
	Retention time.Duration
	Now       func() time.Time
}

const DefaultRetention = 30 * 24 * time.Hour

func (j *CleanupJob) Run(ctx context.Context) (Outcome, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	keep := j.Retention
	if keep <= 0 {
		keep = DefaultRetention
	}
	cutoff := now().Add(-keep)
	n, err := j.Recorder.Purge(ctx, cutoff)
	if err != nil {
		return Outcome{}, err
	}
	b, _ := json.Marshal(map[string]any{"removed": n, "cutoff": cutoff})
	return Outcome{ResponsePayload: string(b)}, nil
}

// HealthJob probes the store and the notifier backends.
type HealthJob struct {
	Store    storage.Store
	Notifier notify.Notifier
	Timeout  time.Duration
}

func (j *HealthJob) Run(ctx context.Context) (Outcome, error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status := map[string]string{"database": "ok", "notifier": "skipped"}
	var dbErr, nErr error
	var g errgroup.Group
	g.Go(func() error {
		dbErr = j.Store.Ping(ctx)
		return nil
	})
	if hc, ok := j.Notifier.(notify.HealthChecker); ok {
		status["notifier"] = "ok"
		g.Go(func() error {
			nErr = hc.Health(ctx)
			return nil
		})
	}
	_ = g.Wait()
	if dbErr != nil {
		status["database"] = dbErr.Error()
	}
	if nErr != nil {
		status["notifier"] = nErr.Error()
	}
	b, _ := json.Marshal(status)
	out := Outcome{ResponsePayload: string(b)}
	if err := errors.Join(wrapIf("database", dbErr), wrapIf("notifier", nErr)); err != nil {
		return out, err
	}
	return out, nil
}

func wrapIf(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
