package jobs

import (
	"context"
	"fmt"
	"time"

	"cronbot/internal/notify"
	"cronbot/internal/recorder"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

const (
	DailyStats  = "daily-stats"
	Cleanup     = "cleanup-old-executions"
	HealthCheck = "health-check"
	StatsCron   = "0 0 * * *"
	CleanupCron = "0 2 * * 0"
	HealthCron  = "*/5 * * * *"
)

// Deps are the collaborators job actions are built from.
type Deps struct {
	Store     storage.Store
	Recorder  *recorder.Recorder
	Client    Completer
	Notifier  notify.Notifier
	Admins    []string
	Retention time.Duration
	Log       logx.Logger
}

// IsBuiltin reports whether name is reserved for a maintenance job. Stored
// definitions may not use these names.
func IsBuiltin(name string) bool {
	switch name {
	case DailyStats, Cleanup, HealthCheck:
		return true
	}
	return false
}

// Builtins returns the fixed maintenance jobs.
func Builtins(d Deps) []Spec {
	return []Spec{
		{
			Name:     DailyStats,
			Schedule: StatsCron,
			Enabled:  true,
			Origin:   OriginBuiltin,
			Runner: &StatsJob{
				Store:    d.Store,
				Recorder: d.Recorder,
				Notifier: d.Notifier,
				Admins:   d.Admins,
				Log:      d.Log.With(logx.Job(DailyStats)),
			},
		},
		{
			Name:     Cleanup,
			Schedule: CleanupCron,
			Enabled:  true,
			Origin:   OriginBuiltin,
			Runner:   &CleanupJob{Recorder: d.Recorder, Retention: d.Retention},
		},
		{
			Name:     HealthCheck,
			Schedule: HealthCron,
			Enabled:  true,
			Origin:   OriginBuiltin,
			Runner:   &HealthJob{Store: d.Store, Notifier: d.Notifier},
		},
	}
}

// FromDefinition turns a stored prompt job into a Spec.
func FromDefinition(def storage.JobDefinition, d Deps) Spec {
	return Spec{
		Name:     def.Name,
		Schedule: def.Schedule,
		Enabled:  def.Enabled,
		Origin:   OriginStored,
		Runner: &CompletionJob{
			Prompt:     def.Prompt,
			ChatTarget: def.ChatTarget,
			Client:     d.Client,
			Notifier:   d.Notifier,
		},
	}
}

// Catalog loads the builtin jobs plus every enabled stored definition.
type Catalog struct {
	Deps Deps
	// SkipBuiltins leaves out the maintenance jobs.
	SkipBuiltins bool
}

func (c *Catalog) Load(ctx context.Context) ([]Spec, error) {
	var out []Spec
	if !c.SkipBuiltins {
		out = append(out, Builtins(c.Deps)...)
	}
	if c.Deps.Store == nil {
		return out, nil
	}
	defs, err := c.Deps.Store.ListJobs(ctx, true)
	if err != nil {
		return out, fmt.Errorf("load job definitions: %w", err)
	}
	// Oldest first so registration order follows creation order.
	for i := len(defs) - 1; i >= 0; i-- {
		out = append(out, FromDefinition(defs[i], c.Deps))
	}
	return out, nil
}
