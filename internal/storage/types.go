package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate name")
	ErrClosed    = errors.New("storage: closed")
)

// Config configures storage.
type Config struct {
	Driver      string
	DSN         string        // sqlite file path or postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// JobDefinition is a stored, user-defined prompt job.
type JobDefinition struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Prompt     string    `json:"prompt"`
	ChatTarget string    `json:"chatTarget"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// JobStats summarizes the job definition collection.
type JobStats struct {
	Count    int64
	Earliest time.Time
	Latest   time.Time
}

// Execution is one persisted execution attempt. Empty payload/error strings
// are stored as NULL.
type Execution struct {
	ID              string        `json:"id"`
	JobName         string        `json:"jobName"`
	StartedAt       time.Time     `json:"startedAt"`
	Duration        time.Duration `json:"duration"`
	Status          Status        `json:"status"`
	RequestPayload  string        `json:"requestPayload,omitempty"`
	ResponsePayload string        `json:"responsePayload,omitempty"`
	ErrorDetail     string        `json:"errorDetail,omitempty"`
}

// ExecutionFilter selects execution records. Zero fields do not filter.
// Since is inclusive, Until is exclusive.
type ExecutionFilter struct {
	JobName   string
	Status    Status
	Since     time.Time
	Until     time.Time
	Ascending bool
	Limit     int
	Offset    int
	// After resumes the listing strictly past a record in the filter's
	// order. It is ignored by CountExecutions.
	After *Cursor
}

// Cursor identifies a position in an execution listing ordered by
// (started_at, id).
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// CursorOf returns the position of e.
func CursorOf(e Execution) *Cursor { return &Cursor{StartedAt: e.StartedAt, ID: e.ID} }

// past reports whether e lies strictly after c in the given direction.
func (c *Cursor) past(e Execution, ascending bool) bool {
	if c == nil {
		return true
	}
	if ascending {
		return e.StartedAt.After(c.StartedAt) || (e.StartedAt.Equal(c.StartedAt) && e.ID > c.ID)
	}
	return e.StartedAt.Before(c.StartedAt) || (e.StartedAt.Equal(c.StartedAt) && e.ID < c.ID)
}

func (f ExecutionFilter) Match(e Execution) bool {
	if f.JobName != "" && e.JobName != f.JobName {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && e.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.StartedAt.Before(f.Until) {
		return false
	}
	return true
}

// Store is the persistence API consumed by the recorder, the job catalog and
// the admin surface.
type Store interface {
	CreateJob(ctx context.Context, def *JobDefinition) error
	GetJob(ctx context.Context, name string) (JobDefinition, error)
	ListJobs(ctx context.Context, enabledOnly bool) ([]JobDefinition, error)
	UpdateJob(ctx context.Context, def JobDefinition) error
	DeleteJob(ctx context.Context, name string) error
	JobStats(ctx context.Context) (JobStats, error)

	AppendExecution(ctx context.Context, e Execution) error
	FindExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error)
	CountExecutions(ctx context.Context, f ExecutionFilter) (int64, error)
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
