// Package recorder persists one record per job execution and serves the
// execution history back to the stats job, the admin surface and the CLI.
package recorder

import (
	"context"
	"fmt"
	"iter"
	"time"

	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

// Record is one persisted execution.
type Record = storage.Execution

// Outcome is what a job reports back after running. Err nil means SUCCESS.
type Outcome struct {
	StartedAt       time.Time
	Duration        time.Duration
	RequestPayload  string
	ResponsePayload string
	Err             error
}

// Filter selects records for Query and Count. Zero fields do not filter.
type Filter struct {
	JobName   string
	Status    storage.Status
	Since     time.Time
	Until     time.Time
	Ascending bool
	Limit     int // 0 means unbounded
}

// PersistenceError wraps a store failure while writing a record.
type PersistenceError struct {
	JobName string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist execution of %q: %v", e.JobName, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

const defaultPageSize = 100

type Recorder struct {
	store    storage.Store
	log      logx.Logger
	pageSize int
}

func New(store storage.Store, log logx.Logger) *Recorder {
	return &Recorder{
		store:    store,
		log:      log.With(logx.String("comp", "recorder")),
		pageSize: defaultPageSize,
	}
}

// Record persists the outcome. Store failures are logged and swallowed so a
// broken database never turns a successful job into a failed one.
func (r *Recorder) Record(ctx context.Context, jobName string, out Outcome) {
	e := storage.Execution{
		JobName:         jobName,
		StartedAt:       out.StartedAt,
		Duration:        out.Duration,
		Status:          storage.StatusSuccess,
		RequestPayload:  out.RequestPayload,
		ResponsePayload: out.ResponsePayload,
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if out.Err != nil {
		e.Status = storage.StatusFailure
		e.ErrorDetail = out.Err.Error()
	}
	// The job's own context may already be cancelled; the write should still land.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.store.AppendExecution(wctx, e); err != nil {
		r.log.Error("execution record not saved", logx.Job(jobName), logx.Err(&PersistenceError{JobName: jobName, Err: err}))
		return
	}
	r.log.Debug("execution recorded", logx.Job(jobName), logx.String("status", string(e.Status)))
}

// Query returns matching records lazily, a page at a time. Each range over
// the returned sequence re-queries the store.
func (r *Recorder) Query(ctx context.Context, f Filter) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		sf := storage.ExecutionFilter{
			JobName:   f.JobName,
			Status:    f.Status,
			Since:     f.Since,
			Until:     f.Until,
			Ascending: f.Ascending,
		}
		remaining := f.Limit
		for {
			size := r.pageSize
			if f.Limit > 0 && remaining < size {
				size = remaining
			}
			if size <= 0 {
				return
			}
			sf.Limit = size
			page, err := r.store.FindExecutions(ctx, sf)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			sf.After = storage.CursorOf(page[len(page)-1])
			if f.Limit > 0 {
				remaining -= len(page)
			}
		}
	}
}

// Collect drains Query into a slice.
func (r *Recorder) Collect(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	for rec, err := range r.Query(ctx, f) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Recorder) Count(ctx context.Context, f Filter) (int64, error) {
	return r.store.CountExecutions(ctx, storage.ExecutionFilter{
		JobName: f.JobName,
		Status:  f.Status,
		Since:   f.Since,
		Until:   f.Until,
	})
}

// Purge deletes every record that started before olderThan.
func (r *Recorder) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := r.store.DeleteExecutionsBefore(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge executions: %w", err)
	}
	r.log.Info("executions purged", logx.Int64("removed", n), logx.Time("cutoff", olderThan))
	return n, nil
}
