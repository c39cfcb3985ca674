// Package jobs defines the closed set of job actions and the record-then-
// propagate wrapper the scheduler runs on every tick.
package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"cronbot/internal/recorder"
	logx "cronbot/pkg/logx"
)

// Outcome is what an action hands back for the execution record.
type Outcome struct {
	RequestPayload  string
	ResponsePayload string
}

// Runnable is the capability every job type implements.
type Runnable interface {
	Run(ctx context.Context) (Outcome, error)
}

// Spec describes a registered job.
type Spec struct {
	Name     string
	Schedule string
	Runner   Runnable
	Enabled  bool
	// Origin is "builtin" or "stored".
	Origin string
}

const (
	OriginBuiltin = "builtin"
	OriginStored  = "stored"
)

// Recorder receives one outcome per execution.
type Recorder interface {
	Record(ctx context.Context, jobName string, out recorder.Outcome)
}

// PanicError is returned by Job.Run when the action panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("job panicked: %v", e.Value) }

// Job binds a Spec to a Recorder.
type Job struct {
	Spec
	rec Recorder
	log logx.Logger
	now func() time.Time
}

func Bind(spec Spec, rec Recorder, log logx.Logger) Job {
	return Job{Spec: spec, rec: rec, log: log, now: time.Now}
}

// Run executes the action once and records exactly one outcome. On failure
// the error is recorded and then returned; a panic is recorded and returned
// as *PanicError.
func (j Job) Run(ctx context.Context) (err error) {
	now := j.now
	if now == nil {
		now = time.Now
	}
	started := now()
	var out Outcome
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: string(debug.Stack())}
			j.log.Error("job panicked", logx.Job(j.Name), logx.Any("panic", r), logx.String("stack", pe.Stack))
			err = pe
		}
		if j.rec != nil {
			j.rec.Record(ctx, j.Name, recorder.Outcome{
				StartedAt:       started,
				Duration:        now().Sub(started),
				RequestPayload:  out.RequestPayload,
				ResponsePayload: out.ResponsePayload,
				Err:             err,
			})
		}
	}()
	if j.Runner == nil {
		return fmt.Errorf("job %q has no action", j.Name)
	}
	out, err = j.Runner.Run(ctx)
	return err
}

// Func adapts a function to Runnable. It is meant for tests and one-off
// administrative jobs.
type Func func(ctx context.Context) (Outcome, error)

func (f Func) Run(ctx context.Context) (Outcome, error) { return f(ctx) }
