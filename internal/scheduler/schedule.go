package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	ErrJobNotFound = errors.New("scheduler: job not found")
	ErrNameEmpty   = errors.New("scheduler: job name required")
)

// InvalidScheduleError reports a cron expression that failed validation.
type InvalidScheduleError struct {
	Name   string
	Expr   string
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid schedule %q: %s", e.Expr, e.Reason)
	}
	return fmt.Sprintf("job %q: invalid schedule %q: %s", e.Name, e.Expr, e.Reason)
}

// DuplicateJobError is returned by Add when the name is already registered.
type DuplicateJobError struct{ Name string }

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job %q already registered", e.Name)
}

type field struct {
	name     string
	min, max int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks expr against the supported grammar: five
// space-separated fields, each "*", a literal in range, or "*/N" with N >= 1.
func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// ParseSchedule validates expr and returns the robfig schedule for it.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(fields) {
		return nil, &InvalidScheduleError{Expr: expr, Reason: fmt.Sprintf("expected 5 fields, got %d", len(parts))}
	}
	for i, p := range parts {
		if err := checkField(fields[i], p); err != nil {
			return nil, &InvalidScheduleError{Expr: expr, Reason: err.Error()}
		}
	}
	sched, err := parser.Parse(strings.Join(parts, " "))
	if err != nil {
		return nil, &InvalidScheduleError{Expr: expr, Reason: err.Error()}
	}
	return sched, nil
}

func checkField(f field, v string) error {
	if v == "*" {
		return nil
	}
	if step, ok := strings.CutPrefix(v, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n < 1 {
			return fmt.Errorf("%s: step %q must be a positive integer", f.name, step)
		}
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not '*', a number or '*/N'", f.name, v)
	}
	if n < f.min || n > f.max {
		return fmt.Errorf("%s: %d out of range %d-%d", f.name, n, f.min, f.max)
	}
	return nil
}
