package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cronbot/internal/jobs"
	logx "cronbot/pkg/logx"
)

// Add registers spec and, if the scheduler is running and spec is enabled,
// activates it immediately. The registry is unchanged on error.
func (s *Service) Add(spec jobs.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registerLocked(spec); err != nil {
		return err
	}
	e := s.byKey[spec.Name]
	s.activateLocked(e)
	s.log.Info("job added", logx.Job(spec.Name), logx.String("schedule", spec.Schedule), logx.Bool("enabled", spec.Enabled))
	return nil
}

// Replace swaps the registered job of the same name for spec, or adds it.
// An invalid spec leaves the existing job in place.
func (s *Service) Replace(spec jobs.Spec) error {
	if _, err := ParseSchedule(spec.Schedule); err != nil {
		var ie *InvalidScheduleError
		if errors.As(err, &ie) {
			ie.Name = spec.Name
		}
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(spec.Name)
	if err := s.registerLocked(spec); err != nil {
		return err
	}
	s.activateLocked(s.byKey[spec.Name])
	s.log.Info("job replaced", logx.Job(spec.Name), logx.String("schedule", spec.Schedule), logx.Bool("enabled", spec.Enabled))
	return nil
}

// Remove cancels the job's timer and deregisters it. It reports whether the
// job was registered.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(name)
	if ok {
		s.log.Info("job removed", logx.Job(name))
	}
	return ok
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.byKey[name]
	if !ok {
		return false
	}
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	e.entryID = 0
	delete(s.byKey, name)
	for i, x := range s.order {
		if x == e {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns registered job names in registration order.
func (s *Service) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, e := range s.order {
		out = append(out, e.job.Name)
	}
	return out
}

func (s *Service) lookup(name string) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[name]
	if !ok {
		return jobs.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return e.job, nil
}

// Trigger runs the job once outside its schedule without waiting for it.
func (s *Service) Trigger(ctx context.Context, name string) error {
	job, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.dispatch(job, triggerManual)
	return nil
}

// RunNow runs the job once in the caller's goroutine and returns its error.
func (s *Service) RunNow(ctx context.Context, name string) error {
	job, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.execute(ctx, job, triggerManual)
}

type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Enabled  bool      `json:"enabled"`
	Origin   string    `json:"origin,omitempty"`
	Active   bool      `json:"active"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
	InFlight int64     `json:"inFlight"`
}

type Snapshot struct {
	Running  bool      `json:"running"`
	Timezone string    `json:"timezone"`
	Jobs     []JobInfo `json:"jobs"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.c != nil, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	snap.Jobs = make([]JobInfo, 0, len(s.order))
	for _, e := range s.order {
		it := JobInfo{
			Name:     e.job.Name,
			Schedule: e.job.Schedule,
			Enabled:  e.job.Enabled,
			Origin:   e.job.Origin,
			Active:   e.entryID != 0,
		}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	s.mu.Unlock()

	for i := range snap.Jobs {
		snap.Jobs[i].InFlight = s.sup.Active(goName(snap.Jobs[i].Name))
	}
	return snap
}
