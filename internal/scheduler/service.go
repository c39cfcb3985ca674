package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cronbot/internal/eventbus"
	"cronbot/internal/jobs"
	rtsup "cronbot/internal/runtime/supervisor"
	logx "cronbot/pkg/logx"
)

type Config struct {
	Timezone    string        // IANA name; empty means local time
	TickTimeout time.Duration // 0 means ticks run until they return
}

// Source supplies the jobs registered on every Start.
type Source interface {
	Load(ctx context.Context) ([]jobs.Spec, error)
}

type Option func(*Service)

func WithSource(src Source) Option { return func(s *Service) { s.source = src } }

func WithRecorder(rec jobs.Recorder) Option { return func(s *Service) { s.rec = rec } }

type entry struct {
	job     jobs.Job
	sched   cron.Schedule
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	source Source
	rec    jobs.Recorder

	c   *cron.Cron
	loc *time.Location

	order []*entry
	byKey map[string]*entry

	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	s := &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		byKey: map[string]*entry{},
	}
	for _, o := range opts {
		o(s)
	}
	// Tick goroutines outlive Stop; only Shutdown cancels them.
	s.sup = rtsup.New(context.Background(), rtsup.WithLogger(log))
	return s
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Start loads jobs from the Source and activates every enabled job that is
// not yet scheduled. Jobs with malformed schedules are logged and skipped;
// their errors are joined into the returned error. Calling Start while
// running only logs a warning.
func (s *Service) Start(ctx context.Context) error {
	if s.Running() {
		s.log.Warn("start requested but scheduler is already running")
		return nil
	}

	var errs []error
	var loaded []jobs.Spec
	if s.source != nil {
		specs, err := s.source.Load(ctx)
		if err != nil {
			s.log.Error("job source failed", logx.Err(err))
			errs = append(errs, err)
		}
		loaded = specs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.log.Warn("start requested but scheduler is already running")
		return nil
	}

	// A name already registered keeps its first job; the collision is
	// reported as a DuplicateJobError.
	for _, spec := range loaded {
		if err := s.registerLocked(spec); err != nil {
			s.log.Error("job not registered", logx.Job(spec.Name), logx.String("schedule", spec.Schedule), logx.Err(err))
			errs = append(errs, err)
		}
	}

	s.loc = s.loadLocationLocked()
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	active := 0
	for _, e := range s.order {
		if s.activateLocked(e) {
			active++
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.order)), logx.Int("active", active))
	return errors.Join(errs...)
}

// Stop cancels every timer and clears the registry. In-flight runs continue.
// It always completes; a done ctx only shortens the wait for cron's
// dispatcher.
func (s *Service) Stop(ctx context.Context) error {
	started := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	n := len(s.order)
	if c != nil {
		for _, e := range s.order {
			if e.entryID != 0 {
				c.Remove(e.entryID)
				e.entryID = 0
			}
		}
	}
	s.order = nil
	s.byKey = map[string]*entry{}
	s.mu.Unlock()

	if c == nil {
		s.log.Debug("stop requested but scheduler is not running")
		return nil
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop wait cut short", logx.Err(ctx.Err()))
	}
	s.log.Info("scheduler stopped", logx.Int("jobs", n), logx.Duration("took", time.Since(started)))
	return nil
}

// Restart stops and starts the scheduler, reloading jobs from the Source.
func (s *Service) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Wait blocks until every in-flight run has returned or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	return s.sup.Wait(ctx)
}

// Shutdown stops the scheduler, waits for in-flight runs until ctx is done
// and then cancels the rest.
func (s *Service) Shutdown(ctx context.Context) error {
	_ = s.Stop(ctx)
	err := s.sup.Wait(ctx)
	if err != nil {
		s.log.Warn("in-flight jobs still running at shutdown; cancelling", logx.Err(err))
		s.sup.Cancel()
	}
	return err
}

func (s *Service) registerLocked(spec jobs.Spec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return ErrNameEmpty
	}
	sched, err := ParseSchedule(spec.Schedule)
	if err != nil {
		var ie *InvalidScheduleError
		if errors.As(err, &ie) {
			ie.Name = spec.Name
		}
		return err
	}
	if _, exists := s.byKey[spec.Name]; exists {
		return &DuplicateJobError{Name: spec.Name}
	}
	e := &entry{job: jobs.Bind(spec, s.rec, s.log), sched: sched}
	s.order = append(s.order, e)
	s.byKey[spec.Name] = e
	return nil
}

// activateLocked creates the timer for e if the scheduler runs and e is an
// enabled job without one.
func (s *Service) activateLocked(e *entry) bool {
	if s.c == nil || e.entryID != 0 || !e.job.Enabled {
		return false
	}
	e.entryID = s.c.Schedule(e.sched, &tickJob{s: s, e: e})
	s.log.Debug("job scheduled", logx.Job(e.job.Name), logx.String("schedule", e.job.Schedule), logx.Time("next", e.sched.Next(time.Now().In(s.loc))))
	return true
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// tickJob is what cron fires. It checks that its entry is still live so a
// dispatch racing Stop or Remove is dropped.
type tickJob struct {
	s *Service
	e *entry
}

func (t *tickJob) Run() {
	s := t.s
	s.mu.Lock()
	live := s.c != nil && s.byKey[t.e.job.Name] == t.e && t.e.entryID != 0
	s.mu.Unlock()
	if !live {
		return
	}
	s.dispatch(t.e.job, triggerTick)
}

const (
	triggerTick   = "tick"
	triggerManual = "manual"
)

func goName(job string) string { return "job:" + job }

// dispatch runs job in its own supervised goroutine.
func (s *Service) dispatch(job jobs.Job, trigger string) {
	s.sup.Go(goName(job.Name), func(ctx context.Context) error {
		_ = s.execute(ctx, job, trigger)
		return nil
	})
}

// execute runs job once, logs and publishes the result. The error is only
// returned to synchronous callers.
func (s *Service) execute(ctx context.Context, job jobs.Job, trigger string) error {
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}
	started := time.Now()
	s.log.Info("executing job", logx.Job(job.Name), logx.String("trigger", trigger))
	s.publish(eventbus.JobStarted, eventbus.JobEvent{Name: job.Name, Trigger: trigger, Started: started})

	err := job.Run(ctx)
	took := time.Since(started)
	ev := eventbus.JobEvent{Name: job.Name, Trigger: trigger, Started: started, Duration: took}
	if err != nil {
		ev.Error = err.Error()
		s.log.Error("job failed", logx.Job(job.Name), logx.String("trigger", trigger), logx.Duration("took", took), logx.Err(err))
		s.publish(eventbus.JobFailed, ev)
		return err
	}
	s.log.Info("job completed", logx.Job(job.Name), logx.String("trigger", trigger), logx.Duration("took", took))
	s.publish(eventbus.JobFinished, ev)
	return nil
}

func (s *Service) publish(typ string, ev eventbus.JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
