// Package app wires configuration, storage, notifiers, the completion client,
// the scheduler and the admin server into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cronbot/internal/admin"
	"cronbot/internal/completion"
	"cronbot/internal/config"
	"cronbot/internal/eventbus"
	"cronbot/internal/jobs"
	"cronbot/internal/notify"
	"cronbot/internal/recorder"
	rtsup "cronbot/internal/runtime/supervisor"
	"cronbot/internal/scheduler"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	rec    *recorder.Recorder
	router *notify.Router
	tg     *notify.Telegram
	deps   jobs.Deps

	sched *scheduler.Service
	admin *admin.Server

	sup *rtsup.Supervisor
}

// New loads the config file at cfgPath and builds the app. The file is
// watched for changes once the app is started.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfg, cfgm)
}

// NewFromConfig builds the app from an already validated config. No file is
// watched.
func NewFromConfig(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return build(cfg, nil)
}

func build(cfg *config.Config, cfgm *config.Manager) (*App, error) {
	// The notifier sink is attached after the notifiers exist.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	store, err := OpenStore(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	closeOnErr := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	router, tg, err := buildNotifier(cfg, log)
	if err != nil {
		return closeOnErr(fmt.Errorf("notifier: %w", err))
	}
	logSvc.SetSender(router)

	rec := recorder.New(store, log)
	schedCfg, retention, err := mapSchedulerConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	deps := jobs.Deps{
		Store:     store,
		Recorder:  rec,
		Notifier:  router,
		Admins:    adminTargets(cfg.Telegram.AdminIDs),
		Retention: retention,
		Log:       log,
	}

	ccfg, err := mapCompletionConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	if strings.TrimSpace(ccfg.APIKey) == "" {
		appLog.Warn("completion api key not configured; prompt jobs will fail")
	} else {
		client, err := completion.New(ccfg, log)
		if err != nil {
			return closeOnErr(fmt.Errorf("completion client: %w", err))
		}
		deps.Client = client
	}

	bus := eventbus.New()
	catalog := &jobs.Catalog{Deps: deps, SkipBuiltins: !cfg.Scheduler.BuiltinsEnabled()}
	sched := scheduler.New(schedCfg, log, bus,
		scheduler.WithSource(catalog),
		scheduler.WithRecorder(rec),
	)

	a := &App{
		cfgm:   cfgm,
		cfg:    cfg,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		rec:    rec,
		router: router,
		tg:     tg,
		deps:   deps,
		sched:  sched,
	}
	if cfg.Admin.Enabled {
		var opts []admin.Option
		if tg != nil {
			opts = append(opts, admin.WithNotifierHealth(router.Health))
		}
		a.admin = admin.New(mapAdminConfig(cfg), sched, deps, log, opts...)
	}
	return a, nil
}

func (a *App) Log() logx.Logger              { return a.log }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Recorder() *recorder.Recorder  { return a.rec }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Notifier() notify.Notifier     { return a.router }
func (a *App) Config() *config.Config        { return a.cfg }
func (a *App) Completer() jobs.Completer     { return a.deps.Client }

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start starts the scheduler (when enabled), the admin server and the
// background loops. Jobs with invalid schedules are logged, not fatal.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if a.cfg.Scheduler.Enabled {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			a.log.Warn("scheduler started with errors", logx.Err(err))
		}
	} else {
		a.log.Info("scheduler disabled by config")
	}

	if a.admin != nil {
		if err := a.admin.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("admin server: %w", err)
		}
	}

	if a.cfg.Scheduler.AlertFailures && len(a.deps.Admins) > 0 {
		a.sup.Go0("alerts", func(c context.Context) {
			alertLoop(c, a.bus, a.router, a.deps.Admins, a.log)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	sdNotify(a.log, "READY=1")
	a.log.Info("app started",
		logx.Bool("scheduler", a.cfg.Scheduler.Enabled),
		logx.Bool("admin", a.admin != nil),
		logx.Bool("telegram", a.tg != nil),
		logx.Any("notifiers", a.router.Schemes()),
	)
	return nil
}

// reloadLoop applies logging changes live. Other sections are reported as
// needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						break drain
					}
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			changed, attrs := config.SummarizeChange(last, next)
			if len(changed) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			last = next
			a.logs.Apply(mapLogConfig(next))
			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			if rr := config.RestartRequired(changed); len(rr) > 0 {
				a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(rr, ",")))
			}
		}
	}
}

// RunJob registers the catalog without starting timers and runs one job
// synchronously. The outcome is recorded like a scheduled run.
func (a *App) RunJob(ctx context.Context, name string) error {
	specs, err := (&jobs.Catalog{Deps: a.deps}).Load(ctx)
	if err != nil {
		return err
	}
	for _, sp := range specs {
		if sp.Name != name {
			continue
		}
		if err := a.sched.Replace(sp); err != nil {
			return err
		}
		return a.sched.RunNow(ctx, name)
	}
	return fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
}

// Stop shuts the app down in dependency order. Each step is bounded so one
// component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("admin", 2*time.Second, func(c context.Context) error {
		if a.admin == nil {
			return nil
		}
		return a.admin.Stop(c)
	})
	step("scheduler", 10*time.Second, a.sched.Shutdown)
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Wait(c)
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
