// Package admin serves the HTTP administrative surface: scheduler control,
// CRUD over stored prompt jobs and a health endpoint.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"cronbot/internal/jobs"
	"cronbot/internal/recorder"
	rtsup "cronbot/internal/runtime/supervisor"
	"cronbot/internal/scheduler"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

type Config struct {
	Addr         string
	CronSecret   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pprof        bool // mount /debug/pprof/
}

// Scheduler is the part of scheduler.Service the admin surface drives.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Trigger(ctx context.Context, name string) error
	Add(spec jobs.Spec) error
	Replace(spec jobs.Spec) error
	Remove(name string) bool
	List() []string
	Running() bool
	Snapshot() scheduler.Snapshot
}

// HealthFunc probes an external dependency.
type HealthFunc func(ctx context.Context) error

type Server struct {
	cfg   Config
	log   logx.Logger
	sched Scheduler
	store storage.Store
	rec   *recorder.Recorder
	deps  jobs.Deps

	notifierHealth HealthFunc
	started        time.Time

	mu  sync.Mutex
	srv *http.Server
	sup *rtsup.Supervisor
}

type Option func(*Server)

// WithNotifierHealth adds a notifier probe to /health.
func WithNotifierHealth(fn HealthFunc) Option { return func(s *Server) { s.notifierHealth = fn } }

// New builds the server. deps is used to turn stored definitions into
// runnable jobs when they are created or updated.
func New(cfg Config, sched Scheduler, deps jobs.Deps, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "admin")),
		sched:   sched,
		store:   deps.Store,
		rec:     deps.Recorder,
		deps:    deps,
		started: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.CronSecret, h) }

	mux.HandleFunc("GET /cron", auth(s.cronStatus))
	mux.HandleFunc("POST /cron", auth(s.cronAction))
	mux.HandleFunc("GET /cron-jobs", auth(s.listDefinitions))
	mux.HandleFunc("POST /cron-jobs", auth(s.createDefinition))
	mux.HandleFunc("PUT /cron-jobs", auth(s.updateDefinition))
	mux.HandleFunc("DELETE /cron-jobs", auth(s.deleteDefinition))
	mux.HandleFunc("GET /health", s.health)
	if s.cfg.Pprof {
		s.mountPprof(mux, auth)
	}
	return s.recoverer(mux)
}

// Start binds the listener and serves in the background. Listen errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.srv = srv
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Go("admin.http", func(context.Context) error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	s.log.Info("admin server started", logx.String("addr", ln.Addr().String()), logx.Bool("loopback", isLoopbackAddr(addr)))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("admin server stopped")
	return err
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("admin handler panicked", logx.String("path", r.URL.Path), logx.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(h) == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
