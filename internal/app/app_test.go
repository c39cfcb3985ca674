package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"cronbot/internal/config"
	"cronbot/internal/eventbus"
	"cronbot/internal/jobs"
	"cronbot/internal/recorder"
	"cronbot/internal/scheduler"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Logging:   config.LoggingConfig{Level: "error"},
		Scheduler: config.SchedulerConfig{Enabled: true, Timezone: "UTC"},
		Storage:   config.StorageConfig{Driver: "memory"},
	}
}

func stop(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartRegistersBuiltins(t *testing.T) {
	a, err := NewFromConfig(memoryConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop(t, a)

	if !a.Scheduler().Running() {
		t.Fatal("scheduler not running")
	}
	got := a.Scheduler().List()
	for _, name := range []string{jobs.DailyStats, jobs.Cleanup, jobs.HealthCheck} {
		if !slices.Contains(got, name) {
			t.Fatalf("builtin %s missing from %v", name, got)
		}
	}
	if a.Completer() != nil {
		t.Fatal("completion client built without api key")
	}
}

func TestStartSkipsBuiltinsAndLoadsStored(t *testing.T) {
	cfg := memoryConfig()
	off := false
	cfg.Scheduler.Builtins = &off
	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	def := storage.JobDefinition{Name: "digest", Schedule: "0 9 * * 1", Prompt: "weekly digest", ChatTarget: "1", Enabled: true}
	if err := a.Store().CreateJob(context.Background(), &def); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop(t, a)

	if got := a.Scheduler().List(); !slices.Equal(got, []string{"digest"}) {
		t.Fatalf("jobs=%v, want [digest]", got)
	}
}

func TestRunJobRecordsOutcome(t *testing.T) {
	a, err := NewFromConfig(memoryConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer stop(t, a)
	ctx := context.Background()

	if err := a.RunJob(ctx, jobs.Cleanup); err != nil {
		t.Fatalf("run cleanup: %v", err)
	}
	recs, err := a.Recorder().Collect(ctx, recorder.Filter{JobName: jobs.Cleanup})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != storage.StatusSuccess {
		t.Fatalf("records=%+v", recs)
	}

	if err := a.RunJob(ctx, "ghost"); !errors.Is(err, scheduler.ErrJobNotFound) {
		t.Fatalf("err=%v, want ErrJobNotFound", err)
	}
}

func TestNewFromConfigRejectsInvalid(t *testing.T) {
	t.Parallel()
	cfg := memoryConfig()
	cfg.Admin.Enabled = true
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatal("expected error for admin without secret")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		dsn     string
		wantErr bool
	}{
		{"default sqlite", config.StorageConfig{}, "sqlite", "./data/cronbot.db", false},
		{"postgres", config.StorageConfig{Driver: "postgres", DSN: "postgres://x"}, "postgres", "postgres://x", false},
		{"postgres without dsn", config.StorageConfig{Driver: "postgres"}, "", "", true},
		{"memory", config.StorageConfig{Driver: "memory"}, "memory", "", false},
		{"unknown", config.StorageConfig{Driver: "mongo"}, "", "", true},
		{"bad busy timeout", config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
			if err == nil && (sc.Driver != tt.driver || sc.DSN != tt.dsn) {
				t.Fatalf("got %+v", sc)
			}
		})
	}
}

func TestMapCompletionConfigRetries(t *testing.T) {
	t.Parallel()
	zero := 0
	c, err := mapCompletionConfig(&config.Config{Completion: config.CompletionConfig{MaxRetries: &zero, Timeout: "5s"}})
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxRetries != 0 || c.Timeout != 5*time.Second {
		t.Fatalf("got %+v", c)
	}
	c, _ = mapCompletionConfig(&config.Config{})
	if c.MaxRetries != 3 {
		t.Fatalf("default retries=%d, want 3", c.MaxRetries)
	}
}

func TestMapLogConfigFallsBackToAdmin(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Telegram: config.TelegramConfig{AdminIDs: []int64{42, 7}}}
	cfg.Logging.Notify.Enabled = true
	if got := mapLogConfig(cfg).Notify.Target; got != "telegram:42" {
		t.Fatalf("target=%q", got)
	}
}

type captureNotifier struct {
	mu   sync.Mutex
	sent map[string]string
}

func (c *captureNotifier) SendMessage(_ context.Context, target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[target] = text
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestAlertLoopForwardsFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	n := &captureNotifier{sent: map[string]string{}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		alertLoop(ctx, bus, n, []string{"telegram:1", "telegram:2"}, logx.Nop())
	}()

	// Subscription happens inside the goroutine; publish until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for n.count() < 2 && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Data: eventbus.JobEvent{Name: "ok"}})
		bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: eventbus.JobEvent{Name: "daily", Trigger: "tick", Error: "boom"}})
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	if n.count() != 2 {
		t.Fatalf("sent=%v", n.sent)
	}
	for target, text := range n.sent {
		if !strings.Contains(text, "Job daily failed") || !strings.Contains(text, "boom") {
			t.Fatalf("%s got %q", target, text)
		}
	}
}
