package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []string
}

func (c *captureSender) SendMessage(ctx context.Context, target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, target)
	c.sent = append(c.sent, text)
	return nil
}

func (c *captureSender) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.to...), append([]string(nil), c.sent...)
}

func TestRenderLine(t *testing.T) {
	t.Parallel()
	got := renderLine([]byte(`{"level":"warn","job":"daily-stats","time":"x","message":"job failed"}`))
	if !strings.HasPrefix(got, "[WARN] job failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "- job=daily-stats") {
		t.Fatalf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be skipped: %q", got)
	}

	raw := renderLine([]byte("  not json \n"))
	if raw != "not json" {
		t.Fatalf("raw line = %q", raw)
	}
}

func TestNotifySinkForwardsWarnings(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{
		Level:  "debug",
		Notify: NotifyConfig{Enabled: true, Target: "ops", MinLevel: "warn", RatePerSec: 50},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("routine")
	log.Warn("job failed", Job("health-check"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, sent := sender.snapshot(); len(sent) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	to, sent := sender.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected 1 forwarded line, got %d: %v", len(sent), sent)
	}
	if to[0] != "ops" {
		t.Fatalf("target = %q", to[0])
	}
	if !strings.Contains(sent[0], "job=health-check") {
		t.Fatalf("unexpected message: %q", sent[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored")
	l.With(String("k", "v")).Error("ignored")
}
