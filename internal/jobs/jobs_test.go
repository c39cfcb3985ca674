package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cronbot/internal/completion"
	"cronbot/internal/recorder"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

type fakeCompleter struct {
	resp *completion.Response
	err  error
}

func (f *fakeCompleter) Chat(context.Context, string) (*completion.Response, error) {
	return f.resp, f.err
}

type inbox struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]error
}

func newInbox() *inbox { return &inbox{sent: map[string][]string{}, fail: map[string]error{}} }

func (b *inbox) SendMessage(_ context.Context, target, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[target]; err != nil {
		return err
	}
	b.sent[target] = append(b.sent[target], text)
	return nil
}

func newRecorder(t *testing.T) (*recorder.Recorder, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	return recorder.New(st, logx.Nop()), st
}

func records(t *testing.T, rec *recorder.Recorder, name string) []recorder.Record {
	t.Helper()
	out, err := rec.Collect(context.Background(), recorder.Filter{JobName: name})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestJobRunRecordsThenPropagates(t *testing.T) {
	t.Parallel()
	rec, _ := newRecorder(t)
	boom := errors.New("boom")

	tests := []struct {
		name       string
		runner     Runnable
		wantErr    bool
		wantStatus storage.Status
		wantResp   string
	}{
		{"success", Func(func(context.Context) (Outcome, error) {
			return Outcome{RequestPayload: "req", ResponsePayload: "resp"}, nil
		}), false, storage.StatusSuccess, "resp"},
		{"failure", Func(func(context.Context) (Outcome, error) {
			return Outcome{RequestPayload: "req"}, boom
		}), true, storage.StatusFailure, ""},
		{"panic", Func(func(context.Context) (Outcome, error) {
			panic("kaboom")
		}), true, storage.StatusFailure, ""},
		{"nil runner", nil, true, storage.StatusFailure, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := Bind(Spec{Name: "t-" + tt.name, Schedule: "* * * * *", Runner: tt.runner}, rec, logx.Nop())
			err := j.Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			got := records(t, rec, j.Name)
			if len(got) != 1 {
				t.Fatalf("records = %d, want exactly 1", len(got))
			}
			if got[0].Status != tt.wantStatus || got[0].ResponsePayload != tt.wantResp {
				t.Fatalf("record = %+v", got[0])
			}
			if tt.wantErr && got[0].ErrorDetail == "" {
				t.Fatal("failure record has no error detail")
			}
		})
	}
}

func TestJobRunPanicIsPanicError(t *testing.T) {
	t.Parallel()
	j := Bind(Spec{Name: "p", Runner: Func(func(context.Context) (Outcome, error) { panic(42) })}, nil, logx.Nop())
	var pe *PanicError
	if err := j.Run(context.Background()); !errors.As(err, &pe) || pe.Value != 42 {
		t.Fatalf("want *PanicError(42), got %v", err)
	}
}

func TestCompletionJobDelivers(t *testing.T) {
	t.Parallel()
	box := newInbox()
	j := &CompletionJob{
		Prompt:     "summarize",
		ChatTarget: "42",
		Client:     &fakeCompleter{resp: &completion.Response{Content: "done", RequestPayload: `{"p":1}`, ResponsePayload: `{"r":1}`}},
		Notifier:   box,
	}
	out, err := j.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.RequestPayload != `{"p":1}` || out.ResponsePayload != `{"r":1}` {
		t.Fatalf("outcome = %+v", out)
	}
	if len(box.sent["42"]) != 1 || box.sent["42"][0] != "done" {
		t.Fatalf("sent = %v", box.sent)
	}

	box.fail["42"] = errors.New("chat not found")
	if _, err := j.Run(context.Background()); err == nil {
		t.Fatal("delivery failure should fail the job")
	}

	j.Client = &fakeCompleter{err: &completion.ClientError{Kind: completion.Terminal, Attempts: 1}}
	if _, err := j.Run(context.Background()); !completion.IsTerminal(err) {
		t.Fatalf("want terminal client error, got %v", err)
	}
}

func TestStatsJob(t *testing.T) {
	t.Parallel()
	rec, st := newRecorder(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_ = st.CreateJob(ctx, &storage.JobDefinition{Name: "a", Schedule: "* * * * *", CreatedAt: now.Add(-48 * time.Hour)})
	_ = st.CreateJob(ctx, &storage.JobDefinition{Name: "b", Schedule: "* * * * *", CreatedAt: now.Add(-time.Hour)})
	rec.Record(ctx, "a", recorder.Outcome{StartedAt: now.Add(-time.Hour)})
	rec.Record(ctx, "a", recorder.Outcome{StartedAt: now.Add(-2 * time.Hour), Err: errors.New("x")})
	rec.Record(ctx, "a", recorder.Outcome{StartedAt: now.Add(-72 * time.Hour)})

	box := newInbox()
	box.fail["2"] = errors.New("blocked")
	j := &StatsJob{Store: st, Recorder: rec, Notifier: box, Admins: []string{"1", "2"}, Log: logx.Nop(), Now: func() time.Time { return now }}
	out, err := j.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	msg := box.sent["1"]
	if len(msg) != 1 {
		t.Fatalf("admin 1 got %d messages", len(msg))
	}
	for _, want := range []string{"job definitions: 2", "2025-05-30", "1 ok, 1 failed"} {
		if !strings.Contains(msg[0], want) {
			t.Fatalf("message missing %q:\n%s", want, msg[0])
		}
	}
	if !strings.Contains(out.ResponsePayload, `"delivered":1`) {
		t.Fatalf("payload = %s", out.ResponsePayload)
	}
}

func TestCleanupJobPurgesOldRecords(t *testing.T) {
	t.Parallel()
	rec, _ := newRecorder(t)
	ctx := context.Background()
	now := time.Now()
	rec.Record(ctx, "x", recorder.Outcome{StartedAt: now.Add(-31 * 24 * time.Hour)})
	rec.Record(ctx, "x", recorder.Outcome{StartedAt: now.Add(-29 * 24 * time.Hour)})

	j := &CleanupJob{Recorder: rec, Now: func() time.Time { return now }}
	out, err := j.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.ResponsePayload, `"removed":1`) {
		t.Fatalf("payload = %s", out.ResponsePayload)
	}
	if n := len(records(t, rec, "x")); n != 1 {
		t.Fatalf("left %d records", n)
	}
}

type sickStore struct{ *storage.Memory }

func (sickStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthJob(t *testing.T) {
	t.Parallel()
	ok := &HealthJob{Store: storage.NewMemory(), Notifier: newInbox()}
	out, err := ok.Run(context.Background())
	if err != nil || !strings.Contains(out.ResponsePayload, `"database":"ok"`) {
		t.Fatalf("healthy run: %v %s", err, out.ResponsePayload)
	}

	bad := &HealthJob{Store: sickStore{storage.NewMemory()}}
	out, err = bad.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Fatalf("want database error, got %v", err)
	}
	if !strings.Contains(out.ResponsePayload, "connection refused") {
		t.Fatalf("payload = %s", out.ResponsePayload)
	}
}

func TestCatalogLoad(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()
	base := time.Now()
	_ = st.CreateJob(ctx, &storage.JobDefinition{Name: "first", Schedule: "0 9 * * *", Enabled: true, CreatedAt: base.Add(-2 * time.Hour)})
	_ = st.CreateJob(ctx, &storage.JobDefinition{Name: "off", Schedule: "0 9 * * *", Enabled: false, CreatedAt: base.Add(-time.Hour)})
	_ = st.CreateJob(ctx, &storage.JobDefinition{Name: "second", Schedule: "0 9 * * *", Enabled: true, CreatedAt: base})

	c := &Catalog{Deps: Deps{Store: st, Recorder: recorder.New(st, logx.Nop())}}
	specs, err := c.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}
	want := DailyStats + "," + Cleanup + "," + HealthCheck + ",first,second"
	if strings.Join(names, ",") != want {
		t.Fatalf("names = %v", names)
	}
	if _, ok := specs[3].Runner.(*CompletionJob); !ok || specs[3].Origin != OriginStored {
		t.Fatalf("stored job not mapped to CompletionJob: %+v", specs[3])
	}
}
