package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

type failingStore struct {
	*storage.Memory
	appendErr error
}

func (f *failingStore) AppendExecution(context.Context, storage.Execution) error {
	return f.appendErr
}

func TestRecordSuccessAndFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := New(storage.NewMemory(), logx.Nop())

	rec.Record(ctx, "ok", Outcome{RequestPayload: `{"q":1}`, ResponsePayload: `{"a":2}`})
	rec.Record(ctx, "bad", Outcome{Err: errors.New("upstream 500")})

	got, err := rec.Collect(ctx, Filter{JobName: "ok"})
	if err != nil || len(got) != 1 {
		t.Fatalf("collect ok: %v (%d)", err, len(got))
	}
	if got[0].Status != storage.StatusSuccess || got[0].RequestPayload != `{"q":1}` || got[0].ErrorDetail != "" {
		t.Fatalf("unexpected success record: %+v", got[0])
	}

	got, _ = rec.Collect(ctx, Filter{JobName: "bad"})
	if len(got) != 1 || got[0].Status != storage.StatusFailure || got[0].ErrorDetail != "upstream 500" {
		t.Fatalf("unexpected failure record: %+v", got)
	}
	if got[0].ResponsePayload != "" {
		t.Fatalf("failure should carry no response payload")
	}
}

func TestRecordSwallowsStoreErrors(t *testing.T) {
	t.Parallel()
	st := &failingStore{Memory: storage.NewMemory(), appendErr: errors.New("disk full")}
	rec := New(st, logx.Nop())
	// Must not panic or block.
	rec.Record(context.Background(), "x", Outcome{})
	if n, _ := rec.Count(context.Background(), Filter{}); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := New(storage.NewMemory(), logx.Nop())
	rec.Record(ctx, "late", Outcome{})
	if n, _ := rec.Count(context.Background(), Filter{JobName: "late"}); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestQueryPagesLazilyAndRestarts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := New(storage.NewMemory(), logx.Nop())
	rec.pageSize = 2

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec.Record(ctx, "j", Outcome{StartedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	seq := rec.Query(ctx, Filter{JobName: "j"})
	for pass := 0; pass < 2; pass++ {
		var times []time.Time
		for r, err := range seq {
			if err != nil {
				t.Fatal(err)
			}
			times = append(times, r.StartedAt)
		}
		if len(times) != 5 {
			t.Fatalf("pass %d: got %d records", pass, len(times))
		}
		for i := 1; i < len(times); i++ {
			if !times[i].Before(times[i-1]) {
				t.Fatalf("pass %d: not descending at %d", pass, i)
			}
		}
	}

	var n int
	for range rec.Query(ctx, Filter{Limit: 3, Ascending: true}) {
		n++
	}
	if n != 3 {
		t.Fatalf("limit 3 yielded %d", n)
	}

	n = 0
	for range seq {
		n++
		if n == 1 {
			break
		}
	}
	if n != 1 {
		t.Fatalf("early break yielded %d", n)
	}
}

func TestQueryStableUnderConcurrentAppends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := New(storage.NewMemory(), logx.Nop())
	rec.pageSize = 2

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec.Record(ctx, "j", Outcome{StartedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	seen := map[string]bool{}
	n := 0
	for r, err := range rec.Query(ctx, Filter{JobName: "j"}) {
		if err != nil {
			t.Fatal(err)
		}
		if seen[r.ID] {
			t.Fatalf("record %s yielded twice", r.ID)
		}
		seen[r.ID] = true
		n++
		// A newer record lands in front of the listing mid-iteration.
		rec.Record(ctx, "j", Outcome{StartedAt: base.Add(time.Duration(10+n) * time.Hour)})
	}
	if n != 5 {
		t.Fatalf("yielded %d records, want 5", n)
	}
}

func TestPurgeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := New(storage.NewMemory(), logx.Nop())
	now := time.Now()
	rec.Record(ctx, "j", Outcome{StartedAt: now.Add(-45 * 24 * time.Hour)})
	rec.Record(ctx, "j", Outcome{StartedAt: now.Add(-time.Hour)})

	cutoff := now.Add(-30 * 24 * time.Hour)
	if n, err := rec.Purge(ctx, cutoff); err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if n, err := rec.Purge(ctx, cutoff); err != nil || n != 0 {
		t.Fatalf("second purge = %d, %v", n, err)
	}
	for r, err := range rec.Query(ctx, Filter{}) {
		if err != nil {
			t.Fatal(err)
		}
		if r.StartedAt.Before(cutoff) {
			t.Fatalf("record older than cutoff survived: %v", r.StartedAt)
		}
	}
}
