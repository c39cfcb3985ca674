package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Store. Contents are lost on exit.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]JobDefinition
	execs  []Execution
	closed bool
}

func NewMemory() *Memory {
	return &Memory{jobs: map[string]JobDefinition{}}
}

func (m *Memory) CreateJob(ctx context.Context, def *JobDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.jobs[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, def.Name)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}
	def.UpdatedAt = def.CreatedAt
	m.jobs[def.Name] = *def
	return nil
}

func (m *Memory) GetJob(ctx context.Context, name string) (JobDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.jobs[name]
	if !ok {
		return JobDefinition{}, fmt.Errorf("%w: job %s", ErrNotFound, name)
	}
	return d, nil
}

func (m *Memory) ListJobs(ctx context.Context, enabledOnly bool) ([]JobDefinition, error) {
	m.mu.Lock()
	out := make([]JobDefinition, 0, len(m.jobs))
	for _, d := range m.jobs {
		if enabledOnly && !d.Enabled {
			continue
		}
		out = append(out, d)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateJob(ctx context.Context, def JobDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[def.Name]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, def.Name)
	}
	cur.Schedule = def.Schedule
	cur.Prompt = def.Prompt
	cur.ChatTarget = def.ChatTarget
	cur.Enabled = def.Enabled
	cur.UpdatedAt = time.Now()
	m.jobs[def.Name] = cur
	return nil
}

func (m *Memory) DeleteJob(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[name]; !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, name)
	}
	delete(m.jobs, name)
	return nil
}

func (m *Memory) JobStats(ctx context.Context) (JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := JobStats{Count: int64(len(m.jobs))}
	for _, d := range m.jobs {
		if st.Earliest.IsZero() || d.CreatedAt.Before(st.Earliest) {
			st.Earliest = d.CreatedAt
		}
		if d.CreatedAt.After(st.Latest) {
			st.Latest = d.CreatedAt
		}
	}
	return st, nil
}

func (m *Memory) AppendExecution(ctx context.Context, e Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	m.execs = append(m.execs, e)
	return nil
}

func (m *Memory) FindExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error) {
	m.mu.Lock()
	var out []Execution
	for _, e := range m.execs {
		if f.Match(e) && f.After.past(e, f.Ascending) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !f.Ascending {
			a, b = b, a
		}
		if a.StartedAt.Equal(b.StartedAt) {
			return a.ID < b.ID
		}
		return a.StartedAt.Before(b.StartedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountExecutions(ctx context.Context, f ExecutionFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.execs {
		if f.Match(e) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.execs[:0]
	var removed int64
	for _, e := range m.execs {
		if e.StartedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.execs = kept
	return removed, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
