package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	logx "cronbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store on database/sql for both SQLite and PostgreSQL.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func (s *sqlStore) migrate(ctx context.Context) error {
	name := "migrations/sqlite.sql"
	if s.dialect == dialectPostgres {
		name = "migrations/postgres.sql"
	}
	b, err := migrationsFS.ReadFile(name)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *sqlStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

const jobColumns = `id, name, schedule, prompt, chat_target, enabled, created_at, updated_at`

func (s *sqlStore) CreateJob(ctx context.Context, def *JobDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = def.CreatedAt
	_, err := s.exec(ctx,
		`INSERT INTO job_definitions(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?)`,
		def.ID, def.Name, def.Schedule, def.Prompt, def.ChatTarget, def.Enabled,
		def.CreatedAt.UnixNano(), def.UpdatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, def.Name)
	}
	return err
}

func (s *sqlStore) GetJob(ctx context.Context, name string) (JobDefinition, error) {
	rows, err := s.query(ctx, `SELECT `+jobColumns+` FROM job_definitions WHERE name = ?`, name)
	if err != nil {
		return JobDefinition{}, err
	}
	defs, err := scanJobs(rows)
	if err != nil {
		return JobDefinition{}, err
	}
	if len(defs) == 0 {
		return JobDefinition{}, fmt.Errorf("%w: job %s", ErrNotFound, name)
	}
	return defs[0], nil
}

func (s *sqlStore) ListJobs(ctx context.Context, enabledOnly bool) ([]JobDefinition, error) {
	q := `SELECT ` + jobColumns + ` FROM job_definitions`
	var args []any
	if enabledOnly {
		q += ` WHERE enabled = ?`
		args = append(args, true)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *sqlStore) UpdateJob(ctx context.Context, def JobDefinition) error {
	def.UpdatedAt = time.Now()
	res, err := s.exec(ctx,
		`UPDATE job_definitions SET schedule = ?, prompt = ?, chat_target = ?, enabled = ?, updated_at = ? WHERE name = ?`,
		def.Schedule, def.Prompt, def.ChatTarget, def.Enabled, def.UpdatedAt.UnixNano(), def.Name,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, def.Name)
}

func (s *sqlStore) DeleteJob(ctx context.Context, name string) error {
	res, err := s.exec(ctx, `DELETE FROM job_definitions WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return requireAffected(res, name)
}

func (s *sqlStore) JobStats(ctx context.Context) (JobStats, error) {
	if s.db == nil {
		return JobStats{}, ErrClosed
	}
	var (
		st     JobStats
		lo, hi sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM job_definitions`).Scan(&st.Count, &lo, &hi)
	if err != nil {
		return JobStats{}, err
	}
	if lo.Valid {
		st.Earliest = time.Unix(0, lo.Int64)
	}
	if hi.Valid {
		st.Latest = time.Unix(0, hi.Int64)
	}
	return st, nil
}

func (s *sqlStore) AppendExecution(ctx context.Context, e Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO executions(id, job_name, started_at, duration_ms, status, request_payload, response_payload, error_detail)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, e.JobName, e.StartedAt.UnixNano(), e.Duration.Milliseconds(), string(e.Status),
		nullStr(e.RequestPayload), nullStr(e.ResponsePayload), nullStr(e.ErrorDetail),
	)
	return err
}

func (s *sqlStore) FindExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error) {
	where, args := executionWhere(f)
	if c := f.After; c != nil {
		cmp := "<"
		if f.Ascending {
			cmp = ">"
		}
		cond := "(started_at " + cmp + " ? OR (started_at = ? AND id " + cmp + " ?))"
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
		at := c.StartedAt.UnixNano()
		args = append(args, at, at, c.ID)
	}
	q := `SELECT id, job_name, started_at, duration_ms, status, request_payload, response_payload, error_detail FROM executions` + where
	if f.Ascending {
		q += ` ORDER BY started_at ASC, id ASC`
	} else {
		q += ` ORDER BY started_at DESC, id DESC`
	}
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                  Execution
			started, duration  int64
			status             string
			req, resp, errText sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.JobName, &started, &duration, &status, &req, &resp, &errText); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(0, started)
		e.Duration = time.Duration(duration) * time.Millisecond
		e.Status = Status(status)
		e.RequestPayload = req.String
		e.ResponsePayload = resp.String
		e.ErrorDetail = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountExecutions(ctx context.Context, f ExecutionFilter) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	where, args := executionWhere(f)
	var n int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM executions`+where), args...).Scan(&n)
	return n, err
}

func (s *sqlStore) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM executions WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func executionWhere(f ExecutionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.JobName != "" {
		conds = append(conds, "job_name = ?")
		args = append(args, f.JobName)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, f.Until.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanJobs(rows *sql.Rows) ([]JobDefinition, error) {
	defer rows.Close()
	var out []JobDefinition
	for rows.Next() {
		var (
			d                JobDefinition
			created, updated int64
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Schedule, &d.Prompt, &d.ChatTarget, &d.Enabled, &created, &updated); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(0, created)
		d.UpdatedAt = time.Unix(0, updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s", ErrNotFound, name)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
