package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cronbot/internal/jobs"
	"cronbot/internal/recorder"
	"cronbot/internal/scheduler"
	"cronbot/internal/storage"
	logx "cronbot/pkg/logx"
)

const (
	maxBodyBytes   = 1 << 20
	recentPerJob   = 5
	healthDeadline = 5 * time.Second
)

type cronActionRequest struct {
	Action  string `json:"action"`
	JobName string `json:"jobName"`
}

func (s *Server) cronStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.sched.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"running":   snap.Running,
		"timezone":  snap.Timezone,
		"jobs":      s.sched.List(),
		"schedules": snap.Jobs,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) cronAction(w http.ResponseWriter, r *http.Request) {
	var req cronActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	var (
		msg string
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		err, msg = s.sched.Start(ctx), "Cron jobs started"
	case "stop":
		err, msg = s.sched.Stop(ctx), "Cron jobs stopped"
	case "restart":
		err, msg = s.sched.Restart(ctx), "Cron jobs restarted"
	case "trigger":
		name := strings.TrimSpace(req.JobName)
		if name == "" {
			writeError(w, http.StatusBadRequest, "jobName is required for trigger action")
			return
		}
		if err := s.sched.Trigger(context.WithoutCancel(ctx), name); err != nil {
			if errors.Is(err, scheduler.ErrJobNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Info("job triggered via admin", logx.Job(name))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job " + name + " triggered"})
		return
	default:
		writeError(w, http.StatusBadRequest, "Invalid action. Use: start, stop, restart, or trigger")
		return
	}

	resp := map[string]any{"success": true, "message": msg, "running": s.sched.Running()}
	if err != nil {
		// Start skips what it cannot load and runs the rest; a running
		// scheduler means the errors are warnings.
		if !s.sched.Running() {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["warnings"] = strings.Split(err.Error(), "\n")
	}
	s.log.Info("scheduler action via admin", logx.String("action", req.Action))
	writeJSON(w, http.StatusOK, resp)
}

type definitionView struct {
	storage.JobDefinition
	Scheduled  bool              `json:"scheduled"`
	Executions []recorder.Record `json:"executions,omitempty"`
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activeOnly := r.URL.Query().Get("active") == "true"
	defs, err := s.store.ListJobs(ctx, activeOnly)
	if err != nil {
		s.log.Error("list job definitions failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch cron jobs")
		return
	}
	registered := map[string]bool{}
	for _, name := range s.sched.List() {
		registered[name] = true
	}
	out := make([]definitionView, 0, len(defs))
	for _, d := range defs {
		v := definitionView{JobDefinition: d, Scheduled: registered[d.Name]}
		if s.rec != nil {
			recent, err := s.rec.Collect(ctx, recorder.Filter{JobName: d.Name, Limit: recentPerJob})
			if err != nil {
				s.log.Warn("recent executions unavailable", logx.Job(d.Name), logx.Err(err))
			}
			v.Executions = recent
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out, "count": len(out)})
}

type createRequest struct {
	Name       string `json:"name"`
	Prompt     string `json:"prompt"`
	Schedule   string `json:"schedule"`
	ChatTarget string `json:"chatTarget"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

func (s *Server) createDefinition(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def := storage.JobDefinition{
		Name:       strings.TrimSpace(req.Name),
		Prompt:     strings.TrimSpace(req.Prompt),
		Schedule:   strings.TrimSpace(req.Schedule),
		ChatTarget: strings.TrimSpace(req.ChatTarget),
		Enabled:    req.Enabled == nil || *req.Enabled,
	}
	if def.Name == "" || def.Prompt == "" || def.Schedule == "" || def.ChatTarget == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: name, prompt, schedule, chatTarget")
		return
	}
	if jobs.IsBuiltin(def.Name) {
		writeError(w, http.StatusConflict, "Job name is reserved for a builtin job")
		return
	}
	if err := scheduler.ValidateSchedule(def.Schedule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cron schedule format: "+err.Error())
		return
	}
	ctx := r.Context()
	if err := s.store.CreateJob(ctx, &def); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Job with this name already exists")
			return
		}
		s.log.Error("create job definition failed", logx.Job(def.Name), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to create cron job")
		return
	}
	if def.Enabled {
		if err := s.sched.Add(jobs.FromDefinition(def, s.deps)); err != nil {
			var dup *scheduler.DuplicateJobError
			if errors.As(err, &dup) {
				if derr := s.store.DeleteJob(context.WithoutCancel(ctx), def.Name); derr != nil {
					s.log.Error("rollback of duplicate job definition failed", logx.Job(def.Name), logx.Err(derr))
				}
				writeError(w, http.StatusConflict, "Job with this name is already scheduled")
				return
			}
			s.log.Warn("stored job not scheduled", logx.Job(def.Name), logx.Err(err))
		}
	}
	s.log.Info("job definition created", logx.Job(def.Name), logx.String("schedule", def.Schedule))
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": def})
}

type updateRequest struct {
	Prompt     *string `json:"prompt"`
	Schedule   *string `json:"schedule"`
	ChatTarget *string `json:"chatTarget"`
	Enabled    *bool   `json:"enabled"`
}

func (s *Server) updateDefinition(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "Query parameter name is required")
		return
	}
	if jobs.IsBuiltin(name) {
		writeError(w, http.StatusConflict, "Job name is reserved for a builtin job")
		return
	}
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	def, err := s.store.GetJob(ctx, name)
	if err != nil {
		s.writeStoreError(w, name, err)
		return
	}
	if req.Prompt != nil {
		def.Prompt = strings.TrimSpace(*req.Prompt)
	}
	if req.ChatTarget != nil {
		def.ChatTarget = strings.TrimSpace(*req.ChatTarget)
	}
	if req.Schedule != nil {
		def.Schedule = strings.TrimSpace(*req.Schedule)
		if err := scheduler.ValidateSchedule(def.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cron schedule format: "+err.Error())
			return
		}
	}
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}
	if def.Prompt == "" || def.ChatTarget == "" {
		writeError(w, http.StatusBadRequest, "prompt and chatTarget must not be empty")
		return
	}
	if err := s.store.UpdateJob(ctx, def); err != nil {
		s.writeStoreError(w, name, err)
		return
	}
	if def.Enabled {
		if err := s.sched.Replace(jobs.FromDefinition(def, s.deps)); err != nil {
			s.log.Warn("updated job not rescheduled", logx.Job(name), logx.Err(err))
		}
	} else {
		s.sched.Remove(name)
	}
	s.log.Info("job definition updated", logx.Job(name), logx.Bool("enabled", def.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": def})
}

func (s *Server) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "Query parameter name is required")
		return
	}
	if err := s.store.DeleteJob(r.Context(), name); err != nil {
		s.writeStoreError(w, name, err)
		return
	}
	// A legacy definition may share a builtin's name; leave the builtin.
	if !jobs.IsBuiltin(name) {
		s.sched.Remove(name)
	}
	s.log.Info("job definition deleted", logx.Job(name))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job " + name + " deleted"})
}

func (s *Server) writeStoreError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.log.Error("job definition store failed", logx.Job(name), logx.Err(err))
	writeError(w, http.StatusInternalServerError, "Storage error")
}

type serviceStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthDeadline)
	defer cancel()

	var db, notifier serviceStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		db = probe(gctx, s.store.Ping)
		return nil
	})
	if s.notifierHealth != nil {
		g.Go(func() error {
			notifier = probe(gctx, s.notifierHealth)
			return nil
		})
	} else {
		notifier = serviceStatus{Healthy: true}
	}
	_ = g.Wait()

	cron := serviceStatus{Healthy: s.sched.Running()}
	if !cron.Healthy {
		cron.Error = "scheduler not running"
	}
	healthy := db.Healthy && notifier.Healthy && cron.Healthy
	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"services": map[string]serviceStatus{
			"database": db,
			"notifier": notifier,
			"cron":     cron,
		},
	})
}

func probe(ctx context.Context, fn func(context.Context) error) serviceStatus {
	if err := fn(ctx); err != nil {
		return serviceStatus{Error: err.Error()}
	}
	return serviceStatus{Healthy: true}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
