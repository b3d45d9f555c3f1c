package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phobos.org.uk/executor/internal/admission"
	"phobos.org.uk/executor/internal/api"
	"phobos.org.uk/executor/internal/executor"
	"phobos.org.uk/executor/internal/invoke"
	"phobos.org.uk/executor/internal/logging"
	"phobos.org.uk/executor/internal/runlog"
	"phobos.org.uk/executor/internal/schema"
	"phobos.org.uk/executor/internal/stats"
)

// Request timeout bounds, in milliseconds.
const (
	MinTimeoutMs = 1000
	MaxTimeoutMs = 600000
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Admission     admission.Stats `json:"admission"`
	Schemas       int             `json:"schemas"`
}

// StatusFor maps a failure kind to an HTTP status via its severity.
func StatusFor(kind invoke.Kind) int {
	switch kind.Severity() {
	case invoke.SeverityInvalidRequest:
		return http.StatusBadRequest
	case invoke.SeverityTimeout:
		return http.StatusGatewayTimeout
	case invoke.SeverityThrottled:
		return http.StatusTooManyRequests
	case invoke.SeverityUpstream:
		return http.StatusBadGateway
	case invoke.SeverityCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Admission:     s.exec.Gate().Stats(),
		Schemas:       len(s.schemas.List()),
	})
}

// handleExecute validates the body, resolves a named schema when given, and
// runs the task. Validation failures never reach the executor and are not
// recorded.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecuteRequest
	if err := api.DecodeStrict(w, r, maxBodyBytes, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "Invalid JSON: "+err.Error())
		return
	}

	task, msg := s.buildTask(&req)
	if msg != "" {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, msg)
		return
	}

	if req.SchemaName != "" {
		doc, err := s.schemas.Get(req.SchemaName)
		if err != nil {
			api.WriteJSON(w, http.StatusNotFound, api.ExecuteFailure{
				Error: api.ErrorDetails{
					Code:    api.ErrorSchemaNotFound,
					Message: "Schema not found: " + req.SchemaName,
				},
			})
			return
		}
		task.Request.Schema = doc
	}

	res, err := s.exec.Execute(r.Context(), task)
	if err != nil {
		f := executor.AsFailure(err)
		api.WriteJSON(w, StatusFor(f.Err.Kind), f.Response())
		return
	}
	api.WriteJSON(w, http.StatusOK, res.Response())
}

// buildTask checks request shape and returns a validation message on failure.
// Prompt length is left to the invocation core so the rejection is recorded.
func (s *Server) buildTask(req *api.ExecuteRequest) (executor.Task, string) {
	if req.TaskType == "" {
		return executor.Task{}, "taskType is required"
	}
	if req.Prompt == "" {
		return executor.Task{}, "prompt is required"
	}
	switch {
	case req.Schema == nil && req.SchemaName == "":
		return executor.Task{}, "schema or schemaName is required"
	case req.Schema != nil && req.SchemaName != "":
		return executor.Task{}, "schema and schemaName are mutually exclusive"
	}

	model, err := invoke.ParseModel(req.Model)
	if err != nil {
		return executor.Task{}, err.Error()
	}

	var timeout time.Duration
	if req.TimeoutMs != nil {
		ms := *req.TimeoutMs
		if ms < MinTimeoutMs || ms > MaxTimeoutMs {
			return executor.Task{}, fmt.Sprintf("timeout must be between %d and %d", MinTimeoutMs, MaxTimeoutMs)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	for _, tool := range req.AllowedTools {
		if tool == "" {
			return executor.Task{}, "allowedTools must not contain empty names"
		}
	}

	return executor.Task{
		TaskType:      req.TaskType,
		Agent:         req.Agent,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Metadata:      req.Metadata,
		Request: invoke.Request{
			Prompt:       req.Prompt,
			Schema:       req.Schema,
			Model:        model,
			Timeout:      timeout,
			AllowedTools: req.AllowedTools,
		},
	}, ""
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, api.ListSchemasResponse{Schemas: s.schemas.List()})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	raw, err := s.schemas.Raw(name)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, api.ErrorSchemaNotFound, "Schema not found: "+name)
			return
		}
		api.WriteError(w, http.StatusInternalServerError, api.ErrorUnknown, err.Error())
		return
	}
	api.WriteRaw(w, http.StatusOK, raw)
}

func (s *Server) handleReloadSchemas(w http.ResponseWriter, r *http.Request) {
	n, err := s.schemas.Load()
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, api.ErrorUnknown, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Schemas reloaded successfully",
		"count":   n,
	})
}

// handleStats aggregates run records over ?period=day|week|month.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	period, err := stats.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, stats.Compute(s.runs, period, s.now()))
}

// handleListRuns returns paginated run records, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page, limit, err := api.ParsePage(r.URL.Query(), 20, 100)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, s.runs.List(runlog.ListOptions{Page: page, Limit: limit}))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, rec)
}

// handleLogs returns log entries with optional filtering.
// Query params:
//   - level: minimum log level (debug, info, warn, error)
//   - run_id: filter by run ID
//   - component: filter by component
//   - q: case-insensitive substring of the message
//   - since: RFC3339 timestamp to filter entries after
//   - until: RFC3339 timestamp to filter entries before
//   - limit: max entries to return (default 100)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := logging.Query{
		RunID:     params.Get("run_id"),
		Component: params.Get("component"),
		Contains:  params.Get("q"),
	}

	if level := params.Get("level"); level != "" {
		lvl, ok := logging.ParseLevel(level)
		if !ok {
			api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "level must be one of debug, info, warn, error")
			return
		}
		q.Level = lvl
	}
	for name, dst := range map[string]*time.Time{"since": &q.Since, "until": &q.Until} {
		t, err := api.ParseTimeParam(params.Get(name))
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, name+" "+err.Error())
			return
		}
		*dst = t
	}
	limit, err := api.ParseIntParam(params.Get("limit"), 1, 1000, 100)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "limit "+err.Error())
		return
	}
	q.Limit = limit

	api.WriteJSON(w, http.StatusOK, s.log.Query(q))
}

// handleLogStats returns log statistics without entries.
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.log.Stats())
}
