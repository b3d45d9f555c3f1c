// Package executor wraps the invocation core with admission control and
// run logging. Every invocation, including ones rejected before a
// subprocess is spawned, produces exactly one run record.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"phobos.org.uk/executor/internal/admission"
	"phobos.org.uk/executor/internal/api"
	"phobos.org.uk/executor/internal/invoke"
	"phobos.org.uk/executor/internal/logging"
	"phobos.org.uk/executor/internal/runlog"
)

// RunLogger persists run outcomes.
type RunLogger interface {
	LogSuccess(run runlog.Run, out runlog.Success) (*runlog.Record, error)
	LogError(run runlog.Run, code, message string) (*runlog.Record, error)
}

// Task is one unit of work submitted by a caller.
type Task struct {
	TaskType      string
	Agent         string
	ReferenceType string
	ReferenceID   string
	Metadata      map[string]any
	Request       invoke.Request
}

// Result is a successful task.
type Result struct {
	RunID    string
	Model    invoke.Model
	Decoded  *invoke.Decoded
	Attempts int
	Duration time.Duration
}

// Failure is a failed task. It wraps the classified *invoke.Error and
// carries the run ID when a record was written.
type Failure struct {
	Err   *invoke.Error
	RunID string
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Executor runs tasks.
type Executor struct {
	svc          *invoke.Service
	gate         *admission.Gate
	runs         RunLogger
	log          *logging.Logger
	defaultModel invoke.Model
}

// New creates an Executor.
func New(svc *invoke.Service, gate *admission.Gate, runs RunLogger, log *logging.Logger, defaultModel invoke.Model) *Executor {
	return &Executor{
		svc:          svc,
		gate:         gate,
		runs:         runs,
		log:          log,
		defaultModel: defaultModel,
	}
}

// Gate exposes the admission gate for status reporting.
func (e *Executor) Gate() *admission.Gate {
	return e.gate
}

// Execute admits task, invokes the CLI, and records the outcome. A non-nil
// error is always a *Failure.
func (e *Executor) Execute(ctx context.Context, task Task) (*Result, error) {
	runID := uuid.New().String()
	runLog := e.log.WithRun(runID)

	model := task.Request.Model
	if model == "" {
		model = e.defaultModel
	}
	run := runlog.Run{
		ID:            runID,
		TaskType:      task.TaskType,
		Model:         string(model),
		AgentName:     task.Agent,
		ReferenceType: task.ReferenceType,
		ReferenceID:   task.ReferenceID,
		Prompt:        task.Request.Prompt,
		Metadata:      task.Metadata,
	}

	agent := task.Agent
	if agent == "" {
		agent = "none"
	}
	runLog.Info("executing task", map[string]any{
		"task_type": task.TaskType,
		"model":     string(model),
		"agent":     agent,
	})

	// Requests that can never run are rejected without queueing for a slot.
	if bad := e.svc.Preflight(task.Request); bad != nil {
		return nil, e.fail(runLog, run, bad)
	}

	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return nil, e.fail(runLog, run, invoke.NewError(invoke.KindCancelled, err, "Cancelled while waiting for an invocation slot"))
	}
	defer release()

	out, err := e.svc.WithLog(runLog).Invoke(ctx, task.Request)
	if err != nil {
		var classified *invoke.Error
		if !errors.As(err, &classified) {
			classified = invoke.Classify(err)
		}
		return nil, e.fail(runLog, run, classified)
	}

	run.Attempts = out.Attempts
	run.Duration = out.Duration
	if !out.OK() {
		return nil, e.fail(runLog, run, out.Failure)
	}

	rec, err := e.runs.LogSuccess(run, runlog.Success{
		SessionID: out.Success.SessionID,
		TokensIn:  out.Success.Usage.InputTokens,
		TokensOut: out.Success.Usage.OutputTokens,
		CostUSD:   out.Success.CostUSD,
		Output:    string(out.Success.Data),
	})
	if err != nil {
		runLog.Warn("failed to record run", map[string]any{"error": err.Error()})
	}

	result := &Result{
		Model:    out.Model,
		Decoded:  out.Success,
		Attempts: out.Attempts,
		Duration: out.Duration,
	}
	if rec != nil && err == nil {
		result.RunID = rec.ID
	}
	return result, nil
}

func (e *Executor) fail(runLog *logging.RunLogger, run runlog.Run, failure *invoke.Error) error {
	if run.Duration == 0 {
		run.Duration = failure.Duration
	}
	f := &Failure{Err: failure}
	rec, err := e.runs.LogError(run, string(failure.Kind), failure.Message)
	if err != nil {
		runLog.Warn("failed to record run", map[string]any{"error": err.Error()})
	} else {
		f.RunID = rec.ID
	}
	return f
}

// Response renders r as an execute response body.
func (r *Result) Response() api.ExecuteSuccess {
	return api.ExecuteSuccess{
		Success:    true,
		Data:       r.Decoded.Data,
		RunID:      r.RunID,
		SessionID:  r.Decoded.SessionID,
		DurationMs: r.Duration.Milliseconds(),
		Usage: api.Usage{
			InputTokens:  r.Decoded.Usage.InputTokens,
			OutputTokens: r.Decoded.Usage.OutputTokens,
		},
		CostUSD: r.Decoded.CostUSD,
	}
}

// Response renders f as an execute failure body.
func (f *Failure) Response() api.ExecuteFailure {
	return api.ExecuteFailure{
		Success:    false,
		Error:      Details(f.Err),
		RunID:      f.RunID,
		DurationMs: f.Err.Duration.Milliseconds(),
	}
}

// Details renders a failure for an API body.
func Details(err *invoke.Error) api.ErrorDetails {
	return api.ErrorDetails{
		Code:      string(err.Kind),
		Message:   err.Message,
		Retriable: err.Retriable,
	}
}

// AsFailure unwraps err into a *Failure, classifying anything unexpected.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Err: invoke.Classify(fmt.Errorf("executing task: %w", err))}
}
