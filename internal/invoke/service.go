package invoke

import (
	"context"
	"os"
	"time"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"phobos.org.uk/executor/internal/config"
)

// Logger is the subset of the structured logger the core writes to.
type Logger interface {
	Debug(msg string, fields ...map[string]any)
	Info(msg string, fields ...map[string]any)
	Warn(msg string, fields ...map[string]any)
	Error(msg string, fields ...map[string]any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...map[string]any) {}
func (nopLogger) Info(string, ...map[string]any)  {}
func (nopLogger) Warn(string, ...map[string]any)  {}
func (nopLogger) Error(string, ...map[string]any) {}

// Outcome is the resolution of an invocation that reached the attempt loop.
// Exactly one of Success and Failure is set.
type Outcome struct {
	Success  *Decoded
	Failure  *Error
	Model    Model
	Attempts int
	Duration time.Duration // First attempt start to last attempt resolution, backoff included
}

// OK reports whether the invocation succeeded.
func (o *Outcome) OK() bool {
	return o.Success != nil
}

// Err returns the failure as an error, or nil on success.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Service invokes the CLI. It holds only read-only configuration, so one
// Service may serve any number of concurrent Invoke calls.
type Service struct {
	cfg        config.ExecutorConfig
	runner     Runner
	classifier Classifier
	sleep      Sleeper
	now        func() time.Time
	log        Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithHeuristic installs a stderr heuristic for nonzero exits.
func WithHeuristic(h StderrHeuristic) Option {
	return func(s *Service) { s.classifier.Heuristic = h }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn Sleeper) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithClock replaces the clock used for Outcome.Duration.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(cfg config.ExecutorConfig, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		runner:     ExecRunner{},
		classifier: Classifier{ExecutablePath: cfg.Paths.CLIPath},
		sleep:      SleepContext,
		now:        time.Now,
		log:        nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithLog returns a copy of s that writes to l. Used to scope logging to
// one run without rebuilding the Service.
func (s *Service) WithLog(l Logger) *Service {
	cp := *s
	cp.log = l
	return &cp
}

// Preflight runs the request checks that need no subprocess: prompt length,
// model alias and schema. A nil result means Invoke will reach the attempt
// loop unless the workspace is unusable.
func (s *Service) Preflight(req Request) *Error {
	if limit := s.cfg.Limits.MaxPromptLength; limit > 0 && utf8.RuneCountInString(req.Prompt) > limit {
		return NewError(KindPromptTooLong, nil, "Prompt exceeds maximum length of %d characters", limit)
	}
	if _, err := ParseModel(string(s.model(req))); err != nil {
		return NewError(KindSchemaInvalid, err, "Invalid model: %v", err)
	}
	return validateSchema(req.Schema)
}

func (s *Service) model(req Request) Model {
	if req.Model == "" {
		return Model(s.cfg.Defaults.Model)
	}
	return req.Model
}

// Invoke runs req to completion. Failures detected before any subprocess
// could be spawned are returned as an *Error with a nil Outcome; all other
// failures are carried in Outcome.Failure.
func (s *Service) Invoke(ctx context.Context, req Request) (*Outcome, error) {
	if err := s.Preflight(req); err != nil {
		return nil, err
	}

	model := s.model(req)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Defaults.Timeout
	}

	args, err := BuildArgs(model, req.Schema, req.Prompt, req.AllowedTools)
	if err != nil {
		return nil, NewError(KindSchemaInvalid, err, "Schema cannot be serialized: %v", err)
	}

	workspace := s.cfg.Paths.WorkspacePath
	if workspace != "" {
		if err := os.MkdirAll(workspace, 0755); err != nil {
			return nil, NewError(KindWorkspaceError, &WorkspaceError{Dir: workspace, Err: err}, "Workspace unavailable: %v", err)
		}
	}

	s.log.Info("invoking claude cli", map[string]any{
		"model":         string(model),
		"timeout_ms":    timeout.Milliseconds(),
		"prompt_length": utf8.RuneCountInString(req.Prompt),
		"allowed_tools": len(req.AllowedTools),
	})

	cmd := Command{
		Path:    s.cfg.Paths.CLIPath,
		Args:    args,
		Dir:     workspace,
		Timeout: timeout,
	}
	retrier := &Retrier{
		Policy: Policy{
			Attempts:   s.cfg.Retry.Attempts,
			Delay:      s.cfg.Retry.Delay,
			Multiplier: s.cfg.Retry.BackoffMultiplier,
		},
		Classifier: s.classifier,
		Sleep:      s.sleep,
		Observe:    s.observe,
	}

	start := s.now()
	res := retrier.Do(ctx, func(ctx context.Context, n int) (*Decoded, error) {
		attempt, err := s.runner.Run(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return Decode(attempt.Stdout)
	})
	elapsed := s.now().Sub(start)

	out := &Outcome{
		Model:    model,
		Attempts: res.Attempts,
		Duration: elapsed,
	}
	if res.State == Succeeded {
		out.Success = res.Decoded
		s.log.Info("claude cli succeeded", map[string]any{
			"attempts":      res.Attempts,
			"duration_ms":   elapsed.Milliseconds(),
			"input_tokens":  res.Decoded.Usage.InputTokens,
			"output_tokens": res.Decoded.Usage.OutputTokens,
		})
		return out, nil
	}

	out.Failure = res.Err.withDuration(elapsed)
	s.log.Error("claude cli failed", map[string]any{
		"attempts":    res.Attempts,
		"duration_ms": elapsed.Milliseconds(),
		"code":        string(out.Failure.Kind),
		"error":       out.Failure.Message,
	})
	return out, nil
}

func (s *Service) observe(t Transition) {
	switch t.To {
	case RetriableFailure, FatalFailure:
		s.log.Warn("attempt failed", map[string]any{
			"attempt":   t.Attempt,
			"code":      string(t.Err.Kind),
			"retriable": t.Err.Retriable,
			"error":     t.Err.Message,
		})
	case Attempting:
		s.log.Debug("retrying after backoff", map[string]any{
			"attempt":  t.Attempt + 1,
			"delay_ms": t.Delay.Milliseconds(),
		})
	}
}

// validateSchema rejects schemas the CLI could not enforce.
func validateSchema(schema map[string]any) *Error {
	if len(schema) == 0 {
		return NewError(KindSchemaInvalid, nil, "Schema must be a non-empty JSON object")
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return NewError(KindSchemaInvalid, err, "Invalid JSON schema: %v", err)
	}
	return nil
}
