package executor

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"phobos.org.uk/executor/internal/admission"
	"phobos.org.uk/executor/internal/config"
	"phobos.org.uk/executor/internal/invoke"
	"phobos.org.uk/executor/internal/logging"
	"phobos.org.uk/executor/internal/runlog"
	"phobos.org.uk/executor/internal/testutil"
)

type stubRunner struct {
	mu     sync.Mutex
	stdout string
	err    error
	calls  int
}

func (s *stubRunner) Run(ctx context.Context, c invoke.Command) (*invoke.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &invoke.Attempt{Stdout: []byte(s.stdout)}, nil
}

type failingRunLogger struct{}

func (failingRunLogger) LogSuccess(runlog.Run, runlog.Success) (*runlog.Record, error) {
	return nil, errors.New("disk full")
}

func (failingRunLogger) LogError(runlog.Run, string, string) (*runlog.Record, error) {
	return nil, errors.New("disk full")
}

var schema = map[string]any{"type": "object"}

func newTestExecutor(t *testing.T, runner invoke.Runner, runs RunLogger) (*Executor, *logging.Logger) {
	t.Helper()
	cfg := config.Default().Executor
	cfg.Paths.WorkspacePath = filepath.Join(t.TempDir(), "workspace")
	cfg.Retry.Attempts = 2
	cfg.Retry.Delay = time.Millisecond
	cfg.Limits.MaxPromptLength = 100

	log := logging.New(logging.Config{Output: &bytes.Buffer{}, Level: logging.LevelDebug, Component: "executor"})
	svc := invoke.New(cfg, invoke.WithRunner(runner))
	return New(svc, admission.New(1), runs, log, invoke.Model(cfg.Defaults.Model)), log
}

func newStore(t *testing.T) *runlog.Store {
	t.Helper()
	store, err := runlog.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestExecuteSuccessRecordsRun(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	runner := &stubRunner{stdout: testutil.StructuredResponse(`{"answer":42}`)}
	ex, log := newTestExecutor(t, runner, store)

	res, err := ex.Execute(context.Background(), Task{
		TaskType:      "answer",
		Agent:         "oracle",
		ReferenceType: "ticket",
		ReferenceID:   "T-1",
		Request:       invoke.Request{Prompt: "what is it", Schema: schema},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, invoke.ModelSonnet, res.Model)
	require.JSONEq(t, `{"answer":42}`, string(res.Decoded.Data))

	rec, err := store.Get(res.RunID)
	require.NoError(t, err)
	require.True(t, rec.Success)
	require.Equal(t, "answer", rec.TaskType)
	require.Equal(t, "sonnet", rec.Model)
	require.Equal(t, "oracle", rec.AgentName)
	require.Equal(t, "T-1", rec.ReferenceID)
	require.Equal(t, "test-session", rec.SessionID)
	require.Equal(t, 0.02, rec.Cost())
	require.Equal(t, `{"answer":42}`, rec.OutputPreview)
	require.Equal(t, "what is it", rec.InputPreview)

	// Core log lines carry the run ID.
	entries := log.Query(logging.Query{RunID: res.RunID})
	require.NotZero(t, entries.Total)
}

func TestExecuteFailureRecordsRun(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	runner := &stubRunner{err: &invoke.TimeoutError{Timeout: time.Second}}
	ex, _ := newTestExecutor(t, runner, store)

	_, err := ex.Execute(context.Background(), Task{
		TaskType: "slow",
		Request:  invoke.Request{Prompt: "p", Schema: schema, Model: invoke.ModelHaiku},
	})

	f := AsFailure(err)
	require.Equal(t, invoke.KindTimeout, f.Err.Kind)
	require.True(t, f.Err.Retriable)
	require.NotEmpty(t, f.RunID)
	require.Equal(t, 2, runner.calls)

	rec, err := store.Get(f.RunID)
	require.NoError(t, err)
	require.False(t, rec.Success)
	require.Equal(t, "CLI_TIMEOUT", rec.ErrorCode)
	require.Equal(t, "haiku", rec.Model)
	require.Equal(t, 2, rec.Attempts)
}

func TestExecutePreflightFailureRecordsRun(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	runner := &stubRunner{stdout: testutil.StructuredResponse(`{}`)}
	ex, _ := newTestExecutor(t, runner, store)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	_, err := ex.Execute(context.Background(), Task{
		TaskType: "big",
		Request:  invoke.Request{Prompt: string(long), Schema: schema},
	})

	f := AsFailure(err)
	require.Equal(t, invoke.KindPromptTooLong, f.Err.Kind)
	require.Zero(t, runner.calls)

	rec, err := store.Get(f.RunID)
	require.NoError(t, err)
	require.Equal(t, "PROMPT_TOO_LONG", rec.ErrorCode)
	require.Equal(t, int64(0), rec.DurationMs)
}

func TestExecuteRunLoggerFailureDoesNotFailTask(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{stdout: testutil.StructuredResponse(`{}`)}
	ex, log := newTestExecutor(t, runner, failingRunLogger{})

	res, err := ex.Execute(context.Background(), Task{TaskType: "t", Request: invoke.Request{Prompt: "p", Schema: schema}})
	require.NoError(t, err)
	require.Empty(t, res.RunID)

	warnings := log.Query(logging.Query{Level: logging.LevelWarn})
	require.Equal(t, 1, warnings.Total)
	require.Equal(t, "failed to record run", warnings.Entries[0].Message)
}

func TestExecuteCancelledWhileQueued(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	runner := &stubRunner{stdout: testutil.StructuredResponse(`{}`)}
	ex, _ := newTestExecutor(t, runner, store)

	// Occupy the only slot.
	release, err := ex.Gate().Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ex.Execute(ctx, Task{TaskType: "t", Request: invoke.Request{Prompt: "p", Schema: schema}})

	f := AsFailure(err)
	require.Equal(t, invoke.KindCancelled, f.Err.Kind)
	require.Zero(t, runner.calls)
	require.NotEmpty(t, f.RunID)
}

func TestExecutePreflightDoesNotWaitForSlot(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	runner := &stubRunner{stdout: testutil.StructuredResponse(`{}`)}
	ex, _ := newTestExecutor(t, runner, store)

	// With the only slot held, an admitted task would block until ctx ends.
	release, err := ex.Gate().Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	tests := []struct {
		name string
		req  invoke.Request
		want invoke.Kind
	}{
		{"prompt too long", invoke.Request{Prompt: string(bytes.Repeat([]byte("x"), 101)), Schema: schema}, invoke.KindPromptTooLong},
		{"invalid schema", invoke.Request{Prompt: "p", Schema: map[string]any{"type": 12}}, invoke.KindSchemaInvalid},
		{"unknown model", invoke.Request{Prompt: "p", Schema: schema, Model: invoke.Model("gpt")}, invoke.KindSchemaInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			start := time.Now()
			_, err := ex.Execute(ctx, Task{TaskType: "t", Request: tt.req})
			require.Less(t, time.Since(start), time.Second)

			f := AsFailure(err)
			require.Equal(t, tt.want, f.Err.Kind)
			require.NotEmpty(t, f.RunID)
		})
	}
	require.Zero(t, runner.calls)
	require.Equal(t, int64(1), ex.Gate().Stats().InFlight)
}

func TestAsFailureClassifiesForeignErrors(t *testing.T) {
	t.Parallel()

	f := AsFailure(errors.New("boom"))
	require.Equal(t, invoke.KindProcessError, f.Err.Kind)

	details := Details(f.Err)
	require.Equal(t, "CLI_ERROR", details.Code)
	require.True(t, details.Retriable)
}

func TestResponseBodies(t *testing.T) {
	t.Parallel()

	res := &Result{
		RunID:    "run-1",
		Decoded:  &invoke.Decoded{Data: []byte(`{"a":1}`), SessionID: "s", CostUSD: 0.5, Usage: invoke.Usage{InputTokens: 3, OutputTokens: 4}},
		Duration: 1500 * time.Millisecond,
	}
	ok := res.Response()
	require.True(t, ok.Success)
	require.Equal(t, "run-1", ok.RunID)
	require.Equal(t, int64(1500), ok.DurationMs)
	require.Equal(t, 3, ok.Usage.InputTokens)
	require.Equal(t, 4, ok.Usage.OutputTokens)

	f := &Failure{Err: invoke.NewError(invoke.KindRateLimited, nil, "slow down"), RunID: "run-2"}
	bad := f.Response()
	require.False(t, bad.Success)
	require.Equal(t, "RATE_LIMIT", bad.Error.Code)
	require.Equal(t, "slow down", bad.Error.Message)
	require.True(t, bad.Error.Retriable)
	require.Equal(t, "run-2", bad.RunID)
}
