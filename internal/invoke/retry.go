package invoke

import (
	"context"
	"math"
	"time"
)

// State is a position in the attempt state machine.
type State string

const (
	// Attempting means an attempt is running.
	Attempting State = "attempting"

	// RetriableFailure means the last attempt failed with a retriable kind.
	// The machine either backs off and re-enters Attempting, or fails if the
	// budget is spent or the backoff is cancelled.
	RetriableFailure State = "retriable_failure"

	// FatalFailure means the last attempt failed with a non-retriable kind.
	FatalFailure State = "fatal_failure"

	// Succeeded is terminal and carries a Decoded payload.
	Succeeded State = "succeeded"

	// Failed is terminal and carries the last observed *Error.
	Failed State = "failed"
)

// IsTerminal returns true if no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == Succeeded || s == Failed
}

// ValidTransitions defines the allowed state transitions.
var ValidTransitions = map[State][]State{
	Attempting:       {Succeeded, RetriableFailure, FatalFailure},
	RetriableFailure: {Attempting, Failed},
	FatalFailure:     {Failed},
	Succeeded:        {}, // Terminal
	Failed:           {}, // Terminal
}

// CanTransition returns true if transitioning from 'from' to 'to' is valid.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Policy bounds the attempt loop.
type Policy struct {
	Attempts   int           // Total attempts including the first; values < 1 mean 1
	Delay      time.Duration // Backoff after the first failed attempt
	Multiplier float64       // Growth factor per attempt; values < 1 mean 1
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Backoff returns the sleep after failed attempt k (1-based): Delay × Multiplier^(k-1).
func (p Policy) Backoff(k int) time.Duration {
	if k < 1 || p.Delay <= 0 {
		return 0
	}
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	d := float64(p.Delay) * math.Pow(m, float64(k-1))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Transition records one step of the state machine.
type Transition struct {
	Attempt int
	From    State
	To      State
	Err     *Error        // Set when leaving a failed attempt
	Delay   time.Duration // Set when RetriableFailure re-enters Attempting
}

// AttemptFunc performs attempt number n (1-based).
type AttemptFunc func(ctx context.Context, n int) (*Decoded, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier drives AttemptFunc through the state machine. It holds no
// per-call state and is safe for concurrent use.
type Retrier struct {
	Policy     Policy
	Classifier Classifier
	Sleep      Sleeper          // Defaults to SleepContext
	Observe    func(Transition) // Optional; called synchronously
}

// RetryResult is the terminal state of one Do call.
type RetryResult struct {
	State    State // Succeeded or Failed
	Decoded  *Decoded
	Err      *Error
	Attempts int
}

// Do runs attempts until success, a non-retriable failure, the attempt
// budget is spent, or ctx is cancelled during backoff.
func (r *Retrier) Do(ctx context.Context, fn AttemptFunc) RetryResult {
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	budget := r.Policy.attempts()

	for n := 1; ; n++ {
		decoded, err := fn(ctx, n)
		if err == nil {
			r.observe(Transition{Attempt: n, From: Attempting, To: Succeeded})
			return RetryResult{State: Succeeded, Decoded: decoded, Attempts: n}
		}

		failure := r.Classifier.Classify(err)
		if !failure.Retriable {
			r.observe(Transition{Attempt: n, From: Attempting, To: FatalFailure, Err: failure})
			r.observe(Transition{Attempt: n, From: FatalFailure, To: Failed, Err: failure})
			return RetryResult{State: Failed, Err: failure, Attempts: n}
		}

		r.observe(Transition{Attempt: n, From: Attempting, To: RetriableFailure, Err: failure})
		if n >= budget {
			r.observe(Transition{Attempt: n, From: RetriableFailure, To: Failed, Err: failure})
			return RetryResult{State: Failed, Err: failure, Attempts: n}
		}

		delay := r.Policy.Backoff(n)
		if err := sleep(ctx, delay); err != nil {
			cancelled := NewError(KindCancelled, err, "Invocation cancelled during backoff after attempt %d: %s", n, failure.Message)
			r.observe(Transition{Attempt: n, From: RetriableFailure, To: Failed, Err: cancelled})
			return RetryResult{State: Failed, Err: cancelled, Attempts: n}
		}
		r.observe(Transition{Attempt: n, From: RetriableFailure, To: Attempting, Err: failure, Delay: delay})
	}
}

func (r *Retrier) observe(t Transition) {
	if r.Observe != nil {
		r.Observe(t)
	}
}
