// Package admission bounds the number of concurrent CLI invocations.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate admits at most Capacity callers at a time.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New returns a Gate with the given capacity. Values below 1 mean 1.
func New(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done. On success the caller
// must call release; calls after the first are no-ops.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	g.waiting.Add(1)
	err = g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, fmt.Errorf("waiting for invocation slot: %w", err)
	}
	return g.admitted(), nil
}

// TryAcquire takes a slot without blocking.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return g.admitted(), true
}

func (g *Gate) admitted() func() {
	g.inFlight.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		}
	}
}

// Stats is a point-in-time view of the gate.
type Stats struct {
	Capacity int   `json:"capacity"`
	InFlight int64 `json:"in_flight"`
	Waiting  int64 `json:"waiting"`
}

// Stats returns current occupancy.
func (g *Gate) Stats() Stats {
	return Stats{
		Capacity: int(g.capacity),
		InFlight: g.inFlight.Load(),
		Waiting:  g.waiting.Load(),
	}
}
