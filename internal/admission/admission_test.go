package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateBoundsConcurrency(t *testing.T) {
	t.Parallel()

	g := New(2)
	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 2, peak)
	require.Equal(t, Stats{Capacity: 2}, g.Stats())
}

func TestGateAcquireCancelled(t *testing.T) {
	t.Parallel()

	g := New(1)
	release, ok := g.TryAcquire()
	require.True(t, ok)
	defer release()

	_, ok = g.TryAcquire()
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(0), g.Stats().Waiting)
	require.Equal(t, int64(1), g.Stats().InFlight)
}

func TestGateReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	g := New(1)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()

	require.Equal(t, int64(0), g.Stats().InFlight)
	second, ok := g.TryAcquire()
	require.True(t, ok)
	second()
}

func TestNewClampsCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, New(0).Stats().Capacity)
}
