package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tonnage-service/internal/domain/tonnage"
)

func testResult(kg float64) tonnage.EstimationResult {
	return tonnage.EstimationResult{
		PointEstimateKg: kg,
		Confidence:      0.9,
		SampleCount:     1,
		SourceTag:       "test",
	}
}

func TestGetOrComputeHit(t *testing.T) {
	store := NewMemoryStore(0)
	store.Set("fp-1", testResult(8000))
	c := New(store)

	result, fromCache, err := c.GetOrCompute(context.Background(), "fp-1", func(ctx context.Context) (tonnage.EstimationResult, error) {
		t.Fatal("compute must not run on a cache hit")
		return tonnage.EstimationResult{}, nil
	})
	require.NoError(t, err)
	require.True(t, fromCache)
	require.Equal(t, 8000.0, result.PointEstimateKg)
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	const callers = 32

	store := NewMemoryStore(0)
	c := New(store)

	var computeCalls atomic.Int32
	release := make(chan struct{})

	compute := func(ctx context.Context) (tonnage.EstimationResult, error) {
		computeCalls.Add(1)
		<-release
		return testResult(9500), nil
	}

	var wg sync.WaitGroup
	results := make([]tonnage.EstimationResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(context.Background(), "fp-shared", compute)
		}(i)
	}

	// let every goroutine join the flight before releasing the computation
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), computeCalls.Load(), "concurrent misses must trigger exactly one compute")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 9500.0, results[i].PointEstimateKg, "all waiters must observe the same value")
	}
}

func TestGetOrComputeFailureNotCached(t *testing.T) {
	store := NewMemoryStore(0)
	c := New(store)

	var calls atomic.Int32
	boom := errors.New("inference transport failure")

	compute := func(ctx context.Context) (tonnage.EstimationResult, error) {
		if calls.Add(1) == 1 {
			return tonnage.EstimationResult{}, boom
		}
		return testResult(7200), nil
	}

	_, _, err := c.GetOrCompute(context.Background(), "fp-retry", compute)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, store.Len(), "failed compute must not populate the store")

	result, fromCache, err := c.GetOrCompute(context.Background(), "fp-retry", compute)
	require.NoError(t, err)
	require.False(t, fromCache)
	require.Equal(t, 7200.0, result.PointEstimateKg)
	require.Equal(t, int32(2), calls.Load())
}

func TestGetOrComputeCallerCancellation(t *testing.T) {
	store := NewMemoryStore(0)
	c := New(store)

	started := make(chan struct{})
	release := make(chan struct{})

	compute := func(ctx context.Context) (tonnage.EstimationResult, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			t.Errorf("compute context must outlive the abandoning caller, got %v", ctx.Err())
		}
		return testResult(6400), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "fp-cancel", compute)
		done <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// the in-flight computation continues and populates the cache
	close(release)
	require.Eventually(t, func() bool {
		_, ok := store.Get("fp-cancel")
		return ok
	}, time.Second, 5*time.Millisecond)

	result, fromCache, err := c.GetOrCompute(context.Background(), "fp-cancel", func(ctx context.Context) (tonnage.EstimationResult, error) {
		t.Error("compute must not run once the shared flight stored a value")
		return tonnage.EstimationResult{}, nil
	})
	require.NoError(t, err)
	require.True(t, fromCache)
	require.Equal(t, 6400.0, result.PointEstimateKg)
}

func TestInvalidate(t *testing.T) {
	store := NewMemoryStore(0)
	c := New(store)

	var calls atomic.Int32
	compute := func(ctx context.Context) (tonnage.EstimationResult, error) {
		calls.Add(1)
		return testResult(float64(1000 * calls.Load())), nil
	}

	first, _, err := c.GetOrCompute(context.Background(), "fp-inv", compute)
	require.NoError(t, err)
	require.Equal(t, 1000.0, first.PointEstimateKg)

	c.Invalidate("fp-inv")

	second, fromCache, err := c.GetOrCompute(context.Background(), "fp-inv", compute)
	require.NoError(t, err)
	require.False(t, fromCache)
	require.Equal(t, 2000.0, second.PointEstimateKg)
}

func TestMemoryStoreBound(t *testing.T) {
	store := NewMemoryStore(2)
	store.Set("a", testResult(1))
	store.Set("b", testResult(2))
	store.Set("c", testResult(3))

	require.Equal(t, 2, store.Len())
	_, ok := store.Get("a")
	require.False(t, ok, "oldest entry must be evicted first")
	_, ok = store.Get("c")
	require.True(t, ok)
}
