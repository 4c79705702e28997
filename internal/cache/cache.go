// Package cache deduplicates vision-inference work by analysis fingerprint.
package cache

import (
	"context"

	"golang.org/x/sync/singleflight"

	"tonnage-service/internal/domain/tonnage"
)

// Store is the backing storage for cached estimates. Eviction policy belongs
// to the implementation; the bundled MemoryStore bounds entry count.
type Store interface {
	Get(fingerprint string) (tonnage.EstimationResult, bool)
	Set(fingerprint string, result tonnage.EstimationResult)
	Delete(fingerprint string)
}

// ComputeFunc produces an estimate on a cache miss.
type ComputeFunc func(ctx context.Context) (tonnage.EstimationResult, error)

// AnalysisCache maps fingerprint to estimation result with at-most-one
// concurrent computation per fingerprint. Concurrent callers that miss on the
// same fingerprint all observe the single computed value. Failed computations
// are never stored, so the next call retries.
type AnalysisCache struct {
	store Store
	group singleflight.Group
}

func New(store Store) *AnalysisCache {
	return &AnalysisCache{store: store}
}

// GetOrCompute returns the cached estimate for fingerprint, computing it at
// most once across concurrent callers. The second return reports whether the
// value was served from the store without running compute in this call.
//
// Shared in-flight work is not cancelled when one caller abandons its
// request: compute runs detached from the caller's context, and a caller
// whose context ends while waiting returns the context error while the
// computation continues and populates the cache for the remaining waiters.
func (c *AnalysisCache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (tonnage.EstimationResult, bool, error) {
	if cached, ok := c.store.Get(fingerprint); ok {
		return cached, true, nil
	}

	computed := false
	ch := c.group.DoChan(fingerprint, func() (interface{}, error) {
		// a concurrent computation may have stored the value between our
		// store check and the flight start
		if cached, ok := c.store.Get(fingerprint); ok {
			return cached, nil
		}
		computed = true
		result, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return tonnage.EstimationResult{}, err
		}
		c.store.Set(fingerprint, result)
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return tonnage.EstimationResult{}, false, res.Err
		}
		return res.Val.(tonnage.EstimationResult), !computed, nil
	case <-ctx.Done():
		return tonnage.EstimationResult{}, false, ctx.Err()
	}
}

// Invalidate removes a fingerprint from the store and detaches any in-flight
// computation so the next call recomputes.
func (c *AnalysisCache) Invalidate(fingerprint string) {
	c.group.Forget(fingerprint)
	c.store.Delete(fingerprint)
}
