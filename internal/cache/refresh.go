package cache

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc performs the background upstream query for an optimistic
// refresh and returns the freshly resolved record. It is supplied by the
// resolver pipeline, which owns the dispatcher; the cache package has no
// knowledge of how a refresh is actually resolved.
type RefreshFunc func(ctx context.Context, key Key) (*Record, error)

// RefreshOutcome summarizes one refresh cycle sweep.
type RefreshOutcome struct {
	CandidatesFound int
	Refreshed       int
	Failed          int
	CacheSize       int
}

// RefreshConfig bounds which entries the refresh cycle considers.
type RefreshConfig struct {
	// TTLThresholdSecs: entries with remaining TTL below this are candidates.
	TTLThresholdSecs uint32
	// PopularityFloor: entries need at least this many hits to be refreshed.
	PopularityFloor uint64
}

// RunRefreshCycle scans every shard for entries whose remaining TTL is
// below cfg.TTLThresholdSecs and whose hit count exceeds cfg.PopularityFloor,
// and triggers refreshFn for each, subject to the invariant that at most one
// refresh is ever in flight per key — a second candidate for the same key
// during an already-running refresh is skipped, not duplicated.
//
// Refreshes run concurrently and this call blocks until all of them finish.
func (c *Cache) RunRefreshCycle(ctx context.Context, cfg RefreshConfig, refreshFn RefreshFunc) RefreshOutcome {
	now := c.clock.NowSecs()

	var candidates []Key
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k, rec := range sh.entries {
			if rec.MarkedForDeletion() {
				continue
			}
			if rec.remainingTTL(now) >= cfg.TTLThresholdSecs {
				continue
			}
			if rec.HitCount() < cfg.PopularityFloor {
				continue
			}
			candidates = append(candidates, k)
		}
		sh.mu.RUnlock()
	}

	outcome := RefreshOutcome{CandidatesFound: len(candidates)}
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		refreshed  int
		failed     int
	)

	for _, k := range candidates {
		if !c.inflight.tryStart(k) {
			continue
		}
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			defer c.inflight.finish(k)

			rec, err := refreshFn(ctx, k)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			refreshed++
			c.Insert(k, rec)
			c.metrics.recordOptimisticRefresh()
		}(k)
	}
	wg.Wait()

	outcome.Refreshed = refreshed
	outcome.Failed = failed
	outcome.CacheSize = c.Len()
	return outcome
}

// RefreshKey triggers a non-blocking optimistic refresh for a single key,
// subject to the same at-most-one-in-flight-per-key invariant as
// RunRefreshCycle: if a refresh for key is already running, this call is a
// no-op. Unlike RunRefreshCycle it does not scan the cache — callers
// already know the key needs a refresh (e.g. a Get found it past its TTL
// threshold) and this avoids an O(shards) walk on every such hit.
func (c *Cache) RefreshKey(ctx context.Context, key Key, refreshFn RefreshFunc) {
	if !c.inflight.tryStart(key) {
		return
	}
	go func() {
		defer c.inflight.finish(key)
		rec, err := refreshFn(ctx, key)
		if err != nil {
			return
		}
		c.Insert(key, rec)
		c.metrics.recordOptimisticRefresh()
	}()
}

// RunRefreshLoop runs RunRefreshCycle on a fixed interval until ctx is
// canceled.
func (c *Cache) RunRefreshLoop(ctx context.Context, interval time.Duration, cfg RefreshConfig, refreshFn RefreshFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunRefreshCycle(ctx, cfg, refreshFn)
		}
	}
}
