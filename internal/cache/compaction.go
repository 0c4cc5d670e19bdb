package cache

import (
	"context"
	"time"
)

// Compact walks every shard once, dropping entries that are marked for
// deletion or expired, and returns the total number removed. compactions
// increments only if something was actually removed. Compact tolerates
// concurrent Get/Insert on the same shards.
func (c *Cache) Compact() int {
	removed := 0
	now := c.clock.NowSecs()

	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, rec := range sh.entries {
			if rec.MarkedForDeletion() || rec.Expired(now) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		c.metrics.recordCompaction()
	}
	return removed
}

// RunCompactionLoop runs Compact on a fixed interval until ctx is canceled.
// It is the background timer referenced in spec §4.4's compaction cycle.
func (c *Cache) RunCompactionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Compact()
		}
	}
}
