package cache

import (
	"hash/fnv"
	"sync"

	"github.com/foxhound-dns/resolver/internal/cache/eviction"
	"github.com/foxhound-dns/resolver/internal/clock"
)

// Config controls shard count and eviction behavior.
type Config struct {
	ShardCount     int
	HighWatermark  int // per-shard entry count that triggers a batch eviction
	SampleSize     int // entries sampled per batch eviction sweep
	EvictCount     int // entries evicted per batch eviction sweep
	Policy         eviction.Policy
}

// DefaultConfig mirrors the teacher's sharded-cache defaults (64 shards),
// sized for the batch eviction protocol of spec §4.3 (sample 256, evict 64).
func DefaultConfig() Config {
	return Config{
		ShardCount:    64,
		HighWatermark: 4096,
		SampleSize:    256,
		EvictCount:    64,
		Policy:        eviction.LRU{},
	}
}

// shard is one independently-locked partition of the cache.
type shard struct {
	mu      sync.RWMutex
	entries map[Key]*Record
}

// Cache is the sharded concurrent answer cache (C2). Shards are selected by
// FNV-1a hash of the cache key, same as the teacher's ShardedCache.
type Cache struct {
	cfg     Config
	clock   *clock.Coarse
	shards  []*shard
	metrics Metrics

	inflight inflightRefreshes
}

// New constructs a Cache. clk provides the coarse timestamp used for
// insertion, expiry, and scoring.
func New(cfg Config, clk *clock.Coarse) *Cache {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 64
	}
	if cfg.Policy == nil {
		cfg.Policy = eviction.LRU{}
	}
	c := &Cache{cfg: cfg, clock: clk, shards: make([]*shard, cfg.ShardCount)}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]*Record)}
	}
	c.inflight.m = make(map[Key]struct{})
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.Domain))
	_, _ = h.Write([]byte{byte(k.RecordType)})
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get implements the get path of spec §4.2: absent -> miss; marked-for-
// deletion or expired -> lazy deletion, scheduled removal, miss; else a hit
// with hit_count/last_access bumped and the shared Record returned.
func (c *Cache) Get(k Key) (*Record, bool) {
	sh := c.shardFor(k)
	now := c.clock.NowSecs()

	sh.mu.RLock()
	rec, found := sh.entries[k]
	sh.mu.RUnlock()

	if !found {
		c.metrics.recordMiss()
		return nil, false
	}

	if rec.MarkedForDeletion() || rec.Expired(now) {
		c.metrics.recordLazyDeletion()
		sh.mu.Lock()
		if cur, ok := sh.entries[k]; ok && cur == rec {
			delete(sh.entries, k)
		}
		sh.mu.Unlock()
		return nil, false
	}

	rec.RecordHit(now)
	c.metrics.recordHit()
	return rec, true
}

// Insert implements the insert path of §4.2: overwrites atomically, and if
// the previous entry for the same key was a refresh of the same domain,
// carries its hit_count forward to preserve the popularity signal.
func (c *Cache) Insert(k Key, rec *Record) {
	sh := c.shardFor(k)

	sh.mu.Lock()
	if previous, ok := sh.entries[k]; ok && !previous.MarkedForDeletion() {
		rec.seedHitCount(previous.HitCount())
	}
	if len(sh.entries) >= c.cfg.HighWatermark {
		c.evictBatchLocked(sh)
	}
	sh.entries[k] = rec
	sh.mu.Unlock()

	c.metrics.recordInsertion()
}

// Remove deletes a key outright, reporting whether it was present.
func (c *Cache) Remove(k Key) bool {
	sh := c.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[k]; !ok {
		return false
	}
	delete(sh.entries, k)
	return true
}

// Len returns the total number of entries across every shard, including
// ones not yet lazily or compactively removed.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

// MetricsSnapshot returns a point-in-time copy of the cache's counters.
func (c *Cache) MetricsSnapshot() Snapshot {
	return c.metrics.Snapshot()
}

// evictBatchLocked implements the batch eviction protocol of §4.3: sample
// up to SampleSize entries, score them, and evict the lowest-scoring
// EvictCount. Caller must hold sh.mu for writing.
func (c *Cache) evictBatchLocked(sh *shard) {
	if len(sh.entries) == 0 {
		return
	}
	now := c.clock.NowSecs()

	sampled := make([]eviction.Entry[Key], 0, c.cfg.SampleSize)
	for k, rec := range sh.entries {
		sampled = append(sampled, eviction.Entry[Key]{
			Key:        k,
			Score:      c.cfg.Policy.Score(statsOf(rec), now),
			LastAccess: rec.LastAccess(),
		})
		if len(sampled) >= c.cfg.SampleSize {
			break
		}
	}

	victims := eviction.SelectForEviction(sampled, c.cfg.EvictCount)
	for _, k := range victims {
		delete(sh.entries, k)
	}

	if len(victims) > 0 {
		c.metrics.recordEvictions(uint64(len(victims)))
		c.metrics.recordBatchEviction()
	}
}

func statsOf(rec *Record) eviction.Stats {
	return eviction.Stats{
		Hits:       rec.HitCount(),
		InsertedAt: rec.InsertedAt,
		LastAccess: rec.LastAccess(),
	}
}

// inflightRefreshes tracks which (domain, type) keys currently have a
// background optimistic refresh running, enforcing at most one in flight
// per key as required by §4.4.
type inflightRefreshes struct {
	mu sync.Mutex
	m  map[Key]struct{}
}

// tryStart reports whether it claimed the refresh slot for k; if another
// refresh is already running for k, it returns false without blocking.
func (r *inflightRefreshes) tryStart(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[k]; ok {
		return false
	}
	r.m[k] = struct{}{}
	return true
}

func (r *inflightRefreshes) finish(k Key) {
	r.mu.Lock()
	delete(r.m, k)
	r.mu.Unlock()
}
