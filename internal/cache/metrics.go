package cache

import "sync/atomic"

// Metrics is the process-wide atomic counter block for the answer cache.
// hits and misses are touched on every single lookup, so they are isolated
// on their own cache line away from the cold counters below; without the
// padding, a write to `insertions` on one CPU would bounce the cache line
// backing `hits` on every other CPU doing lookups.
type Metrics struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	_      [48]byte // pad hot pair out to a 64-byte line

	insertions         atomic.Uint64
	evictions          atomic.Uint64
	optimisticRefreshes atomic.Uint64
	lazyDeletions      atomic.Uint64
	compactions        atomic.Uint64
	batchEvictions     atomic.Uint64
}

// Snapshot is a point-in-time copy of Metrics suitable for export.
type Snapshot struct {
	Hits                uint64
	Misses              uint64
	Insertions          uint64
	Evictions           uint64
	OptimisticRefreshes uint64
	LazyDeletions       uint64
	Compactions         uint64
	BatchEvictions      uint64
}

// HitRate returns hits/(hits+misses), or 0 when there have been no lookups.
func (s Snapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (m *Metrics) recordHit()                { m.hits.Add(1) }
func (m *Metrics) recordMiss()               { m.misses.Add(1) }
func (m *Metrics) recordInsertion()          { m.insertions.Add(1) }
func (m *Metrics) recordEvictions(n uint64)  { m.evictions.Add(n) }
func (m *Metrics) recordOptimisticRefresh()  { m.optimisticRefreshes.Add(1) }
func (m *Metrics) recordLazyDeletion()       { m.lazyDeletions.Add(1) }
func (m *Metrics) recordCompaction()         { m.compactions.Add(1) }
func (m *Metrics) recordBatchEviction()      { m.batchEvictions.Add(1) }

// Snapshot copies every counter out as a consistent-enough point-in-time
// view; individual fields may interleave with concurrent writers, which is
// acceptable for metrics export.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Hits:                m.hits.Load(),
		Misses:              m.misses.Load(),
		Insertions:          m.insertions.Load(),
		Evictions:           m.evictions.Load(),
		OptimisticRefreshes: m.optimisticRefreshes.Load(),
		LazyDeletions:       m.lazyDeletions.Load(),
		Compactions:         m.compactions.Load(),
		BatchEvictions:      m.batchEvictions.Load(),
	}
}
