// Package eviction implements the answer cache's pluggable scoring
// policies, grounded on the original Rust implementation's
// cache/eviction/{lru,hit_rate,lfu,lfuk}.rs. Every policy scores an entry
// such that lower scores are evicted first.
package eviction

import "math"

// Stats is the subset of a cache record's state a policy needs to score it.
// It is a plain value so policies never touch the cache's internal atomics
// directly.
type Stats struct {
	Hits       uint64
	InsertedAt uint64
	LastAccess uint64
}

// Policy scores a record for eviction purposes; lower scores are evicted
// first. Ties are broken by the caller using the older LastAccess.
type Policy interface {
	Name() string
	Score(s Stats, nowSecs uint64) float64
}

// LRU scores purely by recency: the raw last-access timestamp, so older
// accesses sort first.
type LRU struct{}

func (LRU) Name() string { return "lru" }

func (LRU) Score(s Stats, _ uint64) float64 {
	return float64(s.LastAccess)
}

// HitRate combines frequency saturation with recency:
// hits/(hits+1) * 1/(age_since_last_access+1).
type HitRate struct{}

func (HitRate) Name() string { return "hit_rate" }

func (HitRate) Score(s Stats, now uint64) float64 {
	ageSinceAccess := float64(now - s.LastAccess)
	freqTerm := float64(s.Hits) / float64(s.Hits+1)
	recencyTerm := 1.0 / (ageSinceAccess + 1)
	return freqTerm * recencyTerm
}

// LFU scores by raw hit count, with a penalty for entries that never
// cleared a minimum-frequency floor: score = hits if hits >= minFrequency,
// else hits - minFrequency (a negative score, so it evicts before anything
// that ever cleared the floor).
type LFU struct {
	MinFrequency uint64
}

func (LFU) Name() string { return "lfu" }

func (p LFU) Score(s Stats, _ uint64) float64 {
	if s.Hits >= p.MinFrequency {
		return float64(s.Hits)
	}
	return float64(s.Hits) - float64(p.MinFrequency)
}

// LFUK is frequency decayed by age: score = hits / age^k * 1/(idle+1),
// where age = now - insertedAt and idle = now - lastAccess. k=0.5 is
// special-cased to use math.Sqrt directly rather than math.Pow. A score
// below MinScore has MinScore subtracted from it, which makes it negative
// for any positive MinScore, so below-floor items evict before any item
// that cleared the floor.
type LFUK struct {
	K        float64
	MinScore float64
}

func (LFUK) Name() string { return "lfu_k" }

func (p LFUK) Score(s Stats, now uint64) float64 {
	age := float64(now - s.InsertedAt)
	idle := float64(now - s.LastAccess)
	if age < 1 {
		age = 1
	}

	var ageDecay float64
	if p.K == 0.5 {
		ageDecay = math.Sqrt(age)
	} else {
		ageDecay = math.Pow(age, p.K)
	}

	score := float64(s.Hits) / ageDecay * (1.0 / (idle + 1))
	if score < p.MinScore {
		score -= p.MinScore
	}
	return score
}
