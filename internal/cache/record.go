package cache

import (
	"net"
	"sync/atomic"
)

// DNSSECStatus captures the validation outcome attached to a cached answer.
type DNSSECStatus uint8

const (
	DNSSECUnknown DNSSECStatus = iota
	DNSSECSecure
	DNSSECInsecure
	DNSSECBogus
)

// counters is the fixed-layout atomic block embedded in every entry. It is
// updated on the hot get/insert path without taking any lock; only
// MarkedForDeletion needs acquire-release semantics so a reader that
// observes it set also observes every write that preceded the mark.
type counters struct {
	hitCount         atomic.Uint64
	lastAccessSecs   atomic.Uint64
	markedForDeletion atomic.Bool
}

// Record is a cached answer: a shared, immutable set of addresses plus the
// bookkeeping needed for expiry, eviction scoring, and lazy deletion.
//
// Addresses is never mutated after construction, so concurrent Get calls
// may safely share the same slice with no copying.
type Record struct {
	Addresses    []net.IP
	InsertedAt   uint64 // coarse seconds
	TTLSecs      uint32
	MinTTL       uint32
	DNSSECStatus DNSSECStatus
	CNAMETarget  string

	counters counters
}

// NewRecord constructs a record ready for insertion. ttlSecs must be > 0.
func NewRecord(addresses []net.IP, insertedAt uint64, ttlSecs uint32, minTTL uint32, status DNSSECStatus) *Record {
	r := &Record{
		Addresses:    addresses,
		InsertedAt:   insertedAt,
		TTLSecs:      ttlSecs,
		MinTTL:       minTTL,
		DNSSECStatus: status,
	}
	r.counters.lastAccessSecs.Store(insertedAt)
	return r
}

// Expired reports whether the record's TTL has elapsed as of now.
func (r *Record) Expired(now uint64) bool {
	return now-r.InsertedAt >= uint64(r.TTLSecs)
}

// MarkedForDeletion reports the lazy-deletion flag with acquire semantics.
func (r *Record) MarkedForDeletion() bool {
	return r.counters.markedForDeletion.Load()
}

// MarkForDeletion flips the lazy-deletion flag with release semantics; once
// set, the record is never again returned as a hit.
func (r *Record) MarkForDeletion() {
	r.counters.markedForDeletion.Store(true)
}

// RecordHit bumps the hit counter and last-access timestamp. Two concurrent
// hits on the same record are both valid; increments are not serialized
// against each other.
func (r *Record) RecordHit(now uint64) {
	r.counters.hitCount.Add(1)
	r.counters.lastAccessSecs.Store(now)
}

// HitCount returns the current hit counter.
func (r *Record) HitCount() uint64 {
	return r.counters.hitCount.Load()
}

// LastAccess returns the coarse-seconds timestamp of the last hit.
func (r *Record) LastAccess() uint64 {
	return r.counters.lastAccessSecs.Load()
}

// remainingTTL returns the seconds left before expiry, floored at zero.
func (r *Record) remainingTTL(now uint64) uint32 {
	elapsed := now - r.InsertedAt
	if elapsed >= uint64(r.TTLSecs) {
		return 0
	}
	return r.TTLSecs - uint32(elapsed)
}

// seedHitCount carries forward a previous entry's popularity signal when a
// refresh overwrites the same (domain, type) key.
func (r *Record) seedHitCount(previous uint64) {
	r.counters.hitCount.Store(previous)
}
