// Package health implements the upstream health checker (C9): a per-
// endpoint Unknown/Healthy/Unhealthy state machine driven purely by
// consecutive failure/success counting, with every state read available
// lock-free. Grounded structurally on the teacher's
// pkg/forwarder.CircuitBreaker (atomic state + atomic counters, no mutex on
// the hot path), but re-specified per spec §4.9 and original_source's
// domain/config/health.rs + load_balancer/upstream_health_adapter.rs: no
// half-open probing, no timeout-based recovery window — just threshold
// hysteresis on consecutive outcomes.
package health

import (
	"sync"
	"sync/atomic"
)

// Status is one endpoint's health state.
type Status int32

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Config holds the consecutive-outcome thresholds. Defaults mirror
// original_source's domain/config/health.rs: failure_threshold=3,
// success_threshold=2.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2}
}

// endpointState is one endpoint's atomics: current status plus the
// consecutive-outcome counter that is reset whenever the outcome kind
// flips. Reads never take a lock.
type endpointState struct {
	status     atomic.Int32
	consecutive atomic.Int64 // consecutive count of the *current streak kind*
	streakIsFailure atomic.Bool
}

// Checker tracks health per named endpoint (typically "host:port"),
// updated through RecordSuccess/RecordFailure. In this module those calls
// come only from observations of real upstream queries (the dispatcher's
// exchangeOne); no periodic active probe runs.
type Checker struct {
	cfg       Config
	endpoints sync.Map // string -> *endpointState
}

// New constructs a Checker. Endpoints are created lazily on first
// RecordSuccess/RecordFailure/Status call, starting at StatusUnknown.
func New(cfg Config) *Checker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	return &Checker{cfg: cfg}
}

func (c *Checker) stateFor(endpoint string) *endpointState {
	if v, ok := c.endpoints.Load(endpoint); ok {
		return v.(*endpointState)
	}
	st := &endpointState{}
	st.status.Store(int32(StatusUnknown))
	actual, _ := c.endpoints.LoadOrStore(endpoint, st)
	return actual.(*endpointState)
}

// RecordSuccess registers a successful query/probe against endpoint. After
// success_threshold consecutive successes, the endpoint transitions to
// Healthy (from any prior state).
func (c *Checker) RecordSuccess(endpoint string) {
	st := c.stateFor(endpoint)

	if st.streakIsFailure.Load() {
		st.streakIsFailure.Store(false)
		st.consecutive.Store(0)
	}
	count := st.consecutive.Add(1)

	if count >= int64(c.cfg.SuccessThreshold) {
		st.status.Store(int32(StatusHealthy))
	}
}

// RecordFailure registers a failed query/probe against endpoint. After
// failure_threshold consecutive failures, the endpoint transitions to
// Unhealthy (from any prior state).
func (c *Checker) RecordFailure(endpoint string) {
	st := c.stateFor(endpoint)

	if !st.streakIsFailure.Load() {
		st.streakIsFailure.Store(true)
		st.consecutive.Store(0)
	}
	count := st.consecutive.Add(1)

	if count >= int64(c.cfg.FailureThreshold) {
		st.status.Store(int32(StatusUnhealthy))
	}
}

// Status returns endpoint's current health, StatusUnknown if never
// observed.
func (c *Checker) Status(endpoint string) Status {
	v, ok := c.endpoints.Load(endpoint)
	if !ok {
		return StatusUnknown
	}
	return Status(v.(*endpointState).status.Load())
}

// IsHealthy reports whether endpoint should be used by strategies that
// exclude known-bad servers. Unknown counts as usable: it means "never
// observed to fail", not "known healthy" — Failover's spec note is that
// Unknown is never preferred over a Healthy server, but is still tried
// when no Healthy server remains.
func (c *Checker) IsHealthy(endpoint string) bool {
	return c.Status(endpoint) != StatusUnhealthy
}

// Snapshot returns every known endpoint's current status, for the
// upstream_health() observability surface.
func (c *Checker) Snapshot() map[string]Status {
	out := make(map[string]Status)
	c.endpoints.Range(func(key, value any) bool {
		out[key.(string)] = Status(value.(*endpointState).status.Load())
		return true
	})
	return out
}
