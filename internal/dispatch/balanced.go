package dispatch

import (
	"context"
	"math"
	"math/rand"
	"sync"
)

// latencyTracker keeps an exponentially-decayed recent-latency estimate per
// server, used by BalancedStrategy to weight its random selection. The
// weighting formula is explicitly left open by spec §9 ("any monotonic
// prefer-lower-latency, prefer-higher-weight function... satisfies the
// contract"); this is one reasonable choice, not the only one.
type latencyTracker struct {
	mu      sync.Mutex
	ewmaMs  map[string]float64
}

const latencyDecay = 0.3 // weight given to the newest observation

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{ewmaMs: make(map[string]float64)}
}

func (lt *latencyTracker) observe(server string, latencyMs int64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	prev, ok := lt.ewmaMs[server]
	if !ok {
		lt.ewmaMs[server] = float64(latencyMs)
		return
	}
	lt.ewmaMs[server] = latencyDecay*float64(latencyMs) + (1-latencyDecay)*prev
}

func (lt *latencyTracker) estimate(server string) float64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if v, ok := lt.ewmaMs[server]; ok {
		return v
	}
	return 50 // optimistic default for never-queried servers
}

// BalancedStrategy distributes queries across servers weighted by
// configured Weight and inverse recent latency, falling back to the next
// pick on a per-query failure.
type BalancedStrategy struct {
	latency *latencyTracker
}

// NewBalancedStrategy constructs a BalancedStrategy with its own latency
// tracker. Share one instance across calls so the EWMA actually learns.
func NewBalancedStrategy() *BalancedStrategy {
	return &BalancedStrategy{latency: newLatencyTracker()}
}

func (b *BalancedStrategy) Query(ctx context.Context, d *Dispatcher, qctx QueryContext) (UpstreamResult, error) {
	candidates := d.healthyServers(qctx.Servers)
	if len(candidates) == 0 {
		candidates = qctx.Servers
	}
	if len(candidates) == 0 {
		return UpstreamResult{}, ErrTransportNoHealthyServers
	}

	remaining := append([]Server(nil), candidates...)
	var lastErr error

	for len(remaining) > 0 {
		idx := b.pick(remaining)
		server := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)

		result, err := d.exchangeOne(ctx, qctx, server)
		if err != nil {
			lastErr = err
			continue
		}
		b.latency.observe(server.Addr, result.LatencyMs)
		return result, nil
	}

	if lastErr != nil {
		return UpstreamResult{}, ErrTransportAllServersUnreachable
	}
	return UpstreamResult{}, ErrTransportNoHealthyServers
}

// pick chooses an index via weighted random selection: weight =
// configured_weight * 1/(1+latency_ms), so lower-latency and higher-weight
// servers are proportionally more likely without ever being excluded.
func (b *BalancedStrategy) pick(servers []Server) int {
	weights := make([]float64, len(servers))
	var total float64
	for i, s := range servers {
		w := s.Weight
		if w <= 0 {
			w = 1
		}
		latencyFactor := 1 / (1 + b.latency.estimate(s.Addr))
		weights[i] = w * latencyFactor
		total += weights[i]
	}
	if total <= 0 || math.IsNaN(total) {
		return rand.Intn(len(servers))
	}

	r := rand.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return i
		}
	}
	return len(servers) - 1
}
