package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/foxhound-dns/resolver/internal/dispatch/health"
)

// StrategyKind selects which of the three dispatch strategies a pool uses.
type StrategyKind uint8

const (
	StrategyParallel StrategyKind = iota
	StrategyFailover
	StrategyBalanced
)

// Strategy queries a candidate server list under qctx and returns the
// first usable result.
type Strategy interface {
	Query(ctx context.Context, d *Dispatcher, qctx QueryContext) (UpstreamResult, error)
}

// Dispatcher owns the connection pool and health checker shared by every
// strategy. One Dispatcher typically serves every upstream pool in the
// resolver; QueryContext.Servers scopes a call to a specific pool.
type Dispatcher struct {
	clientPool sync.Pool
	health     *health.Checker
}

// New constructs a Dispatcher backed by checker (use health.New(...) or
// share one checker across dispatchers if desired).
func New(checker *health.Checker) *Dispatcher {
	d := &Dispatcher{health: checker}
	d.clientPool.New = func() any {
		return &dns.Client{Net: "udp"}
	}
	return d
}

// Health exposes the underlying checker for observability snapshots.
func (d *Dispatcher) Health() *health.Checker {
	return d.health
}

// Query dispatches qctx using the given strategy.
func (d *Dispatcher) Query(ctx context.Context, strategy Strategy, qctx QueryContext) (UpstreamResult, error) {
	return strategy.Query(ctx, d, qctx)
}

// exchangeOne performs a single upstream exchange, recording the outcome
// with the health checker and emitting a QueryEvent regardless of outcome.
// It is the single place strategies go through to talk to an upstream, so
// every attempt is observed uniformly.
func (d *Dispatcher) exchangeOne(ctx context.Context, qctx QueryContext, server Server) (UpstreamResult, error) {
	client := d.clientPool.Get().(*dns.Client)
	defer d.clientPool.Put(client)

	ctx, cancel := context.WithTimeout(ctx, qctx.timeout())
	defer cancel()

	msg := buildQuery(qctx.Domain, qctx.RecordType, qctx.DNSSECOk)

	start := time.Now()
	resp, _, err := client.ExchangeContext(ctx, msg, server.Addr)
	latency := time.Since(start)

	if err != nil || resp == nil {
		// A branch canceled because a sibling already won (ParallelStrategy)
		// observed no real failure: don't let it push a healthy upstream
		// toward Unhealthy or emit a spurious failed QueryEvent. A genuine
		// deadline exceeding qctx.timeout() still counts.
		if !errors.Is(ctx.Err(), context.Canceled) {
			d.health.RecordFailure(server.Addr)
			emit(qctx, server.Addr, latency, false)
		}
		return UpstreamResult{}, ErrTransportTimeout
	}

	if resp.Id != msg.Id || len(resp.Question) == 0 || resp.Question[0].Name != msg.Question[0].Name {
		// Mismatched transaction id or question section: discard per spec §6.
		d.health.RecordFailure(server.Addr)
		emit(qctx, server.Addr, latency, false)
		return UpstreamResult{}, ErrTransportTimeout
	}

	d.health.RecordSuccess(server.Addr)
	emit(qctx, server.Addr, latency, true)

	return UpstreamResult{
		Response:      resp,
		ServerAddr:    server.Addr,
		LatencyMs:     latency.Milliseconds(),
		PoolName:      qctx.PoolName,
		ServerDisplay: server.Addr,
	}, nil
}

// healthyServers filters qctx.Servers down to those the health checker
// does not consider Unhealthy, preserving input order.
func (d *Dispatcher) healthyServers(servers []Server) []Server {
	out := make([]Server, 0, len(servers))
	for _, s := range servers {
		if d.health.IsHealthy(s.Addr) {
			out = append(out, s)
		}
	}
	return out
}
