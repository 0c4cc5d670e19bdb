package dispatch

import (
	"context"

	"github.com/foxhound-dns/resolver/internal/dispatch/health"
)

// FailoverStrategy iterates the pool in order, trying the next server on
// any failure. Used when upstream cost makes firing every server at once
// wasteful.
type FailoverStrategy struct{}

func (FailoverStrategy) Query(ctx context.Context, d *Dispatcher, qctx QueryContext) (UpstreamResult, error) {
	if len(qctx.Servers) == 0 {
		return UpstreamResult{}, ErrTransportNoHealthyServers
	}
	// Healthy servers are tried first and Unknown ones only after them, each
	// in pool order; when every server is Unhealthy the whole pool is tried
	// rather than failing outright.
	var healthy, unknown []Server
	for _, s := range qctx.Servers {
		switch d.health.Status(s.Addr) {
		case health.StatusHealthy:
			healthy = append(healthy, s)
		case health.StatusUnknown:
			unknown = append(unknown, s)
		}
	}
	candidates := append(healthy, unknown...)
	if len(candidates) == 0 {
		candidates = qctx.Servers
	}

	var lastErr error
	for _, server := range candidates {
		result, err := d.exchangeOne(ctx, qctx, server)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return UpstreamResult{}, ErrTransportAllServersUnreachable
	}
	return UpstreamResult{}, ErrTransportNoHealthyServers
}
