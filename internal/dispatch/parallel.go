package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelStrategy fires every candidate concurrently and takes the first
// successful response, canceling the rest. Losing branches are canceled
// via ctx and must not be treated as successes; exchangeOne recognizes
// context.Canceled and skips health/event recording for them, since a
// canceled branch observed no real failure of its upstream.
type ParallelStrategy struct{}

func (ParallelStrategy) Query(ctx context.Context, d *Dispatcher, qctx QueryContext) (UpstreamResult, error) {
	candidates := d.healthyServers(qctx.Servers)
	if len(candidates) == 0 {
		candidates = qctx.Servers
	}
	if len(candidates) == 0 {
		return UpstreamResult{}, ErrTransportNoHealthyServers
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(raceCtx)
	results := make(chan UpstreamResult, len(candidates))

	for _, server := range candidates {
		server := server
		g.Go(func() error {
			result, err := d.exchangeOne(gCtx, qctx, server)
			if err != nil {
				return nil // a failed branch must not cancel its siblings
			}
			select {
			case results <- result:
				cancel() // first success wins; cancel the remaining branches
			case <-gCtx.Done():
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case result := <-results:
		return result, nil
	case <-done:
		select {
		case result := <-results:
			return result, nil
		default:
			return UpstreamResult{}, ErrTransportAllServersUnreachable
		}
	}
}
