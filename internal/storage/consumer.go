package storage

import (
	"context"

	"github.com/foxhound-dns/resolver/internal/events"
)

// RunEventConsumer drains bus and persists every event via store, until
// bus is closed or ctx is canceled. This is the glue between the
// resolution hot path's event emission (internal/events.Bus) and the
// external query-log collaborator; it is the only thing that ever reads
// QueryEvents off the bus in normal operation.
func RunEventConsumer(ctx context.Context, bus *events.Bus, store Storage) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-bus.Events():
			if !ok {
				return
			}
			_ = store.LogQuery(ctx, QueryLog{
				Timestamp:      evt.Timestamp,
				Domain:         evt.Domain,
				RecordType:     evt.RecordType,
				UpstreamServer: evt.UpstreamServer,
				LatencyUs:      evt.LatencyUs,
				Success:        evt.Success,
				PoolName:       evt.PoolName,
			})
		}
	}
}
