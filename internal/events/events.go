// Package events implements the query-event observability channel (C11):
// a bounded, non-blocking, multi-producer single-consumer queue that
// decouples the hot resolution path from whatever drains it (query
// logging, storage, metrics). Grounded on the teacher's
// pkg/dns.QueryLogger worker-pool pattern: a fixed-size buffered channel
// whose Emit drops and counts an event when the buffer is full, plus an
// explicit disabled mode.
package events

import (
	"sync/atomic"
	"time"
)

// QueryEvent is produced after every resolution, successful or not.
type QueryEvent struct {
	Domain        string
	RecordType    uint16
	UpstreamServer string
	LatencyUs     int64
	Success       bool
	PoolName      string
	Timestamp     time.Time
}

// Bus is the event channel. The zero value is not usable; construct with
// New or Disabled.
type Bus struct {
	ch       chan QueryEvent
	disabled bool
	dropped  atomic.Int64
}

// New constructs a Bus with an internal buffer. The buffer is large enough
// that a slow consumer essentially never forces a drop under normal
// operation, but Emit never blocks regardless: when the buffer is full the
// event is dropped and counted, never queued by blocking the caller.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 8192
	}
	return &Bus{ch: make(chan QueryEvent, bufferSize)}
}

// Disabled returns a Bus that drops every event unconditionally, with no
// backing channel at all. Used in tests and anywhere the consumer side is
// not wired up.
func Disabled() *Bus {
	return &Bus{disabled: true}
}

// Emit is non-blocking: on a full buffer (or a disabled bus) the event is
// silently dropped and DroppedCount increments.
func (b *Bus) Emit(evt QueryEvent) {
	if b.disabled {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- evt:
	default:
		b.dropped.Add(1)
	}
}

// Events returns the receive-only channel for the single consumer to range
// over. Calling this on a Disabled bus returns a nil channel.
func (b *Bus) Events() <-chan QueryEvent {
	return b.ch
}

// DroppedCount reports how many events have been dropped due to a full
// buffer or a disabled bus — a relaxed statistical counter, not a
// synchronization signal, per spec §5's counter ordering policy.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

// Close closes the underlying channel so a ranging consumer terminates.
// Callers must ensure no further Emit calls happen after Close.
func (b *Bus) Close() {
	if !b.disabled {
		close(b.ch)
	}
}
