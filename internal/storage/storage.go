// Package storage is the query-log persistence layer: an external
// collaborator that drains internal/events.Bus and writes a bounded,
// batched SQLite log, used by the admin API's history/statistics
// endpoints. It sits entirely off the resolution hot path. Adapted from
// the teacher's pkg/storage (SQLiteStorage's buffered-channel writer),
// trimmed to the one QueryLog table this spec actually needs (no D1
// backend, no domain/client statistics tables).
package storage

import (
	"context"
	"time"
)

// Storage is the persistence contract the admin API depends on.
type Storage interface {
	LogQuery(ctx context.Context, entry QueryLog) error
	RecentQueries(ctx context.Context, limit int) ([]QueryLog, error)
	Statistics(ctx context.Context, since time.Time) (Statistics, error)
	Cleanup(ctx context.Context, olderThan time.Time) error
	Close() error
	Ping(ctx context.Context) error
}

// QueryLog is one persisted resolution outcome, mirroring
// internal/events.QueryEvent plus a storage-assigned id.
type QueryLog struct {
	ID             int64
	Timestamp      time.Time
	Domain         string
	RecordType     uint16
	UpstreamServer string
	LatencyUs      int64
	Success        bool
	PoolName       string
}

// Statistics summarizes query volume over a window.
type Statistics struct {
	Since        time.Time
	Until        time.Time
	TotalQueries int64
	Failures     int64
	AvgLatencyUs float64
}

// Config controls the SQLite backend.
type Config struct {
	Enabled       bool
	Path          string
	BusyTimeoutMs int
	CacheSizeKB   int
	WALMode       bool
	BufferSize    int
	FlushInterval time.Duration
	BatchSize     int
	RetentionDays int
}

// DefaultConfig mirrors the teacher's storage defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Path:          "./resolver.db",
		BusyTimeoutMs: 5000,
		CacheSizeKB:   10000,
		WALMode:       true,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
		RetentionDays: 7,
	}
}
