package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxhound-dns/resolver/internal/clock"
)

func TestRefreshCycleRefreshesPopularNearExpiryEntry(t *testing.T) {
	clk := clock.New(5 * time.Millisecond)
	defer clk.Stop()
	c := New(DefaultConfig(), clk)

	k := NewKey("hot.example.com", TypeA)
	now := clk.NowSecs()
	rec := NewRecord(nil, now-55, 60, 60, DNSSECUnknown) // 5s remaining
	for i := 0; i < 10; i++ {
		rec.RecordHit(now)
	}
	c.Insert(k, rec)

	var calls atomic.Int64
	refreshFn := func(ctx context.Context, key Key) (*Record, error) {
		calls.Add(1)
		return NewRecord(nil, clk.NowSecs(), 120, 120, DNSSECUnknown), nil
	}

	outcome := c.RunRefreshCycle(context.Background(), RefreshConfig{TTLThresholdSecs: 10, PopularityFloor: 5}, refreshFn)
	assert.Equal(t, 1, outcome.CandidatesFound)
	assert.Equal(t, 1, outcome.Refreshed)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, uint64(1), c.MetricsSnapshot().OptimisticRefreshes)
}

func TestRefreshCycleSkipsEntriesBelowPopularityFloor(t *testing.T) {
	clk := clock.New(5 * time.Millisecond)
	defer clk.Stop()
	c := New(DefaultConfig(), clk)

	k := NewKey("quiet.example.com", TypeA)
	now := clk.NowSecs()
	rec := NewRecord(nil, now-55, 60, 60, DNSSECUnknown)
	c.Insert(k, rec)

	calledOnce := false
	outcome := c.RunRefreshCycle(context.Background(), RefreshConfig{TTLThresholdSecs: 10, PopularityFloor: 5}, func(ctx context.Context, key Key) (*Record, error) {
		calledOnce = true
		return nil, nil
	})
	assert.Equal(t, 0, outcome.CandidatesFound)
	assert.False(t, calledOnce)
}

func TestRefreshKeyRefreshesWithoutScanningOtherShards(t *testing.T) {
	clk := clock.New(5 * time.Millisecond)
	defer clk.Stop()
	c := New(DefaultConfig(), clk)

	k := NewKey("hot.example.com", TypeA)
	c.Insert(k, NewRecord(nil, clk.NowSecs()-55, 60, 60, DNSSECUnknown))

	done := make(chan struct{})
	var calls atomic.Int64
	c.RefreshKey(context.Background(), k, func(ctx context.Context, key Key) (*Record, error) {
		calls.Add(1)
		close(done)
		return NewRecord(nil, clk.NowSecs(), 120, 120, DNSSECUnknown), nil
	})
	<-done

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, uint64(1), c.MetricsSnapshot().OptimisticRefreshes)
}

func TestRefreshKeyNeverDuplicatesInFlightRefresh(t *testing.T) {
	clk := clock.New(5 * time.Millisecond)
	defer clk.Stop()
	c := New(DefaultConfig(), clk)

	k := NewKey("popular.example.com", TypeA)
	require.True(t, c.inflight.tryStart(k))
	defer c.inflight.finish(k)

	var calls atomic.Int64
	c.RefreshKey(context.Background(), k, func(ctx context.Context, key Key) (*Record, error) {
		calls.Add(1)
		return NewRecord(nil, clk.NowSecs(), 120, 120, DNSSECUnknown), nil
	})

	assert.Equal(t, int64(0), calls.Load())
}

func TestRefreshCycleNeverDuplicatesInFlightRefresh(t *testing.T) {
	clk := clock.New(5 * time.Millisecond)
	defer clk.Stop()
	c := New(DefaultConfig(), clk)

	k := NewKey("popular.example.com", TypeA)
	require.True(t, c.inflight.tryStart(k))
	defer c.inflight.finish(k)

	now := clk.NowSecs()
	rec := NewRecord(nil, now-55, 60, 60, DNSSECUnknown)
	for i := 0; i < 10; i++ {
		rec.RecordHit(now)
	}
	c.Insert(k, rec)

	var calls atomic.Int64
	outcome := c.RunRefreshCycle(context.Background(), RefreshConfig{TTLThresholdSecs: 10, PopularityFloor: 5}, func(ctx context.Context, key Key) (*Record, error) {
		calls.Add(1)
		return NewRecord(nil, clk.NowSecs(), 120, 120, DNSSECUnknown), nil
	})

	assert.Equal(t, 1, outcome.CandidatesFound)
	assert.Equal(t, 0, outcome.Refreshed)
	assert.Equal(t, int64(0), calls.Load())
}
