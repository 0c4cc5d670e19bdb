package cache

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxhound-dns/resolver/internal/clock"
)

func newTestCache(t *testing.T, cfg Config) (*Cache, *clock.Coarse) {
	t.Helper()
	clk := clock.New(5 * time.Millisecond)
	t.Cleanup(clk.Stop)
	return New(cfg, clk), clk
}

func TestGetMissOnAbsentKey(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	_, found := c.Get(NewKey("example.com", TypeA))
	assert.False(t, found)
	assert.Equal(t, uint64(1), c.MetricsSnapshot().Misses)
}

func TestInsertThenGetHits(t *testing.T) {
	c, clk := newTestCache(t, DefaultConfig())
	k := NewKey("example.com", TypeA)
	rec := NewRecord([]net.IP{net.ParseIP("1.2.3.4")}, clk.NowSecs(), 60, 60, DNSSECUnknown)

	c.Insert(k, rec)
	got, found := c.Get(k)
	require.True(t, found)
	assert.Equal(t, rec.Addresses, got.Addresses)
	assert.Equal(t, uint64(1), got.HitCount())
	assert.Equal(t, uint64(1), c.MetricsSnapshot().Hits)
	assert.Equal(t, uint64(1), c.MetricsSnapshot().Insertions)
}

func TestExpiredEntryIsLazilyDeleted(t *testing.T) {
	c, clk := newTestCache(t, DefaultConfig())
	k := NewKey("example.com", TypeA)
	// InsertedAt far enough in the past that the 1s TTL has already elapsed.
	rec := NewRecord([]net.IP{net.ParseIP("1.2.3.4")}, clk.NowSecs()-10, 1, 1, DNSSECUnknown)

	sh := c.shardFor(k)
	sh.entries[k] = rec

	_, found := c.Get(k)
	assert.False(t, found)
	assert.Equal(t, uint64(1), c.MetricsSnapshot().LazyDeletions)
	assert.Equal(t, 0, c.Len())
}

func TestMarkedForDeletionNeverHitsAgain(t *testing.T) {
	c, clk := newTestCache(t, DefaultConfig())
	k := NewKey("example.com", TypeA)
	rec := NewRecord([]net.IP{net.ParseIP("1.2.3.4")}, clk.NowSecs(), 60, 60, DNSSECUnknown)
	c.Insert(k, rec)
	rec.MarkForDeletion()

	_, found := c.Get(k)
	assert.False(t, found)
}

func TestInsertCarriesForwardHitCountOnRefresh(t *testing.T) {
	c, clk := newTestCache(t, DefaultConfig())
	k := NewKey("example.com", TypeA)
	first := NewRecord([]net.IP{net.ParseIP("1.2.3.4")}, clk.NowSecs(), 60, 60, DNSSECUnknown)
	c.Insert(k, first)

	for i := 0; i < 5; i++ {
		c.Get(k)
	}

	second := NewRecord([]net.IP{net.ParseIP("5.6.7.8")}, clk.NowSecs(), 60, 60, DNSSECUnknown)
	c.Insert(k, second)

	got, found := c.Get(k)
	require.True(t, found)
	assert.GreaterOrEqual(t, got.HitCount(), uint64(5))
}

func TestRemoveReportsPresence(t *testing.T) {
	c, clk := newTestCache(t, DefaultConfig())
	k := NewKey("example.com", TypeA)
	assert.False(t, c.Remove(k))

	c.Insert(k, NewRecord(nil, clk.NowSecs(), 60, 60, DNSSECUnknown))
	assert.True(t, c.Remove(k))
	assert.False(t, c.Remove(k))
}

func TestBatchEvictionTriggersAtHighWatermark(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShardCount = 1
	cfg.HighWatermark = 4
	cfg.SampleSize = 10
	cfg.EvictCount = 2

	c, clk := newTestCache(t, cfg)
	for i := 0; i < 5; i++ {
		k := NewKey(string(rune('a'+i))+".example.com", TypeA)
		c.Insert(k, NewRecord(nil, clk.NowSecs(), 60, 60, DNSSECUnknown))
	}

	assert.Less(t, c.Len(), 5)
	assert.Greater(t, c.MetricsSnapshot().Evictions, uint64(0))
	assert.Equal(t, uint64(1), c.MetricsSnapshot().BatchEvictions)
}
