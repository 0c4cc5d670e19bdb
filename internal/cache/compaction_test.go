package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foxhound-dns/resolver/internal/clock"
)

func TestCompactRemovesExpiredAndMarkedEntries(t *testing.T) {
	clk := clock.New(5 * time.Millisecond)
	defer clk.Stop()
	c := New(DefaultConfig(), clk)

	now := clk.NowSecs()
	expired := NewRecord(nil, now-100, 1, 1, DNSSECUnknown)
	marked := NewRecord(nil, now, 60, 60, DNSSECUnknown)
	marked.MarkForDeletion()
	fresh := NewRecord(nil, now, 60, 60, DNSSECUnknown)

	c.Insert(NewKey("expired.com", TypeA), expired)
	c.Insert(NewKey("marked.com", TypeA), marked)
	c.Insert(NewKey("fresh.com", TypeA), fresh)

	removed := c.Compact()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(1), c.MetricsSnapshot().Compactions)
}

func TestCompactNoopDoesNotBumpCounter(t *testing.T) {
	clk := clock.New(5 * time.Millisecond)
	defer clk.Stop()
	c := New(DefaultConfig(), clk)
	c.Insert(NewKey("fresh.com", TypeA), NewRecord(nil, clk.NowSecs(), 60, 60, DNSSECUnknown))

	removed := c.Compact()
	assert.Equal(t, 0, removed)
	assert.Equal(t, uint64(0), c.MetricsSnapshot().Compactions)
}
