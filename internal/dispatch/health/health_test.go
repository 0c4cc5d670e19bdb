package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnknownUntilObserved(t *testing.T) {
	c := New(DefaultConfig())
	assert.Equal(t, StatusUnknown, c.Status("1.1.1.1:53"))
	assert.True(t, c.IsHealthy("1.1.1.1:53"))
}

func TestConsecutiveFailuresFlipToUnhealthy(t *testing.T) {
	c := New(Config{FailureThreshold: 3, SuccessThreshold: 2})
	ep := "9.9.9.9:53"

	c.RecordFailure(ep)
	c.RecordFailure(ep)
	assert.Equal(t, StatusUnknown, c.Status(ep))

	c.RecordFailure(ep)
	assert.Equal(t, StatusUnhealthy, c.Status(ep))
	assert.False(t, c.IsHealthy(ep))
}

func TestConsecutiveSuccessesFlipToHealthy(t *testing.T) {
	c := New(Config{FailureThreshold: 3, SuccessThreshold: 2})
	ep := "8.8.8.8:53"

	c.RecordSuccess(ep)
	assert.Equal(t, StatusUnknown, c.Status(ep))
	c.RecordSuccess(ep)
	assert.Equal(t, StatusHealthy, c.Status(ep))
}

func TestUnhealthyRecoversAfterSuccessThreshold(t *testing.T) {
	c := New(Config{FailureThreshold: 2, SuccessThreshold: 2})
	ep := "1.0.0.1:53"

	c.RecordFailure(ep)
	c.RecordFailure(ep)
	require := assert.New(t)
	require.Equal(StatusUnhealthy, c.Status(ep))

	c.RecordSuccess(ep)
	require.Equal(StatusUnhealthy, c.Status(ep)) // only one success so far
	c.RecordSuccess(ep)
	require.Equal(StatusHealthy, c.Status(ep))
}

func TestFailureInterruptsSuccessStreak(t *testing.T) {
	c := New(Config{FailureThreshold: 2, SuccessThreshold: 3})
	ep := "203.0.113.1:53"

	c.RecordSuccess(ep)
	c.RecordSuccess(ep)
	c.RecordFailure(ep) // breaks the success streak before it hits threshold
	c.RecordSuccess(ep)
	c.RecordSuccess(ep)
	assert.NotEqual(t, StatusHealthy, c.Status(ep))
}

func TestSnapshotReportsAllObservedEndpoints(t *testing.T) {
	c := New(DefaultConfig())
	c.RecordSuccess("a:53")
	c.RecordFailure("b:53")

	snap := c.Snapshot()
	assert.Len(t, snap, 2)
	assert.Contains(t, snap, "a:53")
	assert.Contains(t, snap, "b:53")
}
