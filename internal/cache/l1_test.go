package cache

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL1InsertThenGet(t *testing.T) {
	l1 := NewL1()
	addrs := []net.IP{net.ParseIP("1.2.3.4")}
	l1.Insert("example.com", TypeA, addrs, 1000)

	got, found := l1.Get("example.com", TypeA, 500)
	require.True(t, found)
	assert.Equal(t, addrs, got)
}

func TestL1ExpiredEntryIsEvictedOnRead(t *testing.T) {
	l1 := NewL1()
	l1.Insert("example.com", TypeA, nil, 100)

	_, found := l1.Get("example.com", TypeA, 200)
	assert.False(t, found)
	assert.Equal(t, 0, l1.Len())
}

func TestL1EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	l1 := NewL1()
	for i := 0; i < l1Capacity; i++ {
		l1.Insert(string(rune('a'+i%26))+string(rune(i)), TypeA, nil, 10_000)
	}
	require.Equal(t, l1Capacity, l1.Len())

	// Touch the very first key so it's no longer the LRU victim.
	firstDomain := string(rune('a')) + string(rune(0))
	l1.Get(firstDomain, TypeA, 0)

	l1.Insert("overflow.example.com", TypeA, nil, 10_000)
	assert.Equal(t, l1Capacity, l1.Len())

	_, stillPresent := l1.Get(firstDomain, TypeA, 0)
	assert.True(t, stillPresent)
}

func TestL1DistinguishesRecordTypes(t *testing.T) {
	l1 := NewL1()
	l1.Insert("example.com", TypeA, []net.IP{net.ParseIP("1.1.1.1")}, 10_000)
	l1.Insert("example.com", TypeAAAA, []net.IP{net.ParseIP("::1")}, 10_000)

	a, _ := l1.Get("example.com", TypeA, 0)
	aaaa, _ := l1.Get("example.com", TypeAAAA, 0)
	assert.NotEqual(t, a, aaaa)
}
