package main

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/foxhound-dns/resolver/internal/cache"
	"github.com/foxhound-dns/resolver/internal/cache/eviction"
	"github.com/foxhound-dns/resolver/internal/config"
	"github.com/foxhound-dns/resolver/internal/dispatch"
)

func TestFindPoolMatchesByName(t *testing.T) {
	pools := []config.PoolConfig{
		{Name: "primary"},
		{Name: "fallback"},
	}

	pool, ok := findPool(pools, "fallback")
	require.True(t, ok)
	require.Equal(t, "fallback", pool.Name)
}

func TestFindPoolFallsBackToFirstWhenNameMissing(t *testing.T) {
	pools := []config.PoolConfig{{Name: "primary"}}

	pool, ok := findPool(pools, "unknown")
	require.True(t, ok)
	require.Equal(t, "primary", pool.Name)
}

func TestFindPoolReturnsFalseWhenNoneConfigured(t *testing.T) {
	_, ok := findPool(nil, "primary")
	require.False(t, ok)
}

func TestStrategyForMapsKnownNames(t *testing.T) {
	require.IsType(t, dispatch.ParallelStrategy{}, strategyFor("parallel"))
	require.IsType(t, dispatch.FailoverStrategy{}, strategyFor("failover"))
	require.IsType(t, dispatch.FailoverStrategy{}, strategyFor("unknown"))

	_, ok := strategyFor("balanced").(*dispatch.BalancedStrategy)
	require.True(t, ok)
}

func TestEvictionPolicyForMapsKnownNames(t *testing.T) {
	require.Equal(t, eviction.HitRate{}, evictionPolicyFor(config.EvictionConfig{Policy: "hit_rate"}))
	require.Equal(t, eviction.LRU{}, evictionPolicyFor(config.EvictionConfig{Policy: "lru"}))
	require.Equal(t, eviction.LRU{}, evictionPolicyFor(config.EvictionConfig{Policy: ""}))

	lfu := evictionPolicyFor(config.EvictionConfig{Policy: "lfu", MinFrequency: 3})
	require.Equal(t, eviction.LFU{MinFrequency: 3}, lfu)

	lfuk := evictionPolicyFor(config.EvictionConfig{Policy: "lfuk", K: 2, MinScore: 0.5})
	require.Equal(t, eviction.LFUK{K: 2, MinScore: 0.5}, lfuk)
}

func TestRecordTypeForAcceptsSupportedQtypes(t *testing.T) {
	rt, ok := recordTypeFor(dns.TypeA)
	require.True(t, ok)
	require.Equal(t, cache.TypeA, rt)

	rt, ok = recordTypeFor(dns.TypePTR)
	require.True(t, ok)
	require.Equal(t, cache.TypePTR, rt)

	_, ok = recordTypeFor(dns.TypeSOA)
	require.False(t, ok)
}
