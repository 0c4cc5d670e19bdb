package enrichment

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/foxhound-dns/resolver/internal/dispatch"
)

// DispatcherHostnameResolver issues a PTR query through the same upstream
// dispatcher the resolver uses for forward lookups, rather than the
// process's OS resolver — so a client's reverse lookup honors the same
// pools/strategy/health state as everything else. Grounded on
// original_source's PtrHostnameResolver (in-addr.arpa/ip6.arpa reverse-name
// construction, tested against fixed IPv4/IPv6 examples), adapted to issue
// the query via this module's own dispatcher instead of an OS resolver
// call.
type DispatcherHostnameResolver struct {
	dispatcher *dispatch.Dispatcher
	strategy   dispatch.Strategy
	servers    []dispatch.Server
	timeoutMs  int
}

// NewDispatcherHostnameResolver builds a resolver that queries servers
// using strategy.
func NewDispatcherHostnameResolver(d *dispatch.Dispatcher, strategy dispatch.Strategy, servers []dispatch.Server, timeoutMs int) *DispatcherHostnameResolver {
	return &DispatcherHostnameResolver{dispatcher: d, strategy: strategy, servers: servers, timeoutMs: timeoutMs}
}

// ResolveHostname performs a PTR lookup for ip.
func (r *DispatcherHostnameResolver) ResolveHostname(ctx context.Context, ip net.IP) (string, bool, error) {
	reverse, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", false, err
	}

	result, err := r.dispatcher.Query(ctx, r.strategy, dispatch.QueryContext{
		Servers:    r.servers,
		Domain:     reverse,
		RecordType: dns.TypePTR,
		TimeoutMs:  r.timeoutMs,
	})
	if err != nil {
		return "", false, nil // no PTR record or unreachable — not an error for enrichment purposes
	}

	for _, rr := range result.Response.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), true, nil
		}
	}
	return "", false, nil
}
