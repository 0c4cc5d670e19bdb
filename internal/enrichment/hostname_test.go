package enrichment

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/foxhound-dns/resolver/internal/dispatch"
	"github.com/foxhound-dns/resolver/internal/dispatch/health"
)

// mockPTRUpstream answers every query with a fixed PTR record, grounded on
// internal/dispatch's own mockUpstream test helper.
func mockPTRUpstream(t *testing.T, hostname string) (string, func()) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := pc.LocalAddr().String()
	done := make(chan struct{})

	go func() {
		defer close(done)
		buf := make([]byte, 512)
		for {
			n, clientAddr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			req := new(dns.Msg)
			if err := req.Unpack(buf[:n]); err != nil {
				continue
			}
			resp := new(dns.Msg)
			resp.SetReply(req)
			if hostname != "" && len(req.Question) > 0 {
				rr, _ := dns.NewRR(req.Question[0].Name + " 60 IN PTR " + hostname + ".")
				resp.Answer = append(resp.Answer, rr)
			}
			packed, err := resp.Pack()
			if err != nil {
				continue
			}
			_, _ = pc.WriteTo(packed, clientAddr)
		}
	}()

	return addr, func() { _ = pc.Close(); <-done }
}

func TestDispatcherHostnameResolverReturnsPTRTarget(t *testing.T) {
	addr, stop := mockPTRUpstream(t, "laptop.lan")
	defer stop()

	d := dispatch.New(health.New(health.DefaultConfig()))
	resolver := NewDispatcherHostnameResolver(d, dispatch.FailoverStrategy{}, []dispatch.Server{{Addr: addr}}, 1000)

	hostname, ok, err := resolver.ResolveHostname(context.Background(), net.ParseIP("192.168.1.1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "laptop.lan", hostname)
}

func TestDispatcherHostnameResolverNoPTRRecordReturnsNotOK(t *testing.T) {
	addr, stop := mockPTRUpstream(t, "")
	defer stop()

	d := dispatch.New(health.New(health.DefaultConfig()))
	resolver := NewDispatcherHostnameResolver(d, dispatch.FailoverStrategy{}, []dispatch.Server{{Addr: addr}}, 1000)

	_, ok, err := resolver.ResolveHostname(context.Background(), net.ParseIP("10.0.0.5"))
	require.NoError(t, err)
	require.False(t, ok)
}
