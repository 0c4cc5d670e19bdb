package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxhound-dns/resolver/internal/dispatch/health"
	"github.com/foxhound-dns/resolver/internal/events"
)

// mockUpstream runs a minimal UDP DNS server that either never responds
// (when respondWithIP is empty) or answers every query with
// a fixed A record, grounded on the teacher's pkg/forwarder mockDNSServer.
func mockUpstream(t *testing.T, respondWithIP string) (string, func()) {
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
			if respondWithIP == "" {
				continue // simulate an unresponsive upstream
			}

			resp := new(dns.Msg)
			resp.SetReply(req)
			if len(req.Question) > 0 {
				rr, _ := dns.NewRR(req.Question[0].Name + " 60 IN A " + respondWithIP)
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

// mockSlowUpstream answers every query after delay, so a race against a
// faster server deterministically loses.
func mockSlowUpstream(t *testing.T, respondWithIP string, delay time.Duration) (string, func()) {
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
			time.Sleep(delay)

			resp := new(dns.Msg)
			resp.SetReply(req)
			if len(req.Question) > 0 {
				rr, _ := dns.NewRR(req.Question[0].Name + " 60 IN A " + respondWithIP)
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

func TestParallelCancelledLoserDoesNotRecordHealthFailure(t *testing.T) {
	fastAddr, stopFast := mockUpstream(t, "5.6.7.8")
	defer stopFast()
	slowAddr, stopSlow := mockSlowUpstream(t, "9.9.9.9", 150*time.Millisecond)
	defer stopSlow()

	checker := health.New(health.Config{FailureThreshold: 1, SuccessThreshold: 1})
	d := New(checker)
	qctx := QueryContext{
		Servers:    []Server{{Addr: fastAddr}, {Addr: slowAddr}},
		Domain:     "example.com",
		RecordType: dns.TypeA,
		TimeoutMs:  500,
	}

	result, err := d.Query(context.Background(), ParallelStrategy{}, qctx)
	require.NoError(t, err)
	assert.Equal(t, fastAddr, result.ServerAddr)

	// The slow branch was canceled, not failed: its health state must stay
	// Unknown, never having been pushed toward Unhealthy.
	assert.Equal(t, health.StatusUnknown, checker.Status(slowAddr))
}

func TestFailoverFallsThroughToSecondServer(t *testing.T) {
	deadAddr, stopDead := mockUpstream(t, "")
	defer stopDead()
	goodAddr, stopGood := mockUpstream(t, "1.2.3.4")
	defer stopGood()

	d := New(health.New(health.DefaultConfig()))
	qctx := QueryContext{
		Servers:    []Server{{Addr: deadAddr}, {Addr: goodAddr}},
		Domain:     "example.com",
		RecordType: dns.TypeA,
		TimeoutMs:  200,
		Emitter:    events.New(16),
	}

	result, err := d.Query(context.Background(), FailoverStrategy{}, qctx)
	require.NoError(t, err)
	assert.Equal(t, goodAddr, result.ServerAddr)
}

func TestFailoverAllServersUnreachable(t *testing.T) {
	deadAddr, stopDead := mockUpstream(t, "")
	defer stopDead()

	d := New(health.New(health.DefaultConfig()))
	qctx := QueryContext{
		Servers:    []Server{{Addr: deadAddr}},
		Domain:     "example.com",
		RecordType: dns.TypeA,
		TimeoutMs:  100,
	}

	_, err := d.Query(context.Background(), FailoverStrategy{}, qctx)
	assert.ErrorIs(t, err, ErrTransportAllServersUnreachable)
}

func TestParallelReturnsFirstSuccess(t *testing.T) {
	goodAddr, stopGood := mockUpstream(t, "5.6.7.8")
	defer stopGood()
	deadAddr, stopDead := mockUpstream(t, "")
	defer stopDead()

	d := New(health.New(health.DefaultConfig()))
	qctx := QueryContext{
		Servers:    []Server{{Addr: deadAddr}, {Addr: goodAddr}},
		Domain:     "example.com",
		RecordType: dns.TypeA,
		TimeoutMs:  300,
	}

	result, err := d.Query(context.Background(), ParallelStrategy{}, qctx)
	require.NoError(t, err)
	assert.Equal(t, goodAddr, result.ServerAddr)
}

func TestBalancedFallsBackOnFailure(t *testing.T) {
	deadAddr, stopDead := mockUpstream(t, "")
	defer stopDead()
	goodAddr, stopGood := mockUpstream(t, "9.9.9.9")
	defer stopGood()

	d := New(health.New(health.DefaultConfig()))
	strategy := NewBalancedStrategy()
	qctx := QueryContext{
		Servers:    []Server{{Addr: deadAddr, Weight: 1}, {Addr: goodAddr, Weight: 1}},
		Domain:     "example.com",
		RecordType: dns.TypeA,
		TimeoutMs:  200,
	}

	result, err := d.Query(context.Background(), strategy, qctx)
	require.NoError(t, err)
	assert.Equal(t, goodAddr, result.ServerAddr)
}

func TestHealthCheckerObservesEveryAttempt(t *testing.T) {
	deadAddr, stopDead := mockUpstream(t, "")
	defer stopDead()
	goodAddr, stopGood := mockUpstream(t, "1.1.1.1")
	defer stopGood()

	checker := health.New(health.Config{FailureThreshold: 1, SuccessThreshold: 1})
	d := New(checker)
	qctx := QueryContext{
		Servers:    []Server{{Addr: deadAddr}, {Addr: goodAddr}},
		Domain:     "example.com",
		RecordType: dns.TypeA,
		TimeoutMs:  200,
	}

	_, err := d.Query(context.Background(), FailoverStrategy{}, qctx)
	require.NoError(t, err)

	assert.Equal(t, health.StatusUnhealthy, checker.Status(deadAddr))
	assert.Equal(t, health.StatusHealthy, checker.Status(goodAddr))
}

func TestNoServersConfiguredReturnsNoHealthyServers(t *testing.T) {
	d := New(health.New(health.DefaultConfig()))
	_, err := d.Query(context.Background(), FailoverStrategy{}, QueryContext{TimeoutMs: 100})
	assert.ErrorIs(t, err, ErrTransportNoHealthyServers)
}

func TestQueryRespectsTimeout(t *testing.T) {
	deadAddr, stopDead := mockUpstream(t, "")
	defer stopDead()

	d := New(health.New(health.DefaultConfig()))
	qctx := QueryContext{
		Servers:    []Server{{Addr: deadAddr}},
		Domain:     "example.com",
		RecordType: dns.TypeA,
		TimeoutMs:  50,
	}

	start := time.Now()
	_, err := d.Query(context.Background(), FailoverStrategy{}, qctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
