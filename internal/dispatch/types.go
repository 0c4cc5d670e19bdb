// Package dispatch implements the upstream DNS dispatcher (C8): three
// selectable strategies (Parallel, Failover, Balanced) over a pool of
// upstream servers, each strategy emitting a QueryEvent per attempt so the
// health checker can observe every outcome. Grounded on the teacher's
// pkg/forwarder.Forwarder (sync.Pool client reuse, round-robin selection,
// health-filtered candidate lists) and original_source's
// load_balancer/{strategy,failover}.rs for the three-strategy split itself.
package dispatch

import (
	"time"

	"github.com/miekg/dns"

	"github.com/foxhound-dns/resolver/internal/events"
)

// Server is one upstream endpoint in a pool.
type Server struct {
	Addr   string // host:port
	Weight float64
}

// QueryContext describes one resolution's upstream query.
type QueryContext struct {
	Servers    []Server
	Domain     string
	RecordType uint16
	TimeoutMs  int
	DNSSECOk   bool
	PoolName   string
	Emitter    *events.Bus
}

func (c QueryContext) timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// UpstreamResult is the outcome of a successful query.
type UpstreamResult struct {
	Response      *dns.Msg
	ServerAddr    string
	LatencyMs     int64
	PoolName      string
	ServerDisplay string
}

func buildQuery(domain string, recordType uint16, dnssecOK bool) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), recordType)
	m.RecursionDesired = true
	if dnssecOK {
		m.SetEdns0(4096, true)
	}
	return m
}

func emit(qctx QueryContext, server string, latency time.Duration, success bool) {
	if qctx.Emitter == nil {
		return
	}
	qctx.Emitter.Emit(events.QueryEvent{
		Domain:         qctx.Domain,
		RecordType:     qctx.RecordType,
		UpstreamServer: server,
		LatencyUs:      latency.Microseconds(),
		Success:        success,
		PoolName:       qctx.PoolName,
		Timestamp:      time.Now(),
	})
}
