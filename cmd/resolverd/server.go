package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/foxhound-dns/resolver/internal/cache"
	"github.com/foxhound-dns/resolver/internal/logging"
	"github.com/foxhound-dns/resolver/internal/resolver"
	"github.com/foxhound-dns/resolver/internal/telemetry"
)

// dnsServer owns the UDP and TCP listeners, grounded on the teacher's
// pkg/dns.Server (one dns.Server per protocol, both driven by the same
// handler, ctx-cancel-to-ShutdownContext lifecycle).
type dnsServer struct {
	addr       string
	udpEnabled bool
	tcpEnabled bool
	handler    dns.Handler
	logger     *logging.Logger

	mu        sync.Mutex
	udpServer *dns.Server
	tcpServer *dns.Server
	running   bool
}

func newDNSServer(addr string, udpEnabled, tcpEnabled bool, handler dns.Handler, logger *logging.Logger) *dnsServer {
	return &dnsServer{addr: addr, udpEnabled: udpEnabled, tcpEnabled: tcpEnabled, handler: handler, logger: logger}
}

// Start listens on the configured protocols and blocks until ctx is
// canceled or a listener fails.
func (s *dnsServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("dns server already running")
	}
	s.running = true
	s.mu.Unlock()

	errChan := make(chan error, 2)

	if s.udpEnabled {
		s.udpServer = &dns.Server{Addr: s.addr, Net: "udp", Handler: s.handler}
		go func() {
			s.logger.Info("starting UDP DNS listener", "address", s.addr)
			if err := s.udpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("udp listener: %w", err)
			}
		}()
	}

	if s.tcpEnabled {
		s.tcpServer = &dns.Server{Addr: s.addr, Net: "tcp", Handler: s.handler}
		go func() {
			s.logger.Info("starting TCP DNS listener", "address", s.addr)
			if err := s.tcpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("tcp listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops both listeners.
func (s *dnsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	var errs []error
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("udp shutdown: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tcp shutdown: %w", err))
		}
	}
	s.running = false
	if len(errs) > 0 {
		return fmt.Errorf("dns server shutdown errors: %v", errs)
	}
	return nil
}

// ingressHandler adapts incoming wire-format queries to the resolution
// pipeline (C10) and the pipeline's Result back to wire format. Grounded
// on the teacher's pkg/dns.Handler.ServeDNS / wrappedHandler split:
// logging wraps the actual resolution call rather than living inside it.
// The metrics field is held but no value is recorded on it.
type ingressHandler struct {
	resolver *resolver.Resolver
	logger   *logging.Logger
	metrics  *telemetry.Metrics
}

func (h *ingressHandler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	start := time.Now()
	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true
	msg.RecursionAvailable = true

	if len(req.Question) == 0 {
		msg.SetRcode(req, dns.RcodeFormatError)
		h.write(w, msg)
		return
	}

	question := req.Question[0]
	recordType, supported := recordTypeFor(question.Qtype)
	if !supported {
		msg.SetRcode(req, dns.RcodeNotImplemented)
		h.write(w, msg)
		return
	}

	clientIP := clientIPFromWriter(w)
	result, err := h.resolver.Resolve(context.Background(), clientIP, question.Name, recordType)
	if err != nil {
		h.logger.Error("resolution failed", "domain", question.Name, "type", recordType.String(), "error", err)
		msg.SetRcode(req, dns.RcodeServerFailure)
		h.write(w, msg)
		return
	}

	if result.Blocked {
		if len(result.Addresses) == 0 {
			msg.SetRcode(req, dns.RcodeNameError)
		}
		msg.Answer = buildAddressAnswer(question.Name, recordType, result.Addresses, 60)
		h.write(w, msg)
		h.logQuery(question.Name, recordType, clientIP, start, true)
		return
	}

	if len(result.Addresses) == 0 && result.CNAME == "" {
		msg.SetRcode(req, dns.RcodeNameError)
		h.write(w, msg)
		h.logQuery(question.Name, recordType, clientIP, start, false)
		return
	}

	ttl := result.MinTTL
	if ttl == 0 {
		ttl = 1
	}
	if result.CNAME != "" {
		msg.Answer = append(msg.Answer, &dns.CNAME{
			Hdr:    dns.RR_Header{Name: question.Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: ttl},
			Target: dns.Fqdn(result.CNAME),
		})
	}
	msg.Answer = append(msg.Answer, buildAddressAnswer(question.Name, recordType, result.Addresses, ttl)...)

	h.write(w, msg)
	h.logQuery(question.Name, recordType, clientIP, start, true)
}

func (h *ingressHandler) write(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		h.logger.Debug("write response failed", "error", err)
	}
}

func (h *ingressHandler) logQuery(domain string, recordType cache.RecordType, clientIP net.IP, start time.Time, success bool) {
	h.logger.Debug("query served",
		"domain", domain,
		"type", recordType.String(),
		"client", clientIP.String(),
		"duration_ms", time.Since(start).Milliseconds(),
		"success", success,
	)
}

// buildAddressAnswer renders addrs as A or AAAA records matching
// recordType; non-address record types return no RRs since the pipeline
// does not yet carry MX/TXT/PTR payloads (see DESIGN.md).
func buildAddressAnswer(name string, recordType cache.RecordType, addrs []net.IP, ttl uint32) []dns.RR {
	var rrs []dns.RR
	for _, ip := range addrs {
		switch recordType {
		case cache.TypeA:
			if v4 := ip.To4(); v4 != nil {
				rrs = append(rrs, &dns.A{
					Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
					A:   v4,
				})
			}
		case cache.TypeAAAA:
			if v4 := ip.To4(); v4 == nil {
				rrs = append(rrs, &dns.AAAA{
					Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
					AAAA: ip.To16(),
				})
			}
		}
	}
	return rrs
}

func recordTypeFor(qtype uint16) (cache.RecordType, bool) {
	switch qtype {
	case dns.TypeA:
		return cache.TypeA, true
	case dns.TypeAAAA:
		return cache.TypeAAAA, true
	case dns.TypeCNAME:
		return cache.TypeCNAME, true
	case dns.TypeMX:
		return cache.TypeMX, true
	case dns.TypeTXT:
		return cache.TypeTXT, true
	case dns.TypePTR:
		return cache.TypePTR, true
	default:
		return 0, false
	}
}

func clientIPFromWriter(w dns.ResponseWriter) net.IP {
	addr := w.RemoteAddr()
	if addr == nil {
		return net.IPv4zero
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	return net.IPv4zero
}
