// Package enrichment best-effort-resolves a client IP to a MAC address and
// a hostname, kept in a Store read through Get/List (the admin API does not
// expose it). It is a supplemented
// feature (the distilled spec is silent on client enrichment, but
// original_source's SyncArpCacheUseCase/SyncHostnamesUseCase ports show a
// complete implementation carries it) and is deliberately kept off the
// resolution hot path: the resolver never blocks a query on an ARP read or
// a PTR lookup.
package enrichment

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/foxhound-dns/resolver/internal/logging"
)

// ArpReader reads the local ARP/neighbor table. Ported from
// original_source's ArpReader port.
type ArpReader interface {
	ReadARPTable(ctx context.Context) (map[string]string, error) // ip -> mac
}

// HostnameResolver performs a reverse (PTR) DNS lookup. Ported from
// original_source's HostnameResolver port.
type HostnameResolver interface {
	ResolveHostname(ctx context.Context, ip net.IP) (string, bool, error)
}

// ClientInfo is what enrichment knows about one client IP.
type ClientInfo struct {
	IP       string
	MAC      string
	Hostname string
	Updated  time.Time
}

// Store holds the most recently observed enrichment per client IP, guarded
// by a read-write mutex since updates from the background syncs are
// infrequent relative to reads through Get/List.
type Store struct {
	mu      sync.RWMutex
	clients map[string]ClientInfo

	arp      ArpReader
	hostname HostnameResolver
	logger   *logging.Logger
}

// NewStore constructs an empty Store. Either collaborator may be nil, in
// which case the corresponding sync pass is skipped.
func NewStore(arp ArpReader, hostname HostnameResolver, logger *logging.Logger) *Store {
	return &Store{
		clients:  make(map[string]ClientInfo),
		arp:      arp,
		hostname: hostname,
		logger:   logger,
	}
}

// Get returns what is currently known about ip.
func (s *Store) Get(ip string) (ClientInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.clients[ip]
	return info, ok
}

// List returns a snapshot of every known client.
func (s *Store) List() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, info := range s.clients {
		out = append(out, info)
	}
	return out
}

// SyncARPCache reads the ARP table and merges MAC addresses into the
// store, mirroring original_source's SyncArpCacheUseCase. Returns the
// number of entries updated.
func (s *Store) SyncARPCache(ctx context.Context) (int, error) {
	if s.arp == nil {
		return 0, nil
	}
	table, err := s.arp.ReadARPTable(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	s.mu.Lock()
	for ip, mac := range table {
		info := s.clients[ip]
		info.IP = ip
		info.MAC = mac
		info.Updated = now
		s.clients[ip] = info
	}
	s.mu.Unlock()

	s.logger.Debug("synced arp cache", "entries", len(table))
	return len(table), nil
}

// SyncHostnames resolves a PTR record for every client missing a hostname,
// mirroring original_source's SyncHostnamesUseCase. batchSize bounds how
// many lookups run in one pass so a slow or unreachable resolver never
// blocks the caller indefinitely.
func (s *Store) SyncHostnames(ctx context.Context, batchSize int) (int, error) {
	if s.hostname == nil {
		return 0, nil
	}

	s.mu.RLock()
	pending := make([]string, 0, batchSize)
	for ip, info := range s.clients {
		if info.Hostname != "" {
			continue
		}
		pending = append(pending, ip)
		if len(pending) >= batchSize {
			break
		}
	}
	s.mu.RUnlock()

	resolved := 0
	for _, ip := range pending {
		parsed := net.ParseIP(ip)
		if parsed == nil {
			continue
		}
		hostname, ok, err := s.hostname.ResolveHostname(ctx, parsed)
		if err != nil {
			s.logger.Warn("hostname resolution failed", "ip", ip, "error", err)
			continue
		}
		if !ok {
			continue
		}

		s.mu.Lock()
		info := s.clients[ip]
		info.IP = ip
		info.Hostname = hostname
		info.Updated = time.Now()
		s.clients[ip] = info
		s.mu.Unlock()
		resolved++
	}

	s.logger.Debug("synced hostnames", "resolved", resolved, "pending", len(pending))
	return resolved, nil
}

// Run periodically syncs the ARP cache and hostnames until ctx is
// canceled. It is meant to run as a single background goroutine started
// alongside the resolver, entirely decoupled from the query path.
func (s *Store) Run(ctx context.Context, interval time.Duration, hostnameBatchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncARPCache(ctx); err != nil {
				s.logger.Warn("arp cache sync failed", "error", err)
			}
			if _, err := s.SyncHostnames(ctx, hostnameBatchSize); err != nil {
				s.logger.Warn("hostname sync failed", "error", err)
			}
		}
	}
}
