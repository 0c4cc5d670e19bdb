// Package adminapi is the control-plane HTTP surface: blocklist/cache
// reload, managed-domain and regex-filter CRUD, health/cache/system
// snapshots, and the query-log view. Adapted from the teacher's pkg/api,
// trimmed to the handlers this architecture needs and rerouted at the
// repositories backing internal/filter's Sources interface (the teacher's
// equivalent CRUD lived directly against its blocklist.Manager/policy.Engine
// rather than through a swappable Sources seam).
package adminapi

import (
	"fmt"
	"net"
	"regexp"
	"sync"

	"github.com/foxhound-dns/resolver/internal/filter"
	"github.com/foxhound-dns/resolver/internal/filter/subnet"
)

// Repository is an in-memory, mutex-guarded store for managed-domain
// rules, regex filter rules, and static blocklist entries. It implements
// filter.Sources so filter.Engine.Reload can read directly from it, and
// exposes CRUD methods the admin HTTP handlers call before triggering a
// reload.
type Repository struct {
	mu sync.RWMutex

	nextID         uint64
	managedDomains map[uint64]managedDomainRecord
	regexFilters   map[uint64]regexFilterRecord
	blocklistExact map[string]uint64
	blocklistWild  map[string]uint64
	subnetGroups   map[string]uint32 // CIDR -> group id
}

type managedDomainRecord struct {
	ID      uint64
	Domain  string
	GroupID uint32
	Action  filter.Action
	Enabled bool
}

type regexFilterRecord struct {
	ID      uint64
	Pattern string
	compile *regexp.Regexp
	GroupID uint32
	Action  filter.Action
	Enabled bool
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		managedDomains: make(map[uint64]managedDomainRecord),
		regexFilters:   make(map[uint64]regexFilterRecord),
		blocklistExact: make(map[string]uint64),
		blocklistWild:  make(map[string]uint64),
		subnetGroups:   make(map[string]uint32),
	}
}

// SetSubnetGroup assigns cidr to groupID.
func (r *Repository) SetSubnetGroup(cidr string, groupID uint32) error {
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return fmt.Errorf("parse cidr: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subnetGroups[cidr] = groupID
	return nil
}

// RemoveSubnetGroup deletes a CIDR-to-group mapping.
func (r *Repository) RemoveSubnetGroup(cidr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subnetGroups[cidr]; !ok {
		return false
	}
	delete(r.subnetGroups, cidr)
	return true
}

// SubnetEntries compiles the current CIDR-to-group mappings into
// subnet.Entry values for subnet.Store.Refresh.
func (r *Repository) SubnetEntries() []subnet.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]subnet.Entry, 0, len(r.subnetGroups))
	for cidr, groupID := range r.subnetGroups {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		entries = append(entries, subnet.Entry{Network: network, GroupID: groupID})
	}
	return entries
}

// ListSubnetGroups returns a snapshot of the CIDR-to-group mappings.
func (r *Repository) ListSubnetGroups() map[string]uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint32, len(r.subnetGroups))
	for k, v := range r.subnetGroups {
		out[k] = v
	}
	return out
}

// EnabledManagedDomains implements filter.Sources.
func (r *Repository) EnabledManagedDomains() ([]filter.ManagedDomainRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]filter.ManagedDomainRule, 0, len(r.managedDomains))
	for _, rec := range r.managedDomains {
		if !rec.Enabled {
			continue
		}
		rules = append(rules, filter.ManagedDomainRule{Domain: rec.Domain, GroupID: rec.GroupID, Action: rec.Action})
	}
	return rules, nil
}

// EnabledRegexFilters implements filter.Sources.
func (r *Repository) EnabledRegexFilters() ([]filter.RegexFilterRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]filter.RegexFilterRule, 0, len(r.regexFilters))
	for _, rec := range r.regexFilters {
		if !rec.Enabled {
			continue
		}
		rules = append(rules, filter.RegexFilterRule{Pattern: rec.compile, GroupID: rec.GroupID, Action: rec.Action})
	}
	return rules, nil
}

// BlocklistEntries implements filter.Sources.
func (r *Repository) BlocklistEntries() (exact []filter.BlocklistEntry, wildcard []filter.BlocklistEntry, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for domain, mask := range r.blocklistExact {
		exact = append(exact, filter.BlocklistEntry{Domain: domain, SourceMask: mask})
	}
	for domain, mask := range r.blocklistWild {
		wildcard = append(wildcard, filter.BlocklistEntry{Domain: domain, SourceMask: mask})
	}
	return exact, wildcard, nil
}

// AddManagedDomain inserts or replaces a managed-domain rule and returns
// its id.
func (r *Repository) AddManagedDomain(domain string, groupID uint32, action filter.Action) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.managedDomains[id] = managedDomainRecord{ID: id, Domain: domain, GroupID: groupID, Action: action, Enabled: true}
	return id
}

// RemoveManagedDomain deletes a managed-domain rule by id.
func (r *Repository) RemoveManagedDomain(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.managedDomains[id]; !ok {
		return false
	}
	delete(r.managedDomains, id)
	return true
}

// ListManagedDomains returns a snapshot of every managed-domain rule.
func (r *Repository) ListManagedDomains() []managedDomainRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]managedDomainRecord, 0, len(r.managedDomains))
	for _, rec := range r.managedDomains {
		out = append(out, rec)
	}
	return out
}

// AddRegexFilter compiles pattern and inserts a new regex filter rule.
func (r *Repository) AddRegexFilter(pattern string, groupID uint32, action filter.Action) (uint64, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile regex filter: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.regexFilters[id] = regexFilterRecord{ID: id, Pattern: pattern, compile: compiled, GroupID: groupID, Action: action, Enabled: true}
	return id, nil
}

// RemoveRegexFilter deletes a regex filter rule by id.
func (r *Repository) RemoveRegexFilter(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regexFilters[id]; !ok {
		return false
	}
	delete(r.regexFilters, id)
	return true
}

// ListRegexFilters returns a snapshot of every regex filter rule.
func (r *Repository) ListRegexFilters() []regexFilterRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regexFilterRecord, 0, len(r.regexFilters))
	for _, rec := range r.regexFilters {
		out = append(out, rec)
	}
	return out
}

// AddBlocklistEntry inserts a static blocklist domain, exact or wildcard.
func (r *Repository) AddBlocklistEntry(domain string, wildcard bool, sourceMask uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wildcard {
		r.blocklistWild[domain] |= sourceMask
	} else {
		r.blocklistExact[domain] |= sourceMask
	}
}

// RemoveBlocklistEntry deletes a static blocklist domain.
func (r *Repository) RemoveBlocklistEntry(domain string, wildcard bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.blocklistExact
	if wildcard {
		m = r.blocklistWild
	}
	if _, ok := m[domain]; !ok {
		return false
	}
	delete(m, domain)
	return true
}

// BlocklistCounts reports the number of exact and wildcard entries currently
// held, for the GET /api/filter/blocklist summary endpoint.
func (r *Repository) BlocklistCounts() (exact, wildcard int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocklistExact), len(r.blocklistWild)
}
