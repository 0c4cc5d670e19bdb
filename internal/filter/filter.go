// Package filter implements the domain filter engine (C6): a copy-on-write
// combination of regex/managed-domain allow-and-deny lists layered over a
// blocklist (exact set + suffix trie), with a bounded decision cache in
// front of the full evaluation. Grounded on the teacher's
// pkg/policy.Engine (expr-compiled rule evaluation, RWMutex-guarded rule
// list) and pkg/blocklist.Manager (atomic.Pointer snapshot swap, bitmasked
// rule sources).
package filter

import (
	"net"
	"regexp"
	"strings"

	"github.com/foxhound-dns/resolver/internal/filter/pattern"
	"github.com/foxhound-dns/resolver/internal/filter/subnet"
)

// BlockSource identifies which rule type produced a Block decision. It is
// encoded as a uint8 wherever it crosses a cache or wire boundary.
type BlockSource uint8

const (
	SourceBlocklist BlockSource = iota
	SourceManagedDomain
	SourceRegexFilter
)

// AsU8 and BlockSourceFromU8 round-trip BlockSource through its wire form,
// satisfying spec invariant 10 (from_u8(as_u8(b)) == Some(b) for every
// variant).
func (b BlockSource) AsU8() uint8 { return uint8(b) }

// BlockSourceFromU8 decodes a previously-encoded BlockSource. ok is false
// for any value outside the known variants.
func BlockSourceFromU8(v uint8) (BlockSource, bool) {
	switch BlockSource(v) {
	case SourceBlocklist, SourceManagedDomain, SourceRegexFilter:
		return BlockSource(v), true
	default:
		return 0, false
	}
}

// Decision is the outcome of a check: either Allow, or Block with the
// source that produced it.
type Decision struct {
	Blocked bool
	Source  BlockSource
}

// Allow is the shared zero-value allow decision.
var Allow = Decision{Blocked: false}

// Block constructs a blocking decision from the given source.
func Block(source BlockSource) Decision {
	return Decision{Blocked: true, Source: source}
}

// Action is what a managed-domain or regex rule does when it matches.
type Action uint8

const (
	ActionAllow Action = iota
	ActionDeny
)

// ManagedDomainRule is one enabled entry from the ManagedDomainRepository.
type ManagedDomainRule struct {
	Domain  string
	GroupID uint32
	Action  Action
}

// RegexFilterRule is one enabled entry from the RegexFilterRepository.
type RegexFilterRule struct {
	Pattern *regexp.Regexp
	GroupID uint32
	Action  Action
}

// snapshot is the immutable compiled state swapped in on reload.
type snapshot struct {
	blocklist *pattern.Matcher

	managedAllow map[uint32][]string
	managedDeny  map[uint32][]string
	regexAllow   map[uint32][]*regexp.Regexp
	regexDeny    map[uint32][]*regexp.Regexp

	compiledDomainCount int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		blocklist:    pattern.NewMatcher(),
		managedAllow: map[uint32][]string{},
		managedDeny:  map[uint32][]string{},
		regexAllow:   map[uint32][]*regexp.Regexp{},
		regexDeny:    map[uint32][]*regexp.Regexp{},
	}
}

// Sources provides the authoritative rule data reload() compiles from.
// Implementations are external collaborators (config file, database, admin
// API) and are never touched on the hot resolution path.
type Sources interface {
	EnabledManagedDomains() ([]ManagedDomainRule, error)
	EnabledRegexFilters() ([]RegexFilterRule, error)
	BlocklistEntries() (exact []BlocklistEntry, wildcard []BlocklistEntry, err error)
}

// BlocklistEntry is one compiled blocklist rule and the source bit(s) that
// contributed it.
type BlocklistEntry struct {
	Domain     string
	SourceMask uint64
}

// Engine is the filter engine (C6).
type Engine struct {
	subnets *subnet.Store
	sources Sources
	groupSourceBits map[uint32]uint64 // which source bits apply to each client group

	current *snapshot // swapped by reload; read without a lock

	decisions *decisionCache
}

// Config controls the decision cache and which source bits are visible to
// which client group.
type Config struct {
	DecisionCacheCapacity int
	// GroupSourceBits maps a group id to the OR of blocklist source bits
	// that group is subject to; a group with no entry sees every source.
	GroupSourceBits map[uint32]uint64
}

// New constructs an Engine with an empty snapshot; call Reload to populate
// it from sources.
func New(sources Sources, subnets *subnet.Store, cfg Config) *Engine {
	if cfg.DecisionCacheCapacity <= 0 {
		cfg.DecisionCacheCapacity = 4096
	}
	return &Engine{
		subnets:         subnets,
		sources:         sources,
		groupSourceBits: cfg.GroupSourceBits,
		current:         emptySnapshot(),
		decisions:       newDecisionCache(cfg.DecisionCacheCapacity),
	}
}

// ResolveGroup delegates to the subnet matcher, falling back to group 0.
func (e *Engine) ResolveGroup(ip net.IP) uint32 {
	group, ok := e.subnets.Current().FindGroupForIP(ip)
	if !ok {
		return 0
	}
	return group
}

// CompiledDomainCount reports the number of compiled exact-match blocklist
// domains, for observability; wildcard rules are not counted.
func (e *Engine) CompiledDomainCount() int {
	return e.current.compiledDomainCount
}

// Reload rebuilds every structure from the authoritative sources off the
// read path, then swaps the shared snapshot. It is copy-on-write: readers
// in flight against the old snapshot run to completion against it.
func (e *Engine) Reload(nowSecs uint64) error {
	managed, err := e.sources.EnabledManagedDomains()
	if err != nil {
		return err
	}
	regexes, err := e.sources.EnabledRegexFilters()
	if err != nil {
		return err
	}
	exact, wildcard, err := e.sources.BlocklistEntries()
	if err != nil {
		return err
	}

	next := emptySnapshot()
	for _, m := range managed {
		if m.Action == ActionAllow {
			next.managedAllow[m.GroupID] = append(next.managedAllow[m.GroupID], m.Domain)
		} else {
			next.managedDeny[m.GroupID] = append(next.managedDeny[m.GroupID], m.Domain)
		}
	}
	for _, r := range regexes {
		if r.Action == ActionAllow {
			next.regexAllow[r.GroupID] = append(next.regexAllow[r.GroupID], r.Pattern)
		} else {
			next.regexDeny[r.GroupID] = append(next.regexDeny[r.GroupID], r.Pattern)
		}
	}
	for _, entry := range exact {
		next.blocklist.Exact.Insert(entry.Domain, entry.SourceMask)
	}
	for _, entry := range wildcard {
		next.blocklist.Trie.InsertWildcard(entry.Domain, entry.SourceMask)
	}
	next.compiledDomainCount = next.blocklist.CompiledCount()

	e.current = next
	e.decisions.clear()
	return nil
}

// Check evaluates domain against group_id, stopping at the first
// conclusive outcome in spec §4.6's order: regex allow, managed-domain
// allow, regex deny, managed-domain deny, blocklist, else allow.
func (e *Engine) Check(domain string, groupID uint32, nowSecs uint64) Decision {
	domain = normalize(domain)
	key := decisionKey{domainHash: hashDomain(domain), groupID: groupID}
	if d, ok := e.decisions.get(key, nowSecs); ok {
		return d
	}

	snap := e.current

	decision := Allow
	switch {
	case matchesAny(snap.regexAllow[groupID], domain):
		decision = Allow
	case containsDomain(snap.managedAllow[groupID], domain):
		decision = Allow
	case matchesAny(snap.regexDeny[groupID], domain):
		decision = Block(SourceRegexFilter)
	case containsDomain(snap.managedDeny[groupID], domain):
		decision = Block(SourceManagedDomain)
	default:
		if mask := snap.blocklist.Lookup(domain); mask != 0 && e.groupSeesMask(groupID, mask) {
			decision = Block(SourceBlocklist)
		}
	}

	e.decisions.put(key, decision, nowSecs+defaultDecisionTTLSecs)
	return decision
}

// StoreCNAMEDecision memoizes decision for a resolved CNAME chain target,
// so subsequent lookups of the same (domain, group) within ttlSecs skip
// full evaluation.
func (e *Engine) StoreCNAMEDecision(domain string, groupID uint32, decision Decision, nowSecs uint64, ttlSecs uint32) {
	key := decisionKey{domainHash: hashDomain(normalize(domain)), groupID: groupID}
	e.decisions.put(key, decision, nowSecs+uint64(ttlSecs))
}

func (e *Engine) groupSeesMask(groupID uint32, mask uint64) bool {
	if e.groupSourceBits == nil {
		return true
	}
	bits, ok := e.groupSourceBits[groupID]
	if !ok {
		return true
	}
	return bits&mask != 0
}

func matchesAny(regexes []*regexp.Regexp, domain string) bool {
	for _, re := range regexes {
		if re.MatchString(domain) {
			return true
		}
	}
	return false
}

func containsDomain(domains []string, domain string) bool {
	for _, d := range domains {
		if d == domain {
			return true
		}
	}
	return false
}

func normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(domain), ".")
}

const defaultDecisionTTLSecs = 300
