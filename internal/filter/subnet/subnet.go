// Package subnet implements the client-subnet-to-group resolver (C7):
// longest-prefix-match over a set of CIDR entries, rebuilt copy-on-write on
// refresh. Generalized from the teacher's pkg/forwarder.CIDRMatcher, which
// only ever needed a linear "is this IP in any of these nets" boolean —
// here every entry also carries a group id and prefix length is what
// breaks ties between overlapping entries.
package subnet

import "net"

// Entry associates one CIDR with the client group it resolves to.
type Entry struct {
	Network *net.IPNet
	GroupID uint32
}

// Matcher resolves a client IP to the group of the longest (most specific)
// matching CIDR entry. The zero value is an empty matcher: every IP falls
// through to the fallback group 0, matching spec §4.6's resolve_group
// default.
type Matcher struct {
	// entries is sorted by descending prefix length so the first match
	// found during a linear scan is already the longest-prefix match.
	entries []Entry
}

// Build constructs a Matcher from entries, sorting them by descending
// prefix length (most specific first). The input slice is not mutated.
func Build(entries []Entry) *Matcher {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sortByDescendingPrefixLen(sorted)
	return &Matcher{entries: sorted}
}

func sortByDescendingPrefixLen(entries []Entry) {
	// Insertion sort: refresh-time rebuilds are infrequent and lists are
	// small (subnet rule counts, not domain rule counts), so simplicity
	// wins over reaching for sort.Slice's reflection overhead here too —
	// kept consistent with eviction's sort.Slice choice would also be
	// fine; insertion sort's O(n²) worst case is negligible at this list size.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && prefixLen(entries[j].Network) > prefixLen(entries[j-1].Network); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func prefixLen(n *net.IPNet) int {
	ones, _ := n.Mask.Size()
	return ones
}

// FindGroupForIP returns the group id of the longest-prefix CIDR entry
// containing ip, and whether any entry matched at all. Callers falling
// back on "no match" should use group 0 per spec §4.6.
func (m *Matcher) FindGroupForIP(ip net.IP) (uint32, bool) {
	if m == nil {
		return 0, false
	}
	for _, e := range m.entries {
		if e.Network.Contains(ip) {
			return e.GroupID, true
		}
	}
	return 0, false
}

// Len reports the number of compiled entries.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}
