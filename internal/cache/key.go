// Package cache implements the multi-policy in-memory answer cache: a
// sharded concurrent map from (domain, record type) to a cached answer,
// with atomic per-entry counters, optimistic refresh, lazy deletion, and
// background compaction.
package cache

import "strings"

// RecordType enumerates the DNS record types the cache understands.
type RecordType uint8

const (
	TypeA RecordType = iota
	TypeAAAA
	TypeCNAME
	TypeMX
	TypeTXT
	TypePTR
)

func (t RecordType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeAAAA:
		return "AAAA"
	case TypeCNAME:
		return "CNAME"
	case TypeMX:
		return "MX"
	case TypeTXT:
		return "TXT"
	case TypePTR:
		return "PTR"
	default:
		return "UNKNOWN"
	}
}

// Key identifies a cached answer. Domain labels are stored lowercase and
// without a trailing dot; equality is case-insensitive by construction.
type Key struct {
	Domain     string
	RecordType RecordType
}

// NewKey normalizes domain into the canonical cache-key form.
func NewKey(domain string, recordType RecordType) Key {
	return Key{Domain: normalizeDomain(domain), RecordType: recordType}
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(domain)
	domain = strings.TrimSuffix(domain, ".")
	return domain
}
