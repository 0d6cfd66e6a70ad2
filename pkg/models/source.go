package models

import "net/netip"

// Default precedence ranks; higher ranks are applied later and win conflicts.
const (
	RankHostsFile  = 100
	RankEthersFile = 200
	RankConfigFile = 300
	RankOverride   = 1000
)

// SourceRecord is one host entry as reported by a single configuration source.
// PreferredName is nil when the source does not specify one.
type SourceRecord struct {
	Source        string       `json:"source"`
	Hostnames     []string     `json:"hostnames,omitempty"`
	Addresses     []netip.Addr `json:"addresses,omitempty"`
	MACs          []MAC        `json:"macs,omitempty"`
	PreferredName *string      `json:"preferred_name,omitempty"`
	Ignore        bool         `json:"ignore,omitempty"`
}

// Empty reports whether the record carries no identity at all.
func (r SourceRecord) Empty() bool {
	return len(r.Hostnames) == 0 && len(r.Addresses) == 0 && len(r.MACs) == 0
}

// SourceBatch groups the records produced by one source at one precedence rank.
type SourceBatch struct {
	Source  string
	Rank    int
	Records []SourceRecord
}
