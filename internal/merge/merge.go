// Package merge folds host entries from several configuration sources into
// one canonical host list.
//
// Batches are applied in increasing rank. A record that shares a hostname,
// address or MAC with existing hosts is coalesced into the oldest of them;
// hosts that become connected through the record are coalesced as well.
package merge

import (
	"fmt"
	"net/netip"
	"slices"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/HerbHall/wolo/pkg/models"
)

// Warning describes a record that was skipped.
type Warning struct {
	Source  string
	Message string
}

func (w Warning) String() string {
	return w.Source + ": " + w.Message
}

// Result is the output of Merge.
type Result struct {
	Hosts    []models.HostRecord
	Warnings []Warning
}

type node struct {
	parent  int
	key     string
	aliases map[string]struct{}
	addrs   map[netip.Addr]struct{}
	macs    map[models.MAC]struct{}
	pref    string
	prefSeq int // 0 means unset
	ignored bool
}

type merger struct {
	nodes   []*node
	byAlias map[string]int
	byAddr  map[netip.Addr]int
	byMAC   map[models.MAC]int
	keys    map[string]struct{}
	seq     int
}

// Merge builds the canonical host list. It never fails; malformed records
// are reported in Result.Warnings. Identical input yields identical output
// regardless of the order in which equal-rank batches are supplied.
func Merge(batches []models.SourceBatch) Result {
	ordered := orderBatches(batches)

	m := &merger{
		byAlias: make(map[string]int),
		byAddr:  make(map[netip.Addr]int),
		byMAC:   make(map[models.MAC]int),
		keys:    make(map[string]struct{}),
	}
	var res Result
	for _, b := range ordered {
		for i, rec := range b.Records {
			rec = normalize(rec)
			if rec.Empty() {
				src := rec.Source
				if src == "" {
					src = b.Source
				}
				res.Warnings = append(res.Warnings, Warning{
					Source:  src,
					Message: fmt.Sprintf("record %d has no hostname, address or MAC; skipped", i),
				})
				continue
			}
			m.add(rec)
		}
	}
	res.Hosts = m.hosts()
	return res
}

// orderBatches sorts by rank, then source name, then content so that the
// supplied order of equal-rank batches does not matter.
func orderBatches(batches []models.SourceBatch) []models.SourceBatch {
	type keyed struct {
		b  models.SourceBatch
		fp uint64
	}
	ks := make([]keyed, len(batches))
	for i, b := range batches {
		ks[i] = keyed{b: b, fp: fingerprint(b)}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.b.Rank != b.b.Rank {
			return a.b.Rank < b.b.Rank
		}
		if a.b.Source != b.b.Source {
			return a.b.Source < b.b.Source
		}
		return a.fp < b.fp
	})
	out := make([]models.SourceBatch, len(ks))
	for i, k := range ks {
		out[i] = k.b
	}
	return out
}

func fingerprint(b models.SourceBatch) uint64 {
	d := xxhash.New()
	for _, r := range b.Records {
		_, _ = d.WriteString(r.Source)
		_, _ = d.WriteString("\x00")
		for _, h := range r.Hostnames {
			_, _ = d.WriteString(h)
			_, _ = d.WriteString("\x01")
		}
		for _, a := range r.Addresses {
			_, _ = d.WriteString(a.String())
			_, _ = d.WriteString("\x02")
		}
		for _, mac := range r.MACs {
			_, _ = d.Write(mac[:])
		}
		if r.PreferredName != nil {
			_, _ = d.WriteString("\x03" + *r.PreferredName)
		}
		if r.Ignore {
			_, _ = d.WriteString("\x04")
		}
		_, _ = d.WriteString("\n")
	}
	return d.Sum64()
}

// NormalizeHostname lowercases a name and strips surrounding space and a
// trailing root dot.
func NormalizeHostname(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}

func normalize(r models.SourceRecord) models.SourceRecord {
	out := r
	out.Hostnames = nil
	for _, h := range r.Hostnames {
		if h = NormalizeHostname(h); h != "" && !slices.Contains(out.Hostnames, h) {
			out.Hostnames = append(out.Hostnames, h)
		}
	}
	out.Addresses = nil
	for _, a := range r.Addresses {
		if !a.IsValid() {
			continue
		}
		if a = a.Unmap(); !slices.Contains(out.Addresses, a) {
			out.Addresses = append(out.Addresses, a)
		}
	}
	out.MACs = nil
	for _, mac := range r.MACs {
		if !slices.Contains(out.MACs, mac) {
			out.MACs = append(out.MACs, mac)
		}
	}
	return out
}

func (m *merger) find(i int) int {
	for m.nodes[i].parent != i {
		m.nodes[i].parent = m.nodes[m.nodes[i].parent].parent
		i = m.nodes[i].parent
	}
	return i
}

func (m *merger) add(rec models.SourceRecord) {
	m.seq++

	var roots []int
	note := func(i int, ok bool) {
		if !ok {
			return
		}
		if r := m.find(i); !slices.Contains(roots, r) {
			roots = append(roots, r)
		}
	}
	for _, h := range rec.Hostnames {
		i, ok := m.byAlias[h]
		note(i, ok)
	}
	for _, a := range rec.Addresses {
		i, ok := m.byAddr[a]
		note(i, ok)
	}
	for _, mac := range rec.MACs {
		i, ok := m.byMAC[mac]
		note(i, ok)
	}

	var target int
	if len(roots) == 0 {
		target = m.newNode(rec)
	} else {
		// Node indexes grow with creation time, so the smallest root is the oldest.
		slices.Sort(roots)
		target = roots[0]
		for _, r := range roots[1:] {
			m.union(target, r)
		}
	}

	n := m.nodes[target]
	for _, h := range rec.Hostnames {
		n.aliases[h] = struct{}{}
		m.byAlias[h] = target
	}
	for _, a := range rec.Addresses {
		n.addrs[a] = struct{}{}
		m.byAddr[a] = target
	}
	for _, mac := range rec.MACs {
		n.macs[mac] = struct{}{}
		m.byMAC[mac] = target
	}
	if rec.PreferredName != nil {
		n.pref = *rec.PreferredName
		n.prefSeq = m.seq
	}
	n.ignored = n.ignored || rec.Ignore
}

func (m *merger) newNode(rec models.SourceRecord) int {
	var key string
	switch {
	case len(rec.Hostnames) > 0:
		key = rec.Hostnames[0]
	case len(rec.Addresses) > 0:
		key = rec.Addresses[0].String()
	default:
		key = rec.MACs[0].String()
	}
	if _, taken := m.keys[key]; taken {
		base := key
		for i := 2; ; i++ {
			key = fmt.Sprintf("%s#%d", base, i)
			if _, taken := m.keys[key]; !taken {
				break
			}
		}
	}
	m.keys[key] = struct{}{}

	idx := len(m.nodes)
	m.nodes = append(m.nodes, &node{
		parent:  idx,
		key:     key,
		aliases: make(map[string]struct{}),
		addrs:   make(map[netip.Addr]struct{}),
		macs:    make(map[models.MAC]struct{}),
	})
	return idx
}

// union folds src into dst. dst must be the older root.
func (m *merger) union(dst, src int) {
	d, s := m.nodes[dst], m.nodes[src]
	s.parent = dst
	for h := range s.aliases {
		d.aliases[h] = struct{}{}
	}
	for a := range s.addrs {
		d.addrs[a] = struct{}{}
	}
	for mac := range s.macs {
		d.macs[mac] = struct{}{}
	}
	if s.prefSeq > d.prefSeq {
		d.pref, d.prefSeq = s.pref, s.prefSeq
	}
	d.ignored = d.ignored || s.ignored
	s.aliases, s.addrs, s.macs = nil, nil, nil
}

func (m *merger) hosts() []models.HostRecord {
	var out []models.HostRecord
	for i, n := range m.nodes {
		if n.parent != i {
			continue
		}
		h := models.HostRecord{
			Key:           n.key,
			PreferredName: n.pref,
			Ignored:       n.ignored,
			Aliases:       make([]string, 0, len(n.aliases)),
			Addresses:     make([]netip.Addr, 0, len(n.addrs)),
			MACs:          make([]models.MAC, 0, len(n.macs)),
		}
		for a := range n.aliases {
			h.Aliases = append(h.Aliases, a)
		}
		for a := range n.addrs {
			h.Addresses = append(h.Addresses, a)
		}
		for mac := range n.macs {
			h.MACs = append(h.MACs, mac)
		}
		slices.Sort(h.Aliases)
		slices.SortFunc(h.Addresses, func(a, b netip.Addr) int { return a.Compare(b) })
		slices.SortFunc(h.MACs, func(a, b models.MAC) int {
			switch {
			case a.Less(b):
				return -1
			case b.Less(a):
				return 1
			}
			return 0
		})
		out = append(out, h)
	}
	return out
}
