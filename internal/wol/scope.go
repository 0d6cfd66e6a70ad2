package wol

import (
	"fmt"
	"net"
	"net/netip"
)

// Scope maps a host's addresses to the broadcast address of the network
// the host lives on.
type Scope interface {
	Broadcast(addrs []netip.Addr) (netip.Addr, bool)
}

// PrefixScope resolves broadcast addresses from a fixed set of IPv4 prefixes.
type PrefixScope struct {
	prefixes []netip.Prefix
}

// NewPrefixScope keeps the IPv4 prefixes that have a directed broadcast
// address, i.e. that are shorter than /31 and not loopback.
func NewPrefixScope(prefixes ...netip.Prefix) *PrefixScope {
	s := &PrefixScope{}
	for _, p := range prefixes {
		p = p.Masked()
		if !p.Addr().Is4() || p.Bits() >= 31 || p.Addr().IsLoopback() {
			continue
		}
		s.prefixes = append(s.prefixes, p)
	}
	return s
}

// InterfaceScope builds a PrefixScope from the local interface addresses.
func InterfaceScope() (*PrefixScope, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	var prefixes []netip.Prefix
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		p, err := netip.ParsePrefix(ipn.String())
		if err != nil {
			continue
		}
		prefixes = append(prefixes, p)
	}
	return NewPrefixScope(prefixes...), nil
}

// Prefixes returns the prefixes in use.
func (s *PrefixScope) Prefixes() []netip.Prefix {
	return append([]netip.Prefix(nil), s.prefixes...)
}

// Broadcast returns the directed broadcast address of the first prefix that
// contains one of addrs.
func (s *PrefixScope) Broadcast(addrs []netip.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		a = a.Unmap()
		for _, p := range s.prefixes {
			if p.Contains(a) {
				return DirectedBroadcast(p), true
			}
		}
	}
	return netip.Addr{}, false
}

// DirectedBroadcast returns the all-ones host address of an IPv4 prefix.
func DirectedBroadcast(p netip.Prefix) netip.Addr {
	b := p.Masked().Addr().As4()
	hostBits := 32 - p.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		n := min(hostBits, 8)
		b[i] |= byte(1<<n - 1)
		hostBits -= n
	}
	return netip.AddrFrom4(b)
}
