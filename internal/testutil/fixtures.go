package testutil

import (
	"net/netip"

	"github.com/HerbHall/wolo/pkg/models"
)

// NewHost returns a wakeable, probe-able HostRecord for test fixtures.
func NewHost(opts ...func(*models.HostRecord)) models.HostRecord {
	h := models.HostRecord{
		Key:       "test-host",
		Aliases:   []string{"test-host"},
		Addresses: []netip.Addr{netip.MustParseAddr("192.168.1.100")},
		MACs:      []models.MAC{{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}},
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// WithKey sets the key and makes it the sole alias.
func WithKey(key string) func(*models.HostRecord) {
	return func(h *models.HostRecord) {
		h.Key = key
		h.Aliases = []string{key}
	}
}

// WithAddrs replaces the host's addresses.
func WithAddrs(addrs ...string) func(*models.HostRecord) {
	return func(h *models.HostRecord) {
		h.Addresses = nil
		for _, a := range addrs {
			h.Addresses = append(h.Addresses, netip.MustParseAddr(a))
		}
	}
}

// WithMACs replaces the host's MACs. Panics on malformed input.
func WithMACs(macs ...string) func(*models.HostRecord) {
	return func(h *models.HostRecord) {
		h.MACs = nil
		for _, s := range macs {
			m, err := models.ParseMAC(s)
			if err != nil {
				panic("testutil.WithMACs: " + err.Error())
			}
			h.MACs = append(h.MACs, m)
		}
	}
}

// WithPreferredName sets the display name.
func WithPreferredName(name string) func(*models.HostRecord) {
	return func(h *models.HostRecord) { h.PreferredName = name }
}

// Ignored marks the host as ignored.
func Ignored() func(*models.HostRecord) {
	return func(h *models.HostRecord) { h.Ignored = true }
}
