// Package wol builds Wake-on-LAN magic packets and broadcasts them for the
// hosts held in the registry.
package wol

import "github.com/HerbHall/wolo/pkg/models"

// PacketSize is the length of a magic packet payload.
const PacketSize = 6 + 16*6

// MagicPacket is six 0xFF bytes followed by the target MAC repeated 16 times.
type MagicPacket [PacketSize]byte

// NewMagicPacket builds the packet that wakes mac.
func NewMagicPacket(mac models.MAC) MagicPacket {
	var p MagicPacket
	for i := 0; i < 6; i++ {
		p[i] = 0xFF
	}
	for i := 0; i < 16; i++ {
		copy(p[6+i*6:], mac[:])
	}
	return p
}
