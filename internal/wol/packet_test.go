package wol

import (
	"bytes"
	"testing"

	"github.com/HerbHall/wolo/pkg/models"
)

func TestNewMagicPacket(t *testing.T) {
	mac := models.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	p := NewMagicPacket(mac)

	var want []byte
	want = append(want, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	for i := 0; i < 16; i++ {
		want = append(want, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55)
	}

	if len(p) != 102 {
		t.Fatalf("len = %d, want 102", len(p))
	}
	if !bytes.Equal(p[:], want) {
		t.Errorf("packet = % x\nwant     % x", p[:], want)
	}
}

func TestNewMagicPacketAllOnesMAC(t *testing.T) {
	p := NewMagicPacket(models.MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	for i, b := range p {
		if b != 0xFF {
			t.Fatalf("byte %d = %#x, want 0xff", i, b)
		}
	}
}
