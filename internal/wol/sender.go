package wol

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Sender transmits a single datagram.
type Sender interface {
	Send(ctx context.Context, dst netip.AddrPort, payload []byte) error
}

// UDPSender sends each datagram from a fresh broadcast-enabled UDP socket.
type UDPSender struct {
	writeTimeout time.Duration
}

// NewUDPSender creates a sender whose writes give up after writeTimeout.
func NewUDPSender(writeTimeout time.Duration) *UDPSender {
	return &UDPSender{writeTimeout: writeTimeout}
}

// Send writes payload to dst.
func (s *UDPSender) Send(ctx context.Context, dst netip.AddrPort, payload []byte) error {
	dst = netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port())
	network, local := "udp4", "0.0.0.0:0"
	if dst.Addr().Is6() {
		network, local = "udp6", "[::]:0"
	}

	lc := net.ListenConfig{Control: setBroadcast}
	conn, err := lc.ListenPacket(ctx, network, local)
	if err != nil {
		return fmt.Errorf("open socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if s.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(deadline)
	}

	n, err := conn.WriteTo(payload, net.UDPAddrFromAddrPort(dst))
	if err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	if n != len(payload) {
		return fmt.Errorf("send to %s: short write %d/%d", dst, n, len(payload))
	}
	return nil
}
