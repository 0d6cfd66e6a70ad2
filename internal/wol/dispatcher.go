package wol

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/metrics"
	"github.com/HerbHall/wolo/internal/registry"
	"github.com/HerbHall/wolo/pkg/models"
)

var (
	// ErrHostNotFound is returned when the key is not in the registry.
	ErrHostNotFound = errors.New("host not found")
	// ErrNoMacAddress is returned when the host has no known MAC. Nothing is sent.
	ErrNoMacAddress = errors.New("host has no MAC address")
)

// DefaultPort is the discard port conventionally used for magic packets.
const DefaultPort = 9

// SendError reports a failed send for one MAC.
type SendError struct {
	MAC models.MAC
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send magic packet for %s: %v", e.MAC, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// WakeResult is the outcome of one wake request.
type WakeResult struct {
	RequestID string             `json:"request_id"`
	Key       string             `json:"key"`
	Target    netip.AddrPort     `json:"target"`
	At        time.Time          `json:"at"`
	Results   []models.MACResult `json:"results"`

	errs []error
}

// Sent returns the number of MACs whose packet left the host.
func (r *WakeResult) Sent() int {
	n := 0
	for _, res := range r.Results {
		if res.Sent {
			n++
		}
	}
	return n
}

// Err joins the per-MAC send failures, or returns nil if every send succeeded.
func (r *WakeResult) Err() error {
	return errors.Join(r.errs...)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithScope resolves per-host directed broadcast addresses.
func WithScope(s Scope) Option { return func(d *Dispatcher) { d.scope = s } }

// WithBroadcast sets the fallback broadcast address.
func WithBroadcast(a netip.Addr) Option { return func(d *Dispatcher) { d.broadcast = a } }

// WithPort sets the destination UDP port.
func WithPort(p uint16) Option { return func(d *Dispatcher) { d.port = p } }

// WithPublisher publishes a TopicHostWakeAttempted event per attempt.
func WithPublisher(p event.Publisher) Option { return func(d *Dispatcher) { d.bus = p } }

// WithMetrics records wake metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher sends magic packets for registry hosts.
type Dispatcher struct {
	reg       *registry.Registry
	sender    Sender
	scope     Scope
	broadcast netip.Addr
	port      uint16
	bus       event.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher that broadcasts to 255.255.255.255:9
// unless configured otherwise.
func NewDispatcher(reg *registry.Registry, sender Sender, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:       reg,
		sender:    sender,
		broadcast: netip.AddrFrom4([4]byte{255, 255, 255, 255}),
		port:      DefaultPort,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Target returns the address packets for a host with addrs are sent to.
func (d *Dispatcher) Target(addrs []netip.Addr) netip.AddrPort {
	if d.scope != nil {
		if b, ok := d.scope.Broadcast(addrs); ok {
			return netip.AddrPortFrom(b, d.port)
		}
	}
	return netip.AddrPortFrom(d.broadcast, d.port)
}

// Wake sends one magic packet per MAC of the host with the given key.
//
// A failure for one MAC does not stop the others; per-MAC outcomes are in
// the returned result and the attempt time is recorded in the registry
// either way. Ignored hosts can be woken.
func (d *Dispatcher) Wake(ctx context.Context, key string) (*WakeResult, error) {
	e, err := d.reg.Get(key)
	if err != nil {
		d.metrics.RecordWake("not_found", 0, 0)
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, key)
	}
	if !e.Host.CanWake() {
		d.metrics.RecordWake("no_mac", 0, 0)
		return nil, fmt.Errorf("%w: %s", ErrNoMacAddress, key)
	}

	res := &WakeResult{
		RequestID: uuid.NewString(),
		Key:       key,
		Target:    d.Target(e.Host.Addresses),
		Results:   make([]models.MACResult, 0, len(e.Host.MACs)),
	}
	for _, mac := range e.Host.MACs {
		pkt := NewMagicPacket(mac)
		r := models.MACResult{MAC: mac, Sent: true}
		if err := d.sender.Send(ctx, res.Target, pkt[:]); err != nil {
			serr := &SendError{MAC: mac, Err: err}
			res.errs = append(res.errs, serr)
			r.Sent = false
			r.Error = serr.Error()
		}
		res.Results = append(res.Results, r)
	}

	res.At = d.now()
	if err := d.reg.RecordWakeAttempt(key, res.Results, res.At); err != nil {
		return nil, fmt.Errorf("record wake attempt: %w", err)
	}

	d.report(ctx, res)
	return res, nil
}

func (d *Dispatcher) report(ctx context.Context, res *WakeResult) {
	payload := event.WakeAttempt{Key: res.Key, RequestID: res.RequestID}
	for _, r := range res.Results {
		if r.Sent {
			payload.Sent = append(payload.Sent, r.MAC.String())
		} else {
			payload.Failed = append(payload.Failed, r.MAC.String())
		}
	}

	result := "sent"
	switch {
	case len(payload.Sent) == 0:
		result = "failed"
	case len(payload.Failed) > 0:
		result = "partial"
	}
	d.metrics.RecordWake(result, len(payload.Sent), len(payload.Failed))

	fields := []zap.Field{
		zap.String("key", res.Key),
		zap.String("request_id", res.RequestID),
		zap.Stringer("target", res.Target),
		zap.Strings("sent", payload.Sent),
	}
	if err := res.Err(); err != nil {
		d.logger.Warn("wake attempt had send failures", append(fields, zap.Error(err))...)
	} else {
		d.logger.Info("wake packets sent", fields...)
	}

	if d.bus != nil {
		d.bus.PublishAsync(context.WithoutCancel(ctx), event.New(event.TopicHostWakeAttempted, "wake", payload))
	}
}
