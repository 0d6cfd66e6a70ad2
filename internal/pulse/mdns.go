package pulse

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// mdnsServices lists the service types browsed for host announcements.
var mdnsServices = []string{
	"_workstation._tcp",
	"_ssh._tcp",
	"_smb._tcp",
	"_http._tcp",
	"_device-info._tcp",
}

const mdnsQueryTimeout = 3 * time.Second

var errNotAnnounced = errors.New("host not announced via mDNS")

type announced struct {
	addrs []netip.Addr
	seen  time.Time
}

// MDNSBrowser learns addresses of .local hosts from mDNS service
// announcements, for networks where the system resolver has no mDNS
// support. Entries expire after two browse intervals without a sighting.
type MDNSBrowser struct {
	interval time.Duration
	logger   *zap.Logger
	query    func(*mdns.QueryParam) error
	now      func() time.Time

	mu    sync.Mutex
	hosts map[string]announced
}

// NewMDNSBrowser creates a browser that re-queries every interval.
func NewMDNSBrowser(interval time.Duration, logger *zap.Logger) *MDNSBrowser {
	return &MDNSBrowser{
		interval: interval,
		logger:   logger,
		query:    mdns.Query,
		now:      time.Now,
		hosts:    make(map[string]announced),
	}
}

// Run browses immediately and then on every interval until ctx ends.
func (b *MDNSBrowser) Run(ctx context.Context) {
	b.logger.Info("mDNS browser started", zap.Duration("interval", b.interval))
	b.Browse(ctx)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("mDNS browser stopped")
			return
		case <-ticker.C:
			b.Browse(ctx)
		}
	}
}

// Browse queries each service type once and records every answer.
func (b *MDNSBrowser) Browse(ctx context.Context) {
	for _, svc := range mdnsServices {
		if ctx.Err() != nil {
			return
		}
		b.browseService(svc)
	}
	b.expire()
	b.logger.Debug("mDNS browse complete", zap.Int("hosts", b.Len()))
}

func (b *MDNSBrowser) browseService(service string) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			b.record(e)
		}
	}()

	params := mdns.DefaultParams(service)
	params.Timeout = mdnsQueryTimeout
	params.Entries = entries
	if err := b.query(params); err != nil {
		b.logger.Debug("mDNS query failed", zap.String("service", service), zap.Error(err))
	}
	close(entries)
	wg.Wait()
}

func (b *MDNSBrowser) record(e *mdns.ServiceEntry) {
	if e == nil {
		return
	}
	name := mdnsName(e.Host)
	if name == "" {
		return
	}
	var addrs []netip.Addr
	for _, ip := range []net.IP{e.AddrV4, e.AddrV6} {
		if a, ok := netip.AddrFromSlice(ip); ok && Probeable(a.Unmap()) {
			addrs = append(addrs, a.Unmap())
		}
	}
	if len(addrs) == 0 {
		return
	}

	b.mu.Lock()
	b.hosts[name] = announced{addrs: addrs, seen: b.now()}
	b.mu.Unlock()
}

func (b *MDNSBrowser) expire() {
	cutoff := b.now().Add(-2 * b.interval)
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, a := range b.hosts {
		if a.seen.Before(cutoff) {
			delete(b.hosts, name)
		}
	}
}

// Len returns the number of hosts currently known.
func (b *MDNSBrowser) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hosts)
}

// Lookup is a LookupFunc answering from announcements seen so far.
// "nas" and "nas.local" are the same host.
func (b *MDNSBrowser) Lookup(_ context.Context, host string) ([]netip.Addr, error) {
	name := mdnsName(host)
	b.mu.Lock()
	a, ok := b.hosts[name]
	b.mu.Unlock()
	if !ok || a.seen.Before(b.now().Add(-2*b.interval)) {
		return nil, errNotAnnounced
	}
	return append([]netip.Addr(nil), a.addrs...), nil
}

func mdnsName(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	return strings.TrimSuffix(host, ".local")
}

// FallbackLookup tries primary and consults fallback when primary fails
// or finds nothing.
func FallbackLookup(primary, fallback LookupFunc) LookupFunc {
	return func(ctx context.Context, host string) ([]netip.Addr, error) {
		addrs, err := primary(ctx, host)
		if err == nil && len(addrs) > 0 {
			return addrs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if fb, fbErr := fallback(ctx, host); fbErr == nil && len(fb) > 0 {
			return fb, nil
		}
		return addrs, err
	}
}
