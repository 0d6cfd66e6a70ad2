package pulse

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/HerbHall/wolo/pkg/models"
)

// Probeable reports whether a is a unicast address worth probing.
// Loopback, link-local, multicast, unspecified and broadcast addresses are not.
func Probeable(a netip.Addr) bool {
	return a.IsValid() &&
		!a.IsUnspecified() &&
		!a.IsLoopback() &&
		!a.IsMulticast() &&
		!a.IsLinkLocalUnicast() &&
		!a.IsInterfaceLocalMulticast() &&
		a != netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// LookupFunc resolves a hostname to addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

type cached struct {
	addrs   []netip.Addr
	expires time.Time
}

// Resolver picks probe targets for a host. Configured addresses win; hosts
// with none are resolved by name, with results (including failures) cached
// for the TTL.
type Resolver struct {
	lookup LookupFunc
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

// SystemLookup resolves through the operating system resolver.
func SystemLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// NewResolver creates a resolver backed by the system resolver.
func NewResolver(ttl time.Duration) *Resolver {
	return NewResolverWithLookup(ttl, SystemLookup)
}

// NewResolverWithLookup creates a resolver with a custom lookup function.
func NewResolverWithLookup(ttl time.Duration, lookup LookupFunc) *Resolver {
	return &Resolver{
		lookup: lookup,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cached),
	}
}

// Targets returns the probeable addresses for h, in preference order.
func (r *Resolver) Targets(ctx context.Context, h models.HostRecord) []netip.Addr {
	if out := probeable(h.Addresses); len(out) > 0 {
		return out
	}

	names := append([]string{h.Key}, h.Aliases...)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := netip.ParseAddr(name); err == nil {
			continue
		}
		if out := probeable(r.resolve(ctx, name)); len(out) > 0 {
			return out
		}
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, name string) []netip.Addr {
	now := r.now()
	r.mu.Lock()
	c, ok := r.cache[name]
	r.mu.Unlock()
	if ok && now.Before(c.expires) {
		return c.addrs
	}

	addrs, err := r.lookup(ctx, name)
	if err != nil && ctx.Err() != nil {
		// A lookup cut short by the probe deadline says nothing about the name.
		return nil
	}
	if err != nil {
		addrs = nil
	}

	r.mu.Lock()
	r.cache[name] = cached{addrs: addrs, expires: now.Add(r.ttl)}
	r.mu.Unlock()
	return addrs
}

func probeable(addrs []netip.Addr) []netip.Addr {
	var out []netip.Addr
	for _, a := range addrs {
		if a = a.Unmap(); Probeable(a) && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}
