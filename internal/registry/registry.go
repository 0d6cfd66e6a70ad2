// Package registry holds the canonical host list together with each host's
// live network state.
//
// The set of keys is fixed at construction. Each entry has its own lock, so
// updates to one host never block readers or writers of another.
package registry

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/HerbHall/wolo/internal/merge"
	"github.com/HerbHall/wolo/pkg/models"
)

var (
	// ErrUnknownHost is returned for keys that are not in the registry.
	ErrUnknownHost = errors.New("unknown host")
	// ErrHostIgnored is returned when probing state is applied to an ignored host.
	ErrHostIgnored = errors.New("host is ignored")
)

type entry struct {
	mu    sync.RWMutex
	host  models.HostRecord
	state models.NetworkState
}

// Entry is a point-in-time copy of one host and its state.
type Entry struct {
	Host  models.HostRecord
	State models.NetworkState
}

// View projects the entry for presentation.
func (e Entry) View() models.HostView {
	return models.HostView{
		Key:               e.Host.Key,
		DisplayName:       e.Host.DisplayName(),
		Aliases:           e.Host.Aliases,
		Addresses:         e.Host.Addresses,
		MACs:              e.Host.MACs,
		Status:            e.State.Status,
		CanWake:           e.Host.CanWake(),
		Ignored:           e.Host.Ignored,
		LastProbeAt:       e.State.LastProbeAt,
		LastOnlineAt:      e.State.LastOnlineAt,
		LastWakeAttemptAt: e.State.LastWakeAttemptAt,
		LastWakeResults:   e.State.LastWakeResults,
		LastProbeTarget:   e.State.LastProbeTarget,
		LastLatencyMs:     float64(e.State.LastLatency) / float64(time.Millisecond),
		LastError:         e.State.LastError,
	}
}

// Registry maps canonical keys to host entries.
type Registry struct {
	entries map[string]*entry
	order   []string
	names   map[string]string // alias or address -> key
}

// New builds a registry from merged host records. Every host starts unknown.
// Record order is preserved by Keys and Snapshot.
func New(hosts []models.HostRecord) *Registry {
	r := &Registry{
		entries: make(map[string]*entry, len(hosts)),
		order:   make([]string, 0, len(hosts)),
		names:   make(map[string]string),
	}
	for _, h := range hosts {
		if _, dup := r.entries[h.Key]; dup {
			continue
		}
		r.entries[h.Key] = &entry{
			host:  h.Clone(),
			state: models.NetworkState{Status: models.HostStatusUnknown},
		}
		r.order = append(r.order, h.Key)
		for _, a := range h.Aliases {
			r.names[a] = h.Key
		}
		for _, a := range h.Addresses {
			r.names[a.String()] = h.Key
		}
	}
	return r
}

// Len returns the number of hosts.
func (r *Registry) Len() int { return len(r.order) }

// Keys returns all keys in record order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// Lookup resolves a key, alias or address literal to a canonical key.
// Names match the way they were merged: case-insensitive, trailing dot
// ignored.
func (r *Registry) Lookup(name string) (string, bool) {
	if _, ok := r.entries[name]; ok {
		return name, true
	}
	if k, ok := r.names[name]; ok {
		return k, true
	}
	if k, ok := r.names[merge.NormalizeHostname(name)]; ok {
		return k, true
	}
	if a, err := netip.ParseAddr(name); err == nil {
		k, ok := r.names[a.Unmap().String()]
		return k, ok
	}
	return "", false
}

// Get returns a copy of one entry.
func (r *Registry) Get(key string) (Entry, error) {
	e, ok := r.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownHost, key)
	}
	return e.snapshot(), nil
}

// Snapshot returns a consistent copy of every entry in record order.
// Each entry is copied under its own read lock.
func (r *Registry) Snapshot() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k].snapshot())
	}
	return out
}

// Views returns the presentation view of every host.
func (r *Registry) Views() []models.HostView {
	snap := r.Snapshot()
	out := make([]models.HostView, len(snap))
	for i, e := range snap {
		out[i] = e.View()
	}
	return out
}

// UpdateState applies a probe result to one host atomically.
func (r *Registry) UpdateState(key string, res models.ProbeResult, th Thresholds) (Transition, error) {
	e, ok := r.entries[key]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s", ErrUnknownHost, key)
	}
	if e.host.Ignored {
		return Transition{}, fmt.Errorf("%w: %s", ErrHostIgnored, key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	from, to := applyProbe(&e.state, res, th)
	return Transition{Key: key, From: from, To: to}, nil
}

// RecordWakeAttempt stamps the last wake attempt and its per-MAC outcome.
// Status is unaffected.
func (r *Registry) RecordWakeAttempt(key string, results []models.MACResult, at time.Time) error {
	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHost, key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LastWakeAttemptAt = &at
	e.state.LastWakeResults = append([]models.MACResult(nil), results...)
	return nil
}

func (e *entry) snapshot() Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.state
	st.LastWakeResults = append([]models.MACResult(nil), e.state.LastWakeResults...)
	return Entry{Host: e.host.Clone(), State: st}
}
