package models

import (
	"net/netip"
	"time"
)

// HostStatus is the debounced reachability of a host.
type HostStatus string

const (
	HostStatusUnknown HostStatus = "unknown"
	HostStatusOnline  HostStatus = "online"
	HostStatusOffline HostStatus = "offline"
)

// HostRecord is the canonical, merged identity of one machine.
// The key never changes once assigned.
type HostRecord struct {
	Key           string       `json:"key"`
	Aliases       []string     `json:"aliases"`
	Addresses     []netip.Addr `json:"addresses"`
	MACs          []MAC        `json:"macs"`
	PreferredName string       `json:"preferred_name,omitempty"`
	Ignored       bool         `json:"ignored"`
}

// DisplayName returns the preferred name if one was configured, else the key.
func (h HostRecord) DisplayName() string {
	if h.PreferredName != "" {
		return h.PreferredName
	}
	return h.Key
}

// CanWake reports whether at least one MAC is known.
func (h HostRecord) CanWake() bool {
	return len(h.MACs) > 0
}

// Clone returns a deep copy.
func (h HostRecord) Clone() HostRecord {
	c := h
	c.Aliases = append([]string(nil), h.Aliases...)
	c.Addresses = append([]netip.Addr(nil), h.Addresses...)
	c.MACs = append([]MAC(nil), h.MACs...)
	return c
}

// NetworkState is the mutable liveness state tracked for each host.
type NetworkState struct {
	Status               HostStatus  `json:"status"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	LastProbeAt          *time.Time  `json:"last_probe_at,omitempty"`
	LastOnlineAt         *time.Time  `json:"last_online_at,omitempty"`
	LastWakeAttemptAt    *time.Time  `json:"last_wake_attempt_at,omitempty"`
	LastWakeResults      []MACResult `json:"last_wake_results,omitempty"`

	// Detail of the most recent probe. LastLatency is zero and LastError
	// set when it failed.
	LastProbeTarget string        `json:"last_probe_target,omitempty"`
	LastLatency     time.Duration `json:"last_latency,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
}

// ProbeResult is the outcome of a single reachability probe.
type ProbeResult struct {
	Success bool
	Target  string
	Latency time.Duration
	Error   string
	At      time.Time
}

// MACResult is the per-MAC outcome of a wake attempt.
type MACResult struct {
	MAC   MAC    `json:"mac"`
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// HostView is the read-only projection served to front ends.
type HostView struct {
	Key               string       `json:"key"`
	DisplayName       string       `json:"display_name"`
	Aliases           []string     `json:"aliases"`
	Addresses         []netip.Addr `json:"addresses"`
	MACs              []MAC        `json:"macs"`
	Status            HostStatus   `json:"status"`
	CanWake           bool         `json:"can_wake"`
	Ignored           bool         `json:"ignored"`
	LastProbeAt       *time.Time   `json:"last_probe_at,omitempty"`
	LastOnlineAt      *time.Time   `json:"last_online_at,omitempty"`
	LastWakeAttemptAt *time.Time   `json:"last_wake_attempt_at,omitempty"`
	LastWakeResults   []MACResult  `json:"last_wake_results,omitempty"`
	LastProbeTarget   string       `json:"last_probe_target,omitempty"`
	LastLatencyMs     float64      `json:"last_latency_ms,omitempty"`
	LastError         string       `json:"last_error,omitempty"`
}
