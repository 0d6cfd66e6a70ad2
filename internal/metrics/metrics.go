package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HerbHall/wolo/pkg/models"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Probe metrics
	Probes        *prometheus.CounterVec
	ProbeDuration prometheus.Histogram
	CycleDuration prometheus.Histogram
	Transitions   *prometheus.CounterVec
	Hosts         *prometheus.GaugeVec

	// Wake metrics
	WakeRequests *prometheus.CounterVec
	WakePackets  *prometheus.CounterVec

	// Source metrics
	SourceWarnings *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Probes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wolo_probes_total",
				Help: "Reachability probes by outcome",
			},
			[]string{"outcome"}, // success, failure
		),
		ProbeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wolo_probe_duration_seconds",
				Help:    "Duration of individual reachability probes",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5, 10},
			},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wolo_probe_cycle_duration_seconds",
				Help:    "Duration of a full probe cycle over all hosts",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wolo_host_transitions_total",
				Help: "Host status transitions by target status",
			},
			[]string{"to"},
		),
		Hosts: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wolo_hosts",
				Help: "Number of hosts by status",
			},
			[]string{"status"},
		),
		WakeRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wolo_wake_requests_total",
				Help: "Wake requests by result",
			},
			[]string{"result"}, // sent, partial, failed, no_mac, not_found
		),
		WakePackets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wolo_wake_packets_total",
				Help: "Magic packets by send result",
			},
			[]string{"result"}, // sent, failed
		),
		SourceWarnings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wolo_source_warnings_total",
				Help: "Skipped configuration entries by source kind",
			},
			[]string{"kind"}, // hosts, ethers, config, override, merge
		),
	}
}

// RecordProbe records one probe outcome.
func (m *Metrics) RecordProbe(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.Probes.WithLabelValues(outcome).Inc()
	m.ProbeDuration.Observe(d.Seconds())
}

// RecordCycle records a completed probe cycle.
func (m *Metrics) RecordCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// RecordTransition records a status change.
func (m *Metrics) RecordTransition(to models.HostStatus) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(to)).Inc()
}

// UpdateHostCounts sets the per-status host gauges.
func (m *Metrics) UpdateHostCounts(counts map[models.HostStatus]int) {
	if m == nil {
		return
	}
	for _, s := range []models.HostStatus{models.HostStatusUnknown, models.HostStatusOnline, models.HostStatusOffline} {
		m.Hosts.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// RecordWake records one wake request and its per-packet results.
func (m *Metrics) RecordWake(result string, sent, failed int) {
	if m == nil {
		return
	}
	m.WakeRequests.WithLabelValues(result).Inc()
	if sent > 0 {
		m.WakePackets.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		m.WakePackets.WithLabelValues("failed").Add(float64(failed))
	}
}

// RecordSourceWarning records a skipped configuration entry.
func (m *Metrics) RecordSourceWarning(kind string) {
	if m == nil {
		return
	}
	m.SourceWarnings.WithLabelValues(kind).Inc()
}
