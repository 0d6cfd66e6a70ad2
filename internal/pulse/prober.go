package pulse

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/metrics"
	"github.com/HerbHall/wolo/internal/registry"
	"github.com/HerbHall/wolo/pkg/models"
)

// TargetResolver picks the addresses to probe for a host.
type TargetResolver interface {
	Targets(ctx context.Context, h models.HostRecord) []netip.Addr
}

// CycleStats summarizes one probe cycle.
type CycleStats struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Probed      int           `json:"probed"`
	Skipped     int           `json:"skipped"`
	Transitions int           `json:"transitions"`
	Online      int           `json:"online"`
	Offline     int           `json:"offline"`
	Unknown     int           `json:"unknown"`
	Aborted     bool          `json:"aborted,omitempty"`
}

// ProberConfig holds the tunables of a Prober.
type ProberConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	Thresholds  registry.Thresholds
}

// Prober periodically probes every non-ignored host and folds the results
// into the registry.
type Prober struct {
	reg      *registry.Registry
	checker  Checker
	resolver TargetResolver
	cfg      ProberConfig
	bus      event.Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	last   CycleStats
	cycles uint64
}

// NewProber creates a prober. bus and m may be nil.
func NewProber(reg *registry.Registry, checker Checker, resolver TargetResolver, cfg ProberConfig,
	bus event.Publisher, m *metrics.Metrics, logger *zap.Logger) *Prober {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Thresholds.Validate() != nil {
		cfg.Thresholds = registry.DefaultThresholds()
	}
	return &Prober{
		reg:      reg,
		checker:  checker,
		resolver: resolver,
		cfg:      cfg,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used to stamp probe results.
func (p *Prober) SetClock(now func() time.Time) { p.now = now }

// Last returns the stats of the most recent completed cycle and the number
// of cycles run so far.
func (p *Prober) Last() (CycleStats, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.cycles
}

// Run probes immediately and then once per interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.RunCycle(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle probes every non-ignored host once, with at most Concurrency
// probes in flight, and returns when all of them have finished. Results of
// probes still running when ctx is cancelled are discarded.
func (p *Prober) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	stats := CycleStats{StartedAt: p.now()}

	var (
		g           errgroup.Group
		probed      atomic.Int32
		transitions atomic.Int32
	)
	g.SetLimit(p.cfg.Concurrency)

	for _, e := range p.reg.Snapshot() {
		if e.Host.Ignored {
			stats.Skipped++
			continue
		}
		if ctx.Err() != nil {
			stats.Aborted = true
			break
		}
		host := e.Host
		g.Go(func() error {
			applied, changed := p.probeHost(ctx, host)
			if applied {
				probed.Add(1)
			}
			if changed {
				transitions.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Probed = int(probed.Load())
	stats.Transitions = int(transitions.Load())
	stats.Duration = time.Since(start)
	if ctx.Err() != nil {
		stats.Aborted = true
	}

	counts := make(map[models.HostStatus]int, 3)
	for _, e := range p.reg.Snapshot() {
		counts[e.State.Status]++
	}
	stats.Online = counts[models.HostStatusOnline]
	stats.Offline = counts[models.HostStatusOffline]
	stats.Unknown = counts[models.HostStatusUnknown]

	p.metrics.UpdateHostCounts(counts)
	p.metrics.RecordCycle(stats.Duration)

	p.mu.Lock()
	p.last = stats
	p.cycles++
	p.mu.Unlock()

	p.logger.Debug("probe cycle completed",
		zap.Int("probed", stats.Probed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("transitions", stats.Transitions),
		zap.Duration("duration", stats.Duration),
	)
	if p.bus != nil && !stats.Aborted {
		p.bus.PublishAsync(context.WithoutCancel(ctx), event.New(event.TopicProbeCycleDone, "pulse", event.CycleSummary{
			Probed:      stats.Probed,
			Online:      stats.Online,
			Offline:     stats.Offline,
			Transitions: stats.Transitions,
			Duration:    stats.Duration,
		}))
	}
	return stats
}

// probeHost probes one host and applies the result. applied is false when
// the result was discarded because ctx ended.
func (p *Prober) probeHost(ctx context.Context, h models.HostRecord) (applied, changed bool) {
	if ctx.Err() != nil {
		return false, false
	}
	res := p.probe(ctx, h)
	if ctx.Err() != nil {
		return false, false
	}

	tr, err := p.reg.UpdateState(h.Key, res, p.cfg.Thresholds)
	if err != nil {
		p.logger.Warn("state update rejected", zap.String("key", h.Key), zap.Error(err))
		return false, false
	}
	if !res.Success {
		p.logger.Debug("probe failed",
			zap.String("key", h.Key),
			zap.String("target", res.Target),
			zap.String("error", res.Error),
		)
	}
	if tr.Changed() {
		p.onTransition(ctx, tr)
	}
	return true, tr.Changed()
}

// probe runs the checker against the host's targets in order until one
// answers. A panicking checker yields a failed result.
func (p *Prober) probe(ctx context.Context, h models.HostRecord) (res models.ProbeResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe panicked", zap.String("key", h.Key), zap.Any("panic", r))
			res = models.ProbeResult{Error: fmt.Sprintf("probe panicked: %v", r)}
		}
		res.At = p.now()
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		p.metrics.RecordProbe(res.Success, time.Since(start))
	}()

	pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	targets := p.resolver.Targets(pctx, h)
	if len(targets) == 0 {
		return models.ProbeResult{Error: "no probeable address"}
	}

	for _, t := range targets {
		if pctx.Err() != nil {
			break
		}
		cr, err := p.checker.Check(pctx, t.String())
		switch {
		case err != nil:
			res = models.ProbeResult{Target: t.String(), Error: err.Error()}
		case cr == nil:
			res = models.ProbeResult{Target: t.String(), Error: "checker returned no result"}
		case cr.Success:
			return models.ProbeResult{
				Success: true,
				Target:  t.String(),
				Latency: time.Duration(cr.LatencyMs * float64(time.Millisecond)),
			}
		default:
			res = models.ProbeResult{Target: t.String(), Error: cr.ErrorMessage}
		}
	}
	if res.Error == "" {
		res.Error = "probe timed out"
	}
	return res
}

func (p *Prober) onTransition(ctx context.Context, tr registry.Transition) {
	p.logger.Info("host status changed",
		zap.String("key", tr.Key),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
	)
	p.metrics.RecordTransition(tr.To)
	if p.bus != nil {
		p.bus.PublishAsync(context.WithoutCancel(ctx), event.New(event.TopicHostStatusChanged, "pulse", event.StatusChange{
			Key:  tr.Key,
			From: string(tr.From),
			To:   string(tr.To),
		}))
	}
}
