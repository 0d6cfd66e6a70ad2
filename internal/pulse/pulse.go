// Package pulse keeps host reachability current: it probes every
// non-ignored host on an interval and applies debounced status transitions
// to the registry.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/config"
	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/metrics"
	"github.com/HerbHall/wolo/internal/plugin"
	"github.com/HerbHall/wolo/internal/registry"
	"github.com/HerbHall/wolo/internal/server"
)

// Probe methods.
const (
	MethodICMP = "icmp"
	MethodTCP  = "tcp"
)

// Settings configures the pulse module.
type Settings struct {
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Concurrency      int           `mapstructure:"concurrency"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Method           string        `mapstructure:"method"`
	TCPPorts         []int         `mapstructure:"tcp_ports"`
	PingCount        int           `mapstructure:"ping_count"`
	Privileged       bool          `mapstructure:"privileged"`
	ResolveTTL       time.Duration `mapstructure:"resolve_ttl"`
	MDNS             bool          `mapstructure:"mdns"`
	MDNSInterval     time.Duration `mapstructure:"mdns_interval"`
}

// DefaultSettings returns the built-in pulse settings. Windows has no
// unprivileged ICMP sockets, so raw mode is the default there.
func DefaultSettings() Settings {
	th := registry.DefaultThresholds()
	return Settings{
		Interval:         10 * time.Second,
		Timeout:          2 * time.Second,
		Concurrency:      16,
		SuccessThreshold: th.Success,
		FailureThreshold: th.Failure,
		Method:           MethodICMP,
		TCPPorts:         []int{22, 80, 443},
		PingCount:        1,
		Privileged:       runtime.GOOS == "windows",
		ResolveTTL:       15 * time.Second,
		MDNSInterval:     time.Minute,
	}
}

// Thresholds returns the debounce thresholds.
func (s Settings) Thresholds() registry.Thresholds {
	return registry.Thresholds{Success: s.SuccessThreshold, Failure: s.FailureThreshold}
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	if s.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", s.Interval))
	}
	if s.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", s.Timeout))
	}
	if s.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", s.Concurrency))
	}
	if s.MDNS && s.MDNSInterval <= 0 {
		errs = append(errs, fmt.Errorf("mdns_interval must be positive, got %s", s.MDNSInterval))
	}
	if err := s.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch s.Method {
	case MethodICMP:
		if s.PingCount < 1 {
			errs = append(errs, fmt.Errorf("ping_count must be >= 1, got %d", s.PingCount))
		}
	case MethodTCP:
		if len(s.TCPPorts) == 0 {
			errs = append(errs, errors.New("tcp method needs at least one port"))
		}
		for _, p := range s.TCPPorts {
			if p < 1 || p > 65535 {
				errs = append(errs, fmt.Errorf("tcp port %d out of range", p))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown probe method %q", s.Method))
	}
	return errors.Join(errs...)
}

// NewChecker builds the checker selected by Method.
func (s Settings) NewChecker() Checker {
	if s.Method == MethodTCP {
		return NewTCPChecker(s.Timeout, s.TCPPorts...)
	}
	return NewICMPChecker(s.Timeout, s.PingCount).WithPrivileged(s.Privileged)
}

var _ plugin.Plugin = (*Module)(nil)

// Module runs the Prober as the "pulse" runtime module.
type Module struct {
	reg     *registry.Registry
	bus     event.Publisher
	metrics *metrics.Metrics
	checker Checker

	logger   *zap.Logger
	settings Settings
	prober   *Prober
	browser  *MDNSBrowser

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the pulse module. A nil checker selects one from settings.
func New(reg *registry.Registry, bus event.Publisher, m *metrics.Metrics, checker Checker) *Module {
	return &Module{reg: reg, bus: bus, metrics: m, checker: checker}
}

func (m *Module) Name() string    { return "pulse" }
func (m *Module) Version() string { return "1.0.0" }

func (m *Module) Init(cfg *config.Config, logger *zap.Logger) error {
	m.logger = logger

	root := struct {
		Pulse Settings `mapstructure:"pulse"`
	}{Pulse: DefaultSettings()}
	if err := cfg.Unmarshal(&root); err != nil {
		return fmt.Errorf("decode pulse settings: %w", err)
	}
	if err := root.Pulse.Validate(); err != nil {
		return fmt.Errorf("pulse settings: %w", err)
	}
	m.settings = root.Pulse

	checker := m.checker
	if checker == nil {
		checker = m.settings.NewChecker()
	}
	lookup := LookupFunc(SystemLookup)
	if m.settings.MDNS {
		m.browser = NewMDNSBrowser(m.settings.MDNSInterval, logger.Named("mdns"))
		lookup = FallbackLookup(SystemLookup, m.browser.Lookup)
	}
	m.prober = NewProber(m.reg, checker, NewResolverWithLookup(m.settings.ResolveTTL, lookup), ProberConfig{
		Interval:    m.settings.Interval,
		Timeout:     m.settings.Timeout,
		Concurrency: m.settings.Concurrency,
		Thresholds:  m.settings.Thresholds(),
	}, m.bus, m.metrics, logger)

	logger.Info("pulse module initialized",
		zap.String("method", m.settings.Method),
		zap.Duration("interval", m.settings.Interval),
		zap.Duration("timeout", m.settings.Timeout),
		zap.Int("concurrency", m.settings.Concurrency),
		zap.Int("success_threshold", m.settings.SuccessThreshold),
		zap.Int("failure_threshold", m.settings.FailureThreshold),
		zap.Bool("mdns", m.settings.MDNS),
	)
	return nil
}

// Start launches the probe loop in the background.
func (m *Module) Start(ctx context.Context) error {
	if m.prober == nil {
		return errors.New("pulse module not initialized")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	if m.browser != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.browser.Run(ctx)
		}()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.prober.Run(ctx)
	}()
	return nil
}

// Stop cancels the probe loop and waits for in-flight probes to end.
func (m *Module) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	return nil
}

// Prober returns the prober built by Init.
func (m *Module) Prober() *Prober { return m.prober }

func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
	}
}

type statusResponse struct {
	Method      string     `json:"method"`
	Interval    string     `json:"interval"`
	Cycles      uint64     `json:"cycles"`
	LastCycle   CycleStats `json:"last_cycle"`
	Concurrency int        `json:"concurrency"`
}

func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	if m.prober == nil {
		server.Unavailable(w, "pulse module not initialized", r.URL.Path)
		return
	}
	last, cycles := m.prober.Last()
	server.WriteJSON(w, http.StatusOK, statusResponse{
		Method:      m.settings.Method,
		Interval:    m.settings.Interval.String(),
		Cycles:      cycles,
		LastCycle:   last,
		Concurrency: m.settings.Concurrency,
	})
}
