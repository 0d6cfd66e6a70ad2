package wol

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/wolo/internal/config"
	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/metrics"
	"github.com/HerbHall/wolo/internal/plugin"
	"github.com/HerbHall/wolo/internal/registry"
)

// Settings configures the wake module.
type Settings struct {
	Port      int     `mapstructure:"port"`
	Broadcast string  `mapstructure:"broadcast"`
	RateLimit float64 `mapstructure:"rate_limit"` // wake requests per second per host
	Burst     int     `mapstructure:"burst"`
}

// DefaultSettings returns the built-in wake settings.
func DefaultSettings() Settings {
	return Settings{
		Port:      DefaultPort,
		Broadcast: "255.255.255.255",
		RateLimit: 1,
		Burst:     3,
	}
}

// Validate checks the settings and returns the parsed broadcast address.
func (s Settings) Validate() (netip.Addr, error) {
	if s.Port < 1 || s.Port > 65535 {
		return netip.Addr{}, fmt.Errorf("wake port %d out of range", s.Port)
	}
	addr, err := netip.ParseAddr(s.Broadcast)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("wake broadcast address: %w", err)
	}
	if s.RateLimit <= 0 || s.Burst < 1 {
		return netip.Addr{}, fmt.Errorf("wake rate limit must be positive (rate=%v burst=%d)", s.RateLimit, s.Burst)
	}
	return addr, nil
}

var _ plugin.Plugin = (*Module)(nil)

// Module exposes the Dispatcher as the "wake" runtime module.
type Module struct {
	reg     *registry.Registry
	bus     event.Publisher
	metrics *metrics.Metrics
	sender  Sender
	scope   Scope

	logger     *zap.Logger
	settings   Settings
	dispatcher *Dispatcher

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates the wake module. sender and scope may be nil, in which case
// a UDPSender and the local interface scope are used.
func New(reg *registry.Registry, bus event.Publisher, m *metrics.Metrics, sender Sender, scope Scope) *Module {
	return &Module{
		reg:      reg,
		bus:      bus,
		metrics:  m,
		sender:   sender,
		scope:    scope,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (m *Module) Name() string    { return "wake" }
func (m *Module) Version() string { return "1.0.0" }

func (m *Module) Init(cfg *config.Config, logger *zap.Logger) error {
	m.logger = logger

	root := struct {
		Wake Settings `mapstructure:"wake"`
	}{Wake: DefaultSettings()}
	if err := cfg.Unmarshal(&root); err != nil {
		return fmt.Errorf("decode wake settings: %w", err)
	}
	broadcast, err := root.Wake.Validate()
	if err != nil {
		return err
	}
	m.settings = root.Wake

	if m.sender == nil {
		m.sender = NewUDPSender(2 * time.Second)
	}
	if m.scope == nil {
		s, err := InterfaceScope()
		if err != nil {
			logger.Warn("interface scope unavailable, using general broadcast only", zap.Error(err))
		} else {
			m.scope = s
			logger.Debug("wake scope", zap.Int("prefixes", len(s.Prefixes())))
		}
	}

	opts := []Option{
		WithBroadcast(broadcast),
		WithPort(uint16(m.settings.Port)),
		WithMetrics(m.metrics),
	}
	if m.scope != nil {
		opts = append(opts, WithScope(m.scope))
	}
	if m.bus != nil {
		opts = append(opts, WithPublisher(m.bus))
	}
	m.dispatcher = NewDispatcher(m.reg, m.sender, logger, opts...)

	logger.Info("wake module initialized",
		zap.Int("port", m.settings.Port),
		zap.String("broadcast", m.settings.Broadcast),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop() error { return nil }

// Dispatcher returns the dispatcher built by Init.
func (m *Module) Dispatcher() *Dispatcher { return m.dispatcher }

func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "", Handler: m.handleWakeForm},
		{Method: "POST", Path: "/{key}", Handler: m.handleWake},
	}
}

// ErrRateLimited is returned by Module.Wake when a host's request budget
// is spent.
var ErrRateLimited = errors.New("too many wake requests")

// Wake resolves name (key, alias or address) and wakes the host, subject to
// the per-host rate limit. HTTP and MQTT requests both come through here.
func (m *Module) Wake(ctx context.Context, name string) (*WakeResult, error) {
	if m.dispatcher == nil {
		return nil, errors.New("wake module not initialized")
	}
	key, ok := m.reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}
	if !m.allow(key) {
		return nil, fmt.Errorf("%w for %s", ErrRateLimited, key)
	}
	return m.dispatcher.Wake(ctx, key)
}

// allow applies the per-host request rate limit.
func (m *Module) allow(key string) bool {
	m.limMu.Lock()
	defer m.limMu.Unlock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(m.settings.RateLimit), m.settings.Burst)
		m.limiters[key] = l
	}
	return l.Allow()
}
