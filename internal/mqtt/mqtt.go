// Package mqtt bridges host state to an MQTT broker for home automation.
// Status is published retained under <prefix>/hosts/<key>/status, wake
// attempts under <prefix>/hosts/<key>/wake, and when commands are enabled a
// message on <prefix>/wake/<host> wakes that host.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/config"
	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/plugin"
	"github.com/HerbHall/wolo/internal/registry"
	"github.com/HerbHall/wolo/internal/wol"
)

const disconnectQuiesceMs = 250

// Settings configures the MQTT bridge.
type Settings struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	Commands       bool          `mapstructure:"commands"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryInterval  time.Duration `mapstructure:"connect_retry_interval"`
}

// DefaultSettings returns the built-in bridge settings.
func DefaultSettings() Settings {
	return Settings{
		ClientID:       "wolo",
		TopicPrefix:    "wolo",
		ConnectTimeout: 10 * time.Second,
		RetryInterval:  30 * time.Second,
	}
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	if s.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	}
	if s.QoS < 0 || s.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos must be 0, 1 or 2, got %d", s.QoS))
	}
	if s.TopicPrefix == "" || strings.ContainsAny(s.TopicPrefix, "+#") {
		errs = append(errs, fmt.Errorf("invalid topic prefix %q", s.TopicPrefix))
	}
	if s.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must be positive, got %s", s.ConnectTimeout))
	}
	if s.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("connect_retry_interval must be positive, got %s", s.RetryInterval))
	}
	return errors.Join(errs...)
}

// Waker wakes a host by key, alias or address.
type Waker interface {
	Wake(ctx context.Context, name string) (*wol.WakeResult, error)
}

var _ plugin.Plugin = (*Module)(nil)

// Module is the "mqtt" runtime module.
type Module struct {
	hosts     *registry.Registry
	bus       event.Bus
	waker     Waker
	newClient func(*paho.ClientOptions) paho.Client

	logger   *zap.Logger
	settings Settings
	opts     *paho.ClientOptions
	ctx      context.Context
	unsub    []func()

	mu     sync.Mutex
	client paho.Client

	// statusMu orders retained status publishes so the last one written
	// reflects the registry's current state.
	statusMu sync.Mutex
}

// New creates the MQTT bridge. waker may be nil to ignore wake commands.
func New(hosts *registry.Registry, bus event.Bus, waker Waker) *Module {
	return &Module{hosts: hosts, bus: bus, waker: waker, newClient: paho.NewClient}
}

func (m *Module) Name() string    { return "mqtt" }
func (m *Module) Version() string { return "1.0.0" }

func (m *Module) Init(cfg *config.Config, logger *zap.Logger) error {
	m.logger = logger

	root := struct {
		MQTT Settings `mapstructure:"mqtt"`
	}{MQTT: DefaultSettings()}
	if err := cfg.Unmarshal(&root); err != nil {
		return fmt.Errorf("decode mqtt settings: %w", err)
	}
	if err := root.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt settings: %w", err)
	}
	m.settings = root.MQTT

	m.opts = paho.NewClientOptions().
		AddBroker(m.settings.Broker).
		SetClientID(m.settings.ClientID).
		SetUsername(m.settings.Username).
		SetPassword(m.settings.Password).
		SetConnectTimeout(m.settings.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(m.settings.RetryInterval).
		SetWill(m.availabilityTopic(), "offline", m.qos(), true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			m.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	logger.Info("mqtt module initialized",
		zap.String("broker", m.settings.Broker),
		zap.String("prefix", m.settings.TopicPrefix),
		zap.Bool("commands", m.settings.Commands),
	)
	return nil
}

// Start connects to the broker and begins forwarding events. An
// unreachable broker is not an error: the client keeps retrying in the
// background and onConnect publishes the full state once it succeeds.
func (m *Module) Start(ctx context.Context) error {
	if m.opts == nil {
		return errors.New("mqtt module not initialized")
	}
	m.ctx = ctx
	client := m.newClient(m.opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	tok := client.Connect()
	switch {
	case !tok.WaitTimeout(m.settings.ConnectTimeout):
		m.logger.Warn("mqtt broker not reachable yet, retrying in background",
			zap.String("broker", m.settings.Broker),
			zap.Duration("timeout", m.settings.ConnectTimeout),
			zap.Duration("retry_interval", m.settings.RetryInterval),
		)
	case tok.Error() != nil:
		m.logger.Warn("mqtt connect failed, retrying in background",
			zap.String("broker", m.settings.Broker),
			zap.Duration("retry_interval", m.settings.RetryInterval),
			zap.Error(tok.Error()),
		)
	}

	if m.bus != nil {
		m.unsub = append(m.unsub,
			m.bus.Subscribe(event.TopicHostStatusChanged, m.onStatusChange),
			m.bus.Subscribe(event.TopicHostWakeAttempted, m.onWakeAttempt),
		)
	}
	return nil
}

// Stop marks the bridge offline and disconnects.
func (m *Module) Stop() error {
	for _, u := range m.unsub {
		u()
	}
	m.unsub = nil

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client == nil {
		return nil
	}
	if client.IsConnectionOpen() {
		m.publishTo(client, m.availabilityTopic(), "offline", true)
	}
	client.Disconnect(disconnectQuiesceMs)
	return nil
}

func (m *Module) Routes() []plugin.Route { return nil }

// onConnect runs on every (re)connect: it republishes availability and the
// current status of every host, then restores the command subscription.
func (m *Module) onConnect(c paho.Client) {
	m.logger.Info("mqtt connected", zap.String("broker", m.settings.Broker))
	m.publishTo(c, m.availabilityTopic(), "online", true)
	if m.hosts != nil {
		for _, v := range m.hosts.Views() {
			m.publishTo(c, m.statusTopic(v.Key), string(v.Status), true)
		}
	}
	if m.settings.Commands && m.waker != nil {
		filter := m.settings.TopicPrefix + "/wake/+"
		if tok := c.Subscribe(filter, m.qos(), m.onWakeCommand); tok.WaitTimeout(m.settings.ConnectTimeout) && tok.Error() != nil {
			m.logger.Warn("mqtt subscribe failed", zap.String("topic", filter), zap.Error(tok.Error()))
		}
	}
}

// onStatusChange publishes the host's status as the registry holds it now,
// not as carried by the event, so handlers that run out of order still
// leave the newest status retained.
func (m *Module) onStatusChange(_ context.Context, e event.Event) {
	sc, ok := e.Payload.(event.StatusChange)
	if !ok {
		return
	}
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	status := sc.To
	if m.hosts != nil {
		if entry, err := m.hosts.Get(sc.Key); err == nil {
			status = string(entry.State.Status)
		}
	}
	m.publish(m.statusTopic(sc.Key), status, true)
}

func (m *Module) onWakeAttempt(_ context.Context, e event.Event) {
	wa, ok := e.Payload.(event.WakeAttempt)
	if !ok {
		return
	}
	body, err := json.Marshal(wa)
	if err != nil {
		m.logger.Warn("encode wake attempt", zap.Error(err))
		return
	}
	m.publish(m.hostTopic(wa.Key, "wake"), body, false)
}

func (m *Module) onWakeCommand(_ paho.Client, msg paho.Message) {
	name := strings.TrimPrefix(msg.Topic(), m.settings.TopicPrefix+"/wake/")
	if name == "" || strings.Contains(name, "/") {
		return
	}
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := m.waker.Wake(ctx, name)
	if err != nil {
		m.logger.Warn("mqtt wake command failed", zap.String("host", name), zap.Error(err))
		return
	}
	m.logger.Info("mqtt wake command",
		zap.String("host", name),
		zap.String("key", res.Key),
		zap.Int("sent", res.Sent()),
	)
}

func (m *Module) publish(topic string, payload any, retained bool) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return
	}
	m.publishTo(client, topic, payload, retained)
}

func (m *Module) publishTo(c paho.Client, topic string, payload any, retained bool) {
	tok := c.Publish(topic, m.qos(), retained, payload)
	if m.qos() == 0 {
		return
	}
	go func() {
		if tok.WaitTimeout(m.settings.ConnectTimeout) && tok.Error() != nil {
			m.logger.Debug("mqtt publish failed", zap.String("topic", topic), zap.Error(tok.Error()))
		}
	}()
}

func (m *Module) availabilityTopic() string { return m.settings.TopicPrefix + "/status" }

func (m *Module) statusTopic(key string) string { return m.hostTopic(key, "status") }

// topicEscaper replaces characters that are not allowed in a topic level.
var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func (m *Module) hostTopic(key, leaf string) string {
	return m.settings.TopicPrefix + "/hosts/" + topicEscaper.Replace(key) + "/" + leaf
}

func (m *Module) qos() byte { return byte(m.settings.QoS) }
