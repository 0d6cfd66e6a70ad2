package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/config"
	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/registry"
	"github.com/HerbHall/wolo/internal/testutil"
	"github.com/HerbHall/wolo/internal/wol"
	"github.com/HerbHall/wolo/pkg/models"
)

type doneToken struct {
	err     error
	pending bool
}

func (t doneToken) Wait() bool                     { return !t.pending }
func (t doneToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeClient implements the parts of paho.Client the bridge uses.
type fakeClient struct {
	paho.Client

	connectErr     error
	connectPending bool

	mu           sync.Mutex
	connected    bool
	published    []published
	subscribed   map[string]paho.MessageHandler
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil && !c.connectPending
	return doneToken{err: c.connectErr, pending: c.connectPending}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// brokerUp simulates a background reconnect succeeding.
func (c *fakeClient) brokerUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var p string
	switch v := payload.(type) {
	case string:
		p = v
	case []byte:
		p = string(v)
	}
	c.published = append(c.published, published{topic, p, retained})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == nil {
		c.subscribed = map[string]paho.MessageHandler{}
	}
	c.subscribed[topic] = h
	return doneToken{}
}

func (c *fakeClient) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return c.published[i], true
		}
	}
	return published{}, false
}

type fakeMessage struct {
	paho.Message
	topic string
}

func (m fakeMessage) Topic() string { return m.topic }

type fakeWaker struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (w *fakeWaker) Wake(_ context.Context, name string) (*wol.WakeResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.names = append(w.names, name)
	if w.err != nil {
		return nil, w.err
	}
	return &wol.WakeResult{Key: name}, nil
}

func newModule(t *testing.T, client *fakeClient, bus event.Bus, waker Waker, commands bool) *Module {
	t.Helper()
	hosts := registry.New([]models.HostRecord{
		testutil.NewHost(testutil.WithKey("nas")),
		testutil.NewHost(testutil.WithKey("10.0.0.1#2"), testutil.WithAddrs("10.0.0.1")),
	})
	m := New(hosts, bus, waker)
	m.newClient = func(*paho.ClientOptions) paho.Client { return client }

	v := viper.New()
	v.Set("mqtt.broker", "tcp://127.0.0.1:1883")
	v.Set("mqtt.commands", commands)
	require.NoError(t, m.Init(config.New(v), zap.NewNop()))
	return m
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(*Settings) {}, false},
		{"no broker", func(s *Settings) { s.Broker = "" }, true},
		{"bad qos", func(s *Settings) { s.QoS = 3 }, true},
		{"wildcard prefix", func(s *Settings) { s.TopicPrefix = "home/#" }, true},
		{"empty prefix", func(s *Settings) { s.TopicPrefix = "" }, true},
		{"zero timeout", func(s *Settings) { s.ConnectTimeout = 0 }, true},
		{"zero retry interval", func(s *Settings) { s.RetryInterval = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.Broker = "tcp://broker:1883"
			tt.mutate(&s)
			assert.Equal(t, tt.wantErr, s.Validate() != nil)
		})
	}
}

func TestInitRequiresBroker(t *testing.T) {
	m := New(registry.New(nil), nil, nil)
	assert.Error(t, m.Init(config.New(viper.New()), zap.NewNop()))
}

func TestInitEnablesConnectRetry(t *testing.T) {
	m := newModule(t, &fakeClient{}, nil, nil, false)
	assert.True(t, m.opts.ConnectRetry)
	assert.Equal(t, 30*time.Second, m.opts.ConnectRetryInterval)
	assert.True(t, m.opts.AutoReconnect)
}

func TestStartBrokerUnreachable(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"refused", &fakeClient{connectErr: errors.New("connection refused")}},
		{"timed out", &fakeClient{connectPending: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := event.NewBus(zap.NewNop())
			m := newModule(t, tt.client, bus, nil, false)
			require.NoError(t, m.Start(context.Background()))

			// Nothing is published while the broker is down.
			require.NoError(t, bus.Publish(context.Background(), event.New(event.TopicHostStatusChanged, "pulse",
				event.StatusChange{Key: "nas", From: "unknown", To: "offline"})))
			_, ok := tt.client.last("wolo/hosts/nas/status")
			assert.False(t, ok)

			// The retrying client connects later and the bridge catches up.
			tt.client.brokerUp()
			m.onConnect(tt.client)
			p, ok := tt.client.last("wolo/status")
			require.True(t, ok)
			assert.Equal(t, "online", p.payload)
			_, ok = tt.client.last("wolo/hosts/nas/status")
			assert.True(t, ok)

			require.NoError(t, m.Stop())
			assert.True(t, tt.client.disconnected)
		})
	}
}

func TestStopWhileDisconnected(t *testing.T) {
	client := &fakeClient{connectPending: true}
	m := newModule(t, client, nil, nil, false)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())

	_, ok := client.last("wolo/status")
	assert.False(t, ok, "no offline publish without a connection")
	assert.True(t, client.disconnected, "disconnect stops the retry loop")
}

func TestStartBeforeInit(t *testing.T) {
	assert.Error(t, New(nil, nil, nil).Start(context.Background()))
}

func TestOnConnectPublishesStatus(t *testing.T) {
	client := &fakeClient{}
	m := newModule(t, client, nil, &fakeWaker{}, true)
	require.NoError(t, m.Start(context.Background()))

	m.onConnect(client)

	p, ok := client.last("wolo/status")
	require.True(t, ok)
	assert.Equal(t, "online", p.payload)
	assert.True(t, p.retained)

	p, ok = client.last("wolo/hosts/nas/status")
	require.True(t, ok)
	assert.Equal(t, "unknown", p.payload)

	_, ok = client.last("wolo/hosts/10.0.0.1_2/status")
	assert.True(t, ok, "wildcard characters in keys are escaped")

	assert.Contains(t, client.subscribed, "wolo/wake/+")
}

func TestForwardsBusEvents(t *testing.T) {
	client := &fakeClient{}
	bus := event.NewBus(zap.NewNop())
	m := newModule(t, client, bus, nil, false)
	require.NoError(t, m.Start(context.Background()))

	ctx := context.Background()
	_, err := m.hosts.UpdateState("nas", models.ProbeResult{Success: true, At: time.Now()}, registry.DefaultThresholds())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, event.New(event.TopicHostStatusChanged, "pulse", event.StatusChange{
		Key: "nas", From: "unknown", To: "online",
	})))
	require.NoError(t, bus.Publish(ctx, event.New(event.TopicHostWakeAttempted, "wake", event.WakeAttempt{
		Key: "nas", RequestID: "r1", Sent: []string{"00:11:22:33:44:55"},
	})))

	assert.Eventually(t, func() bool {
		p, ok := client.last("wolo/hosts/nas/status")
		return ok && p.payload == "online" && p.retained
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		p, ok := client.last("wolo/hosts/nas/wake")
		if !ok || p.retained {
			return false
		}
		var wa event.WakeAttempt
		return json.Unmarshal([]byte(p.payload), &wa) == nil && wa.RequestID == "r1"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	p, ok := client.last("wolo/status")
	require.True(t, ok)
	assert.Equal(t, "offline", p.payload)
	assert.True(t, client.disconnected)
}

func TestWakeCommand(t *testing.T) {
	client := &fakeClient{}
	waker := &fakeWaker{}
	m := newModule(t, client, nil, waker, true)
	require.NoError(t, m.Start(context.Background()))

	m.onWakeCommand(client, fakeMessage{topic: "wolo/wake/nas"})
	m.onWakeCommand(client, fakeMessage{topic: "wolo/wake/"})
	m.onWakeCommand(client, fakeMessage{topic: "wolo/wake/a/b"})

	assert.Equal(t, []string{"nas"}, waker.names)

	waker.err = wol.ErrNoMacAddress
	m.onWakeCommand(client, fakeMessage{topic: "wolo/wake/nas"})
	assert.Len(t, waker.names, 2)
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, New(nil, nil, nil).Stop())
}

func TestStatusPublishUsesCurrentState(t *testing.T) {
	client := &fakeClient{}
	bus := event.NewBus(zap.NewNop())
	m := newModule(t, client, bus, nil, false)
	require.NoError(t, m.Start(context.Background()))

	now := time.Now()
	th := registry.DefaultThresholds()
	_, err := m.hosts.UpdateState("nas", models.ProbeResult{At: now}, th)
	require.NoError(t, err)
	_, err = m.hosts.UpdateState("nas", models.ProbeResult{Success: true, At: now.Add(time.Second)}, th)
	require.NoError(t, err)

	// The earlier transition is delivered last.
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event.New(event.TopicHostStatusChanged, "pulse",
		event.StatusChange{Key: "nas", From: "offline", To: "online"})))
	require.NoError(t, bus.Publish(ctx, event.New(event.TopicHostStatusChanged, "pulse",
		event.StatusChange{Key: "nas", From: "unknown", To: "offline"})))

	p, ok := client.last("wolo/hosts/nas/status")
	require.True(t, ok)
	assert.Equal(t, "online", p.payload)
}
