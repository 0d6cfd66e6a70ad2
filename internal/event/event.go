// Package event provides the in-process publish/subscribe bus used to fan
// host state changes out to interested components.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topics published by wolo components.
const (
	TopicHostStatusChanged = "host.status.changed"
	TopicHostWakeAttempted = "host.wake.attempted"
	TopicProbeCycleDone    = "pulse.cycle.completed"
)

// Event is a message carried by the bus.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New returns an event stamped with a fresh ID and the current UTC time.
func New(topic, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Handler consumes an event.
type Handler func(ctx context.Context, e Event)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishAsync(ctx context.Context, e Event)
}

// Bus is the full publish/subscribe contract.
type Bus interface {
	Publisher
	Subscribe(topic string, h Handler) (unsubscribe func())
	SubscribeAll(h Handler) (unsubscribe func())
}

// StatusChange is the payload of TopicHostStatusChanged.
type StatusChange struct {
	Key  string `json:"key"`
	From string `json:"from"`
	To   string `json:"to"`
}

// WakeAttempt is the payload of TopicHostWakeAttempted.
type WakeAttempt struct {
	Key       string   `json:"key"`
	RequestID string   `json:"request_id"`
	Sent      []string `json:"sent,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// CycleSummary is the payload of TopicProbeCycleDone.
type CycleSummary struct {
	Probed      int           `json:"probed"`
	Online      int           `json:"online"`
	Offline     int           `json:"offline"`
	Transitions int           `json:"transitions"`
	Duration    time.Duration `json:"duration"`
}
