package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/wolo/internal/event"
)

var _ event.Bus = (*MockBus)(nil)

// MockBus records every published event for later inspection.
type MockBus struct {
	mu     sync.Mutex
	events []event.Event
}

// NewMockBus returns a new MockBus.
func NewMockBus() *MockBus {
	return &MockBus{}
}

// Publish records an event synchronously.
func (b *MockBus) Publish(_ context.Context, e event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

// PublishAsync records an event (same as Publish in tests).
func (b *MockBus) PublishAsync(ctx context.Context, e event.Event) {
	_ = b.Publish(ctx, e)
}

// Subscribe is a no-op.
func (b *MockBus) Subscribe(_ string, _ event.Handler) func() {
	return func() {}
}

// SubscribeAll is a no-op.
func (b *MockBus) SubscribeAll(_ event.Handler) func() {
	return func() {}
}

// Events returns a copy of all recorded events.
func (b *MockBus) Events() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Topic returns the recorded events with the given topic.
func (b *MockBus) Topic(topic string) []event.Event {
	var out []event.Event
	for _, e := range b.Events() {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears all recorded events.
func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
