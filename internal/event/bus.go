package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

var _ Bus = (*LocalBus)(nil)

type subscription struct {
	id int
	h  Handler
}

// LocalBus dispatches events to in-process subscribers. Handlers run on the
// publishing goroutine for Publish and on a fresh goroutine for PublishAsync.
// A panicking handler is logged and does not affect other handlers.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	topics map[string][]subscription
	all    []subscription
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *LocalBus {
	return &LocalBus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers h for one topic.
func (b *LocalBus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
	}
}

// SubscribeAll registers h for every topic.
func (b *LocalBus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers e synchronously to every matching handler.
func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	for _, h := range b.handlers(e.Topic) {
		b.invoke(ctx, h, e)
	}
	return nil
}

// PublishAsync delivers e to each matching handler on its own goroutine.
func (b *LocalBus) PublishAsync(ctx context.Context, e Event) {
	for _, h := range b.handlers(e.Topic) {
		go b.invoke(ctx, h, e)
	}
}

func (b *LocalBus) handlers(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.topics[topic]
	out := make([]Handler, 0, len(subs)+len(b.all))
	for _, s := range subs {
		out = append(out, s.h)
	}
	for _, s := range b.all {
		out = append(out, s.h)
	}
	return out
}

func (b *LocalBus) invoke(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, e)
}

func remove(subs []subscription, id int) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
