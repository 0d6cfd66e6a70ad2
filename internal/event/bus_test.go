package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var received Event

	bus.Subscribe(TopicHostStatusChanged, func(ctx context.Context, e Event) {
		received = e
	})
	bus.Subscribe(TopicHostWakeAttempted, func(ctx context.Context, e Event) {
		t.Errorf("wake handler got %s event", e.Topic)
	})

	change := StatusChange{Key: "nas", From: "offline", To: "online"}
	if err := bus.Publish(context.Background(), New(TopicHostStatusChanged, "pulse", change)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if received.Topic != TopicHostStatusChanged {
		t.Errorf("received.Topic = %q, want %q", received.Topic, TopicHostStatusChanged)
	}
	if received.Payload != change {
		t.Errorf("received.Payload = %v, want %v", received.Payload, change)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	bus.SubscribeAll(func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(context.Background(), Event{Topic: TopicHostStatusChanged})
	bus.Publish(context.Background(), Event{Topic: TopicProbeCycleDone})

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("SubscribeAll handler called %d times, want 2", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	unsub := bus.Subscribe("test", func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(context.Background(), Event{Topic: "test"})
	unsub()
	bus.Publish(context.Background(), Event{Topic: "test"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("handler called %d times after unsubscribe, want 1", got)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	unsub := bus.SubscribeAll(func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(context.Background(), Event{Topic: "test"})
	unsub()
	bus.Publish(context.Background(), Event{Topic: "test"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("handler called %d times after unsubscribe, want 1", got)
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(testLogger())
	var wg sync.WaitGroup
	var count int32

	wg.Add(2)
	bus.Subscribe(TopicHostWakeAttempted, func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	bus.SubscribeAll(func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})

	bus.PublishAsync(context.Background(), Event{Topic: TopicHostWakeAttempted})

	wg.Wait()
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("async handlers called %d times, want 2", got)
	}
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	bus.Subscribe(TopicProbeCycleDone, func(ctx context.Context, e Event) {
		panic("test panic")
	})
	bus.Subscribe(TopicProbeCycleDone, func(ctx context.Context, e Event) {
		atomic.AddInt32(&count, 1)
	})

	// Should not panic, and second handler should still run.
	bus.Publish(context.Background(), Event{Topic: TopicProbeCycleDone})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("second handler called %d times, want 1", got)
	}
}

func TestNoSubscribersOK(t *testing.T) {
	bus := NewBus(testLogger())

	// Publishing with no subscribers should not error.
	if err := bus.Publish(context.Background(), Event{Topic: "empty"}); err != nil {
		t.Fatalf("Publish() with no subscribers error = %v", err)
	}
}

func TestNewStampsIDAndTime(t *testing.T) {
	before := time.Now().UTC()
	e := New(TopicHostStatusChanged, "pulse", StatusChange{Key: "nas", From: "unknown", To: "online"})

	if e.ID == "" {
		t.Error("New() ID is empty")
	}
	if e.Timestamp.Before(before) {
		t.Errorf("Timestamp = %v, want >= %v", e.Timestamp, before)
	}
	if e.Topic != TopicHostStatusChanged || e.Source != "pulse" {
		t.Errorf("New() = %+v", e)
	}
	if other := New(TopicHostStatusChanged, "pulse", nil); other.ID == e.ID {
		t.Error("two events share an ID")
	}
}

func TestUnsubscribeLeavesOtherHandlers(t *testing.T) {
	bus := NewBus(testLogger())
	var a, b int32

	unsubA := bus.Subscribe(TopicHostWakeAttempted, func(ctx context.Context, e Event) {
		atomic.AddInt32(&a, 1)
	})
	bus.Subscribe(TopicHostWakeAttempted, func(ctx context.Context, e Event) {
		atomic.AddInt32(&b, 1)
	})

	unsubA()
	unsubA()
	bus.Publish(context.Background(), Event{Topic: TopicHostWakeAttempted})

	if got := atomic.LoadInt32(&a); got != 0 {
		t.Errorf("unsubscribed handler called %d times, want 0", got)
	}
	if got := atomic.LoadInt32(&b); got != 1 {
		t.Errorf("remaining handler called %d times, want 1", got)
	}
}
