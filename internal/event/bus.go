// Package event is the in-process publish/subscribe bus that carries
// session events from the journal to notification channels.
package event

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one message on the bus.
type Event struct {
	Topic     string
	Source    string // emitting component
	UserID    string // owner of the data; delivery is scoped by it
	Timestamp time.Time
	Payload   any // concrete type is fixed per topic
}

// Handler receives events.
type Handler func(ctx context.Context, e Event)

// Publisher is what emitting components depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishAsync(ctx context.Context, e Event)
}

var _ Publisher = (*Bus)(nil)

// Bus delivers events to subscribers whose pattern matches the topic.
// A pattern is an exact topic, a prefix ending in ".*" such as
// "session.*", or "*" for everything.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	inflight sync.WaitGroup
}

type subscription struct {
	id      uint64
	pattern string
	fn      Handler
}

func (s subscription) matches(topic string) bool {
	switch {
	case s.pattern == "*":
		return true
	case strings.HasSuffix(s.pattern, ".*"):
		return strings.HasPrefix(topic, strings.TrimSuffix(s.pattern, "*"))
	}
	return s.pattern == topic
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers fn for topics matching pattern. The returned func
// removes it and may be called more than once.
func (b *Bus) Subscribe(pattern string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers fn for every topic.
func (b *Bus) SubscribeAll(fn Handler) (unsubscribe func()) {
	return b.Subscribe("*", fn)
}

// Publish runs matching handlers in the caller's goroutine, in
// subscription order. A panicking handler is logged and skipped. A zero
// Timestamp is stamped with the current time.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	e = stamp(e)
	for _, s := range b.matching(e.Topic) {
		b.deliver(ctx, s, e)
	}
	return nil
}

// PublishAsync runs each matching handler in its own goroutine. Wait
// blocks until they have all returned.
func (b *Bus) PublishAsync(ctx context.Context, e Event) {
	e = stamp(e)
	for _, s := range b.matching(e.Topic) {
		b.inflight.Add(1)
		go func(s subscription) {
			defer b.inflight.Done()
			b.deliver(ctx, s, e)
		}(s)
	}
}

// Wait blocks until asynchronous deliveries finish or ctx is done.
func (b *Bus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

func (b *Bus) matching(topic string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []subscription
	for _, s := range b.subs {
		if s.matches(topic) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) deliver(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.String("pattern", s.pattern),
				zap.String("source", e.Source),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(ctx, e)
}
