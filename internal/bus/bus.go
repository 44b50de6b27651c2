package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Listener receives events synchronously on the publisher's goroutine.
type Listener interface {
	OnEvent(Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event) error

// OnEvent calls f(evt).
func (f ListenerFunc) OnEvent(evt Event) error { return f(evt) }

// Bus is an in-process publish/subscribe event bus with namespace filtering.
//
// Delivery is synchronous. Each publish call delivers to a snapshot of the
// subscriptions taken when it starts: subscribing during delivery does not
// receive the in-flight events, and unsubscribing does not cancel them.
// A failing or panicking listener does not stop delivery to the others.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs []*subscription
	next int
}

type subscription struct {
	id        int
	namespace string
	listener  Listener
}

// New creates a new event bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Listen registers l for events whose kind starts with namespace. An empty
// namespace matches everything. Returns the unsubscribe function.
func (b *Bus) Listen(namespace string, l Listener) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, &subscription{id: id, namespace: namespace, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer; events are dropped when it is full so a
// slow reader never blocks a publisher. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	unsub := b.Listen(namespace, ListenerFunc(func(evt Event) error {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("event dropped, subscriber full", zap.String("kind", evt.Kind))
		}
		return nil
	}))
	return ch, unsub
}

// Publish delivers a single event. See PublishBatch.
func (b *Bus) Publish(evt Event) error {
	return b.PublishBatch([]Event{evt})
}

// PublishBatch delivers events in order to every matching listener. It
// returns the combined errors of all listeners that failed.
func (b *Bus) PublishBatch(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	b.mu.RLock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	var errs error
	for i := range events {
		evt := &events[i]
		if evt.ID == "" {
			evt.ID = uuid.NewString()
		}
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now()
		}
		b.logger.Debug("event", zap.String("kind", evt.Kind), zap.String("subject", evt.SubjectID))

		for _, s := range snapshot {
			if !strings.HasPrefix(evt.Kind, s.namespace) {
				continue
			}
			if err := deliver(s.listener, *evt); err != nil {
				b.logger.Error("listener failed",
					zap.String("kind", evt.Kind),
					zap.String("subject", evt.SubjectID),
					zap.Error(err))
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

func deliver(l Listener, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic on %s: %v", evt.Kind, r)
		}
	}()
	return l.OnEvent(evt)
}
