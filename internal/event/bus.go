// Package event provides the pub/sub event bus for session updates,
// built on watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/arche-ai/arche/internal/logging"
)

// Topic is the watermill topic all session events are mirrored to.
const Topic = "arche.events"

// Event is a single observable session update.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionID"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an id so the unsubscribe
// closure can find it again.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus fans session events out to observers. Subscribers are keyed by
// session id, with a separate list of global subscribers that see every
// session's events.
//
// Delivery is synchronous and in registration order on the publishing
// goroutine: the worker driving a session is its only producer, so
// events for one session are observed in emission order. A panicking
// subscriber is logged and never affects the producer or its siblings.
//
// Watermill's gochannel transport carries a JSON mirror of every event
// for consumers that want a message-stream view (or a future
// distributed backend).
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	sessions map[string][]subscriberEntry
	global   []subscriberEntry

	nextID uint64
	closed bool

	closeCtx    context.Context
	closeCancel context.CancelFunc

	log zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		sessions:    make(map[string][]subscriberEntry),
		closeCtx:    ctx,
		closeCancel: cancel,
		log:         logging.ForComponent("event"),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers an observer for one session's events. It returns
// an unsubscribe function.
func (b *Bus) Subscribe(sessionID string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.sessions[sessionID] = append(b.sessions[sessionID], subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.sessions[sessionID]
		for i, entry := range subs {
			if entry.id == id {
				b.sessions[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.sessions[sessionID]) == 0 {
			delete(b.sessions, sessionID)
		}
	}
}

// SubscribeGlobal registers an observer that receives every session's
// events. It returns an unsubscribe function.
func (b *Bus) SubscribeGlobal(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.global {
			if entry.id == id {
				b.global = append(b.global[:i], b.global[i+1:]...)
				break
			}
		}
	}
}

// UnsubscribeSession removes every observer scoped to the session. Used
// when a session is deleted.
func (b *Bus) UnsubscribeSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// SubscriberCount returns the number of observers for a session, not
// counting global observers.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// TotalSubscribers returns the number of registered observers across
// all sessions plus global observers.
func (b *Bus) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.global)
	for _, subs := range b.sessions {
		n += len(subs)
	}
	return n
}

// Publish delivers the event to the session's observers and all global
// observers, in registration order.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.sessions[event.SessionID])+len(b.global))
	for _, entry := range b.sessions[event.SessionID] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}

	b.mirror(event)
}

// Broadcast is a convenience wrapper that stamps and publishes an event
// for one session.
func (b *Bus) Broadcast(sessionID string, eventType EventType, data any) {
	b.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// deliver calls one subscriber, isolating panics.
func (b *Bus) deliver(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event", string(event.Type)).
				Str("session", event.SessionID).
				Any("panic", r).
				Msg("subscriber panicked")
		}
	}()
	sub(event)
}

// mirror forwards a JSON copy of the event onto the watermill topic.
func (b *Bus) mirror(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", event.SessionID)
	msg.Metadata.Set("type", string(event.Type))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.log.Debug().Err(err).Msg("watermill mirror publish failed")
	}
}

// Messages returns a watermill subscription for the mirrored event
// stream.
func (b *Bus) Messages(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close shuts the bus down. Further publishes and subscriptions are
// no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closeCancel()
	b.sessions = make(map[string][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
