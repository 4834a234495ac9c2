package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
)

// subscriberBuffer is the number of undelivered events kept per subscriber.
// Further events are dropped for a subscriber whose buffer is full: consumers
// re-fetch full state on every event, so one pending event already covers
// the ones dropped behind it.
const subscriberBuffer = 16

// Subscriber receives the change events matching its subscription until
// Close is called or the hub stops.
type Subscriber struct {
	sub  models.Subscription
	send chan models.ChangeEvent
	hub  *Hub
	once sync.Once
}

// Events yields matching change events. The channel is closed when the
// subscriber is closed or the hub stops.
func (s *Subscriber) Events() <-chan models.ChangeEvent {
	return s.send
}

// Close unregisters the subscriber. It is safe to call more than once.
func (s *Subscriber) Close() error {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
	return nil
}

// Sink receives every event published locally on the hub, e.g. to relay it
// to other instances.
type Sink func(models.ChangeEvent)

type Hub struct {
	// Registered subscribers.
	subscribers map[*Subscriber]bool

	// Events to fan out to subscribers.
	broadcast chan models.ChangeEvent

	// Register requests from subscribers.
	register chan *Subscriber

	// Unregister requests from subscribers.
	unregister chan *Subscriber

	mu    sync.RWMutex
	sinks []Sink

	done   chan struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan models.ChangeEvent, 256),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run fans events out to subscribers until ctx is done. On return every
// subscriber's channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for s := range h.subscribers {
			close(s.send)
			delete(h.subscribers, s)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			h.subscribers[s] = true
		case s := <-h.unregister:
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.send)
			}
		case ev := <-h.broadcast:
			for s := range h.subscribers {
				if !s.sub.Matches(ev) {
					continue
				}
				select {
				case s.send <- ev:
				default:
					h.logger.Debug("Subscriber buffer full, event coalesced",
						zap.String("relation", ev.Relation))
				}
			}
		}
	}
}

// Subscribe registers a subscriber for sub. If the hub has stopped the
// returned subscriber's channel is already closed.
func (h *Hub) Subscribe(sub models.Subscription) *Subscriber {
	s := &Subscriber{sub: sub, send: make(chan models.ChangeEvent, subscriberBuffer), hub: h}
	select {
	case h.register <- s:
	case <-h.done:
		close(s.send)
	}
	return s
}

// AddSink registers a sink for locally published events.
func (h *Hub) AddSink(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, sink)
}

// Publish delivers ev to local subscribers and hands it to every sink.
func (h *Hub) Publish(ev models.ChangeEvent) {
	h.Deliver(ev)

	h.mu.RLock()
	sinks := h.sinks
	h.mu.RUnlock()
	for _, sink := range sinks {
		sink(ev)
	}
}

// Deliver delivers ev to local subscribers only.
func (h *Hub) Deliver(ev models.ChangeEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}
