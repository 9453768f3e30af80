package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/Freeeeeet/tutor_session/internal/metrics"
	"github.com/Freeeeeet/tutor_session/internal/model"
	"go.uber.org/zap"
)

// ErrClosed is returned by a hub that has been shut down
var ErrClosed = errors.New("notification hub closed")

const subscriptionBuffer = 16

// Publisher sends a change notification to every interested subscriber
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Subscriber opens a live feed of events for one topic
type Subscriber interface {
	Subscribe(topic string) (*Subscription, error)
}

// Subscription is a live feed of events for one topic.
// Delivery never blocks the hub: a full buffer drops the event, so consumers
// must treat events as "something changed" triggers and re-read the store.
type Subscription struct {
	Topic string
	C     <-chan model.Event

	ch   chan model.Event
	hub  *Hub
	once sync.Once
}

// Close unsubscribes; C is closed once the hub has removed the subscription
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub fans events out to in-process subscribers by topic
type Hub struct {
	topics map[string]map[*Subscription]struct{}

	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan model.Event
	done       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once

	logger *zap.Logger
}

// NewHub creates a hub and starts its dispatch loop
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		topics:     make(map[string]map[*Subscription]struct{}),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan model.Event, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)

	for {
		select {
		case sub := <-h.register:
			if h.topics[sub.Topic] == nil {
				h.topics[sub.Topic] = make(map[*Subscription]struct{})
			}
			h.topics[sub.Topic][sub] = struct{}{}
			metrics.Subscribers.Inc()

		case sub := <-h.unregister:
			if subs, ok := h.topics[sub.Topic]; ok {
				if _, ok := subs[sub]; ok {
					delete(subs, sub)
					close(sub.ch)
					metrics.Subscribers.Dec()
				}
				if len(subs) == 0 {
					delete(h.topics, sub.Topic)
				}
			}

		case ev := <-h.broadcast:
			for _, topic := range ev.Topics() {
				for sub := range h.topics[topic] {
					select {
					case sub.ch <- ev:
					default:
						// Буфер полон: у подписчика уже есть необработанный триггер
						metrics.EventsDropped.Inc()
					}
				}
			}

		case <-h.done:
			for topic, subs := range h.topics {
				for sub := range subs {
					close(sub.ch)
					metrics.Subscribers.Dec()
				}
				delete(h.topics, topic)
			}
			return
		}
	}
}

// Subscribe registers a new subscription for topic
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	ch := make(chan model.Event, subscriptionBuffer)
	sub := &Subscription{Topic: topic, C: ch, ch: ch, hub: h}

	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, ErrClosed
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.stopped:
	}
}

// Publish dispatches ev to local subscribers of every topic it belongs to
func (h *Hub) Publish(ctx context.Context, ev model.Event) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}

	select {
	case h.broadcast <- ev:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatch loop and closes every open subscription
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		<-h.stopped
		h.logger.Info("Notification hub stopped")
	})
}
