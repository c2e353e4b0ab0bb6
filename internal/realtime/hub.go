// Package realtime fans message events out to connected widget and console
// clients, one broadcast group per conversation.
//
// The hub replaces a hosted pub/sub channel with an in-process equivalent:
// subscribers register per conversation id, publishers never block, and a
// subscriber that cannot keep up has events dropped rather than stalling the
// request path that produced them.
package realtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// subscriberGauge tracks currently attached stream clients.
var subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "realtime_subscribers",
	Help: "Number of currently attached conversation stream subscribers.",
})

func init() {
	prometheus.MustRegister(subscriberGauge)
}

// Event is the payload delivered to stream subscribers when a message is
// inserted into their conversation.
type Event struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderType     string    `json:"sender_type"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// subscriberBuffer is how many undelivered events a subscriber may lag
// behind before further events are dropped for it.
const subscriberBuffer = 16

// Subscription is one attached client. Receive from C until it is closed;
// call Cancel exactly once when done.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription from its hub and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Hub is a per-conversation broadcast registry. The zero value is not
// usable; call NewHub. Safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{} // conversation id → subscribers
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe attaches a new subscriber to conversationID.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	sub := &Subscription{ch: make(chan Event, subscriberBuffer)}
	sub.C = sub.ch
	sub.cancel = func() {
		h.mu.Lock()
		if group, ok := h.subs[conversationID]; ok {
			delete(group, sub)
			if len(group) == 0 {
				delete(h.subs, conversationID)
			}
		}
		h.mu.Unlock()
		close(sub.ch)
		subscriberGauge.Dec()
	}

	h.mu.Lock()
	group, ok := h.subs[conversationID]
	if !ok {
		group = make(map[*Subscription]struct{})
		h.subs[conversationID] = group
	}
	group[sub] = struct{}{}
	h.mu.Unlock()
	subscriberGauge.Inc()
	return sub
}

// Publish delivers ev to every subscriber of its conversation. It never
// blocks: a full subscriber buffer means that subscriber misses the event.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.ConversationID] {
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer; it will resync from the transcript endpoint.
		}
	}
}

// Close cancels every remaining subscription. Used on shutdown so stream
// writers observe their channel closing and send WebSocket close frames.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Subscription
	for _, group := range h.subs {
		for sub := range group {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range all {
		sub.Cancel()
	}
}

// Subscribers reports the number of subscribers attached to conversationID.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}
