// Package events fans decision and escalation events out to connected
// operator streams. Delivery is best-effort: a slow subscriber loses events
// rather than stalling the authorization path.
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	TypeDecision           Type = "decision"
	TypeEscalationCreated  Type = "escalation_created"
	TypeEscalationResolved Type = "escalation_resolved"
	TypeEscalationExpired  Type = "escalation_expired"
	TypeAnomalySignal      Type = "anomaly_signal"
	TypeTierChanged        Type = "tier_changed"
)

// Event is one operator-visible occurrence.
type Event struct {
	Type        Type      `json:"type"`
	AgentID     string    `json:"agent_id,omitempty"`
	DecisionRef string    `json:"decision_ref,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// subscriberBuffer bounds each subscriber's queue.
const subscriberBuffer = 64

// Hub is a fan-out broadcaster. Safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of future events and a cancel function. The
// channel is closed on cancel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop rather than block the pipeline.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
