// Package feed broadcasts posting lifecycle events to connected
// subscribers. Delivery is best effort: a slow subscriber drops events
// rather than stalling the roll or claim that produced them.
package feed

import (
	"sync"
	"time"
)

const (
	EventPostingIssued  = "posting_issued"
	EventPostingClaimed = "posting_claimed"
	EventPostingExpired = "posting_expired"
)

type Event struct {
	Type      string    `json:"type"`
	PostingID string    `json:"posting_id"`
	ItemID    int       `json:"item_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Value     float64   `json:"value,omitempty"`
	At        time.Time `json:"at"`
}

const subscriberBuffer = 16

type Subscriber struct {
	C chan Event
}

type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[*Subscriber]struct{}{}}
}

func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe detaches the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.C)
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.C <- ev:
		default:
			// Full buffer: the subscriber is too slow, skip it.
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
