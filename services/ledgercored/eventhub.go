package ledgercored

import "sync"

// PushEvent describes one allowance push decision, published by Cycle for
// operators watching the admin stream endpoint.
type PushEvent struct {
	SubAccount string `json:"sub_account"`
	Reason     string `json:"reason"`
	Allowance  string `json:"allowance"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
}

// eventHubBacklog bounds how many buffered events a slow subscriber can fall
// behind by before being dropped, mirrored on rpc/ws.go's POS finality
// subscription backlog.
const eventHubBacklog = 64

// EventHub fans PushEvents out to subscribed admin-stream websocket clients.
// A publish with no subscribers is a no-op; a full subscriber channel drops
// the event for that subscriber rather than blocking the cycle.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan PushEvent]struct{}
}

// NewEventHub constructs an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan PushEvent]struct{})}
}

// Subscribe registers a new listener and returns an unsubscribe func.
func (h *EventHub) Subscribe() (<-chan PushEvent, func()) {
	ch := make(chan PushEvent, eventHubBacklog)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish fans evt out to every current subscriber.
func (h *EventHub) Publish(evt PushEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
