package progress

import "sync"

type subscriber struct {
	documentID string
	ch         chan Event
}

// Hub delivers events to in-process subscribers of a document. Slow
// subscribers miss events rather than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe returns a channel of events for documentID and a function that
// ends the subscription.
func (h *Hub) Subscribe(documentID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Event, 16)
	h.subs[id] = subscriber{documentID: documentID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.documentID != ev.DocumentID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
