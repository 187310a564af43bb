package notify

import (
	"context"
	"encoding/json"
	"sync"

	"awarerisk.org/internal/obs"
)

// Hub fans notifications out to in-process subscribers and keeps a bounded
// backlog of recent messages.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Message
	next    int
	recent  []Message
	backlog int
}

// NewHub creates a hub retaining up to backlog recent messages.
func NewHub(backlog int) *Hub {
	if backlog < 0 {
		backlog = 0
	}
	return &Hub{
		subs:    make(map[int]chan Message),
		backlog: backlog,
	}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Message {
	ch := make(chan Message, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish encodes payload and hands it to every subscriber. Slow subscribers
// miss messages rather than block the publisher.
func (h *Hub) Publish(_ context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	obs.RecordPublish(topic, err)
	if err != nil {
		return err
	}
	msg := Message{Topic: topic, Key: keyOf(payload), Payload: data}

	h.mu.Lock()
	if h.backlog > 0 {
		h.recent = append(h.recent, msg)
		if over := len(h.recent) - h.backlog; over > 0 {
			h.recent = append([]Message(nil), h.recent[over:]...)
		}
	}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Recent returns retained messages, optionally filtered by topic.
func (h *Hub) Recent(topic string) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Message
	for _, m := range h.recent {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
