package preview

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("preview: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("preview: subscriber id not found")

	// ErrHubClosed is returned when operations are attempted on a closed hub.
	ErrHubClosed = errors.New("preview: hub is closed")
)

// JPEG is one encoded preview frame.
type JPEG struct {
	Data      []byte
	Seq       uint64
	Position  int64
	Timestamp time.Time
}

// HubStats contains global and per-subscriber metrics.
type HubStats struct {
	TotalPublished uint64                     `json:"total_published"`
	TotalSent      uint64                     `json:"total_sent"`
	TotalReplaced  uint64                     `json:"total_replaced"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats tracks metrics for a single subscriber.
type SubscriberStats struct {
	Sent uint64 `json:"sent"`
	// Replaced counts frames overwritten before the client read them.
	Replaced uint64 `json:"replaced"`
}

type subscriberStats struct {
	sent     atomic.Uint64
	replaced atomic.Uint64
}

// Hub fans encoded frames out to preview clients. Each subscriber channel
// is a latest-wins slot: a slow client skips frames instead of queueing
// them, and Publish never blocks.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan JPEG
	stats       map[string]*subscriberStats
	latest      *JPEG
	closed      bool

	totalPublished atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan JPEG),
		stats:       make(map[string]*subscriberStats),
	}
}

// Subscribe registers ch to receive frames. Use a buffer of 1 for strict
// latest-wins delivery.
func (h *Hub) Subscribe(id string, ch chan JPEG) error {
	if ch == nil || cap(ch) == 0 {
		return errors.New("preview: subscriber channel must be buffered")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if _, exists := h.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	h.subscribers[id] = ch
	h.stats[id] = &subscriberStats{}
	return nil
}

// Unsubscribe removes a subscriber by id.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if _, exists := h.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(h.subscribers, id)
	delete(h.stats, id)
	return nil
}

// Publish hands f to every subscriber, replacing an unread frame when a
// client's slot is full. A no-op once the hub is closed.
func (h *Hub) Publish(f JPEG) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.latest = &f
	h.totalPublished.Add(1)

	for id, ch := range h.subscribers {
		st := h.stats[id]
		select {
		case ch <- f:
			st.sent.Add(1)
			continue
		default:
		}

		// Slot full: drop the stale frame and retry once. The reader may
		// have taken it in between, so both steps are non-blocking.
		select {
		case <-ch:
			st.replaced.Add(1)
		default:
		}
		select {
		case ch <- f:
			st.sent.Add(1)
		default:
			st.replaced.Add(1)
		}
	}
}

// Latest returns the most recently published frame.
func (h *Hub) Latest() (JPEG, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return JPEG{}, false
	}
	return *h.latest, true
}

// Reset forgets the latest frame, e.g. after the session stopped.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.latest = nil
	h.mu.Unlock()
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := HubStats{
		TotalPublished: h.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(h.stats)),
	}
	for id, st := range h.stats {
		s := SubscriberStats{Sent: st.sent.Load(), Replaced: st.replaced.Load()}
		result.TotalSent += s.Sent
		result.TotalReplaced += s.Replaced
		result.Subscribers[id] = s
	}
	return result
}

// Close stops the hub. Subscriber channels are not closed; each
// subscriber owns its channel. Idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
