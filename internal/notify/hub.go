package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub fans events out to subscribers keyed by the job or playlist id they
// watch. Emitters never block: a subscriber whose channel is full simply
// misses that event.
type Hub struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   map[uuid.UUID][]chan Event
}

// NewHub creates a new notification hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[uuid.UUID][]chan Event),
	}
}

// Subscribe registers a listener for events about one job or playlist id.
func (h *Hub) Subscribe(id uuid.UUID) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	h.subs[id] = append(h.subs[id], ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(id uuid.UUID, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[id]
	for i, sub := range subs {
		if sub == ch {
			h.subs[id] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
}

// JobCreated implements Notifier.
func (h *Hub) JobCreated(id uuid.UUID, pluginName string) {
	h.broadcast(id, Event{
		Kind:      KindJobCreated,
		JobID:     id,
		Plugin:    pluginName,
		Timestamp: time.Now(),
	})
}

// JobStatusChanged implements Notifier.
func (h *Hub) JobStatusChanged(id uuid.UUID, pluginName, status, preview, errMsg string) {
	h.broadcast(id, Event{
		Kind:      KindJobStatus,
		JobID:     id,
		Plugin:    pluginName,
		Status:    status,
		Preview:   preview,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

// PlaylistProgress implements Notifier.
func (h *Hub) PlaylistProgress(id uuid.UUID, p Progress) {
	h.broadcast(id, Event{
		Kind:       KindPlaylistProgress,
		PlaylistID: id,
		Status:     p.Status,
		Progress:   &p,
		Timestamp:  time.Now(),
	})
}

func (h *Hub) broadcast(id uuid.UUID, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[id] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Subscriber channel full, dropping event",
				zap.String("id", id.String()),
				zap.String("kind", string(event.Kind)),
			)
		}
	}
}
