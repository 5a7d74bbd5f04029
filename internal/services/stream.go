package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	EventMention   = "mention"
	EventHeartbeat = "heartbeat"

	streamBuffer = 16
)

// StreamEvent is one message pushed to a live client.
type StreamEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Publisher delivers events to a user's live connections and reports how
// many local handles received it.
type Publisher interface {
	Publish(userID uint, event StreamEvent) int
}

// ClientHandle is one live connection (one browser tab).
type ClientHandle struct {
	ID     string
	UserID uint
	events chan StreamEvent
}

// Events is closed once the handle is unsubscribed.
func (h *ClientHandle) Events() <-chan StreamEvent {
	return h.events
}

// StreamHub is the process-local registry of live handles. Delivery is best
// effort: nothing is queued for users without a handle, and a handle whose
// buffer is full misses the event.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[uint]map[string]*ClientHandle
}

func NewStreamHub() *StreamHub {
	return &StreamHub{clients: make(map[uint]map[string]*ClientHandle)}
}

func (h *StreamHub) Subscribe(userID uint) *ClientHandle {
	handle := &ClientHandle{
		ID:     uuid.NewString(),
		UserID: userID,
		events: make(chan StreamEvent, streamBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[string]*ClientHandle)
	}
	h.clients[userID][handle.ID] = handle
	return handle
}

// Unsubscribe removes the handle and closes its channel. Repeated calls are no-ops.
func (h *StreamHub) Unsubscribe(handle *ClientHandle) {
	if handle == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	handles, ok := h.clients[handle.UserID]
	if !ok {
		return
	}
	if _, ok := handles[handle.ID]; !ok {
		return
	}
	delete(handles, handle.ID)
	if len(handles) == 0 {
		delete(h.clients, handle.UserID)
	}
	close(handle.events)
}

func (h *StreamHub) Publish(userID uint, event StreamEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, handle := range h.clients[userID] {
		if trySend(handle, event) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of live handles of the user.
func (h *StreamHub) Count(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Heartbeat sends a heartbeat event on every handle.
func (h *StreamHub) Heartbeat(at time.Time) int {
	event := StreamEvent{Type: EventHeartbeat, Payload: map[string]int64{"ts": at.Unix()}}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, handles := range h.clients {
		for _, handle := range handles {
			if trySend(handle, event) {
				sent++
			}
		}
	}
	return sent
}

// StartHeartbeat sends heartbeats every interval until ctx is done.
func (h *StreamHub) StartHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.Heartbeat(now)
			}
		}
	}()
}

func trySend(handle *ClientHandle, event StreamEvent) bool {
	select {
	case handle.events <- event:
		return true
	default:
		log.WithFields(log.Fields{"user_id": handle.UserID, "handle": handle.ID, "event": event.Type}).
			Debug("stream buffer full, event dropped")
		return false
	}
}
