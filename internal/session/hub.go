// internal/session/hub.go
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/simon/internal/game"
	"github.com/sirupsen/logrus"
)

// Hub fans room events out to connection queues. It implements
// game.Broadcaster. Sends never block: a full queue drops the event.
type Hub struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]chan game.Event
	topics map[string]map[uuid.UUID]struct{}

	log logrus.FieldLogger
}

var _ game.Broadcaster = (*Hub)(nil)

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		conns:  make(map[uuid.UUID]chan game.Event),
		topics: make(map[string]map[uuid.UUID]struct{}),
		log:    logger,
	}
}

// Register opens an outbound queue of the given size for connID. The
// returned channel is closed by Unregister.
func (h *Hub) Register(connID uuid.UUID, queue int) <-chan game.Event {
	ch := make(chan game.Event, queue)
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[connID]; ok {
		close(old)
	}
	h.conns[connID] = ch
	return ch
}

// Unregister drops connID from every topic and closes its queue.
func (h *Hub) Unregister(connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, members := range h.topics {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.topics, roomID)
		}
	}
	if ch, ok := h.conns[connID]; ok {
		delete(h.conns, connID)
		close(ch)
	}
}

func (h *Hub) Subscribe(roomID string, connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[roomID]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		h.topics[roomID] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) Unsubscribe(roomID string, connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.topics, roomID)
	}
}

// Broadcast queues ev for every connection subscribed to roomID.
func (h *Hub) Broadcast(roomID string, ev game.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.topics[roomID] {
		h.enqueueLocked(connID, ev)
	}
}

// Send queues ev for a single connection.
func (h *Hub) Send(connID uuid.UUID, ev game.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueueLocked(connID, ev)
}

func (h *Hub) enqueueLocked(connID uuid.UUID, ev game.Event) {
	ch, ok := h.conns[connID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		h.log.WithFields(logrus.Fields{"conn": connID, "event": ev.Type}).Warn("Outbound queue full, dropping event")
	}
}

// Subscribers is the number of connections listening to roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[roomID])
}

// Connections is the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
