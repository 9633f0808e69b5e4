package relay

import (
	"log/slog"
	"sync"
)

// Hub owns the room registry. Rooms are created on first reference and
// live for the process lifetime; membership lives only as long as each
// connection.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Room returns a stable handle for name, creating the room if needed.
func (h *Hub) Room(name string) *Room {
	h.mu.RLock()
	r, ok := h.rooms[name]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[name]; ok {
		return r
	}
	r = NewRoom(h.log, name)
	h.rooms[name] = r
	return r
}

// Leave removes clientID from the named room if both exist.
func (h *Hub) Leave(name, clientID string) {
	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()

	r.Leave(clientID)
}

// Drop removes clientID from every room. Called once on disconnect so a
// gone connection can never receive another broadcast.
func (h *Hub) Drop(clientID string) {
	if clientID == "" {
		return
	}

	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	for _, r := range rooms {
		r.Leave(clientID)
	}
}
