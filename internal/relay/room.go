package relay

import (
	"log/slog"
	"sync"

	v1 "plotrelay/relay/v1"
)

// Room is a named flat broadcast group of connections.
//
// Concurrency guarantees:
//   - Join/Leave are safe under concurrent Broadcast.
//   - Broadcast never blocks; it skips members that are shutting down and
//     drops sends when a member's queue is full.
//   - Broadcast cannot panic because Client.Send is never closed.
type Room struct {
	log  *slog.Logger
	Name string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room.
func NewRoom(log *slog.Logger, name string) *Room {
	return &Room{
		log:     log,
		Name:    name,
		members: make(map[string]*Client),
	}
}

// Join adds a client to the room. Joining twice has no additional effect.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.ID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.ID] = client
	r.mu.Unlock()

	r.log.Info("room.join", "room", r.Name, "conn_id", client.ID)
}

// Leave removes a client from the room. Leaving a room the client never
// joined is a no-op.
func (r *Room) Leave(clientID string) {
	if r == nil || clientID == "" {
		return
	}

	r.mu.Lock()
	_, wasMember := r.members[clientID]
	delete(r.members, clientID)
	r.mu.Unlock()

	if wasMember {
		r.log.Info("room.leave", "room", r.Name, "conn_id", clientID)
	}
}

// Contains reports current membership of clientID.
func (r *Room) Contains(clientID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[clientID]
	return ok
}

// Len returns the current member count.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast delivers msg to every current member, best effort.
// It returns how many sends were enqueued and how many were dropped
// (member shutting down, or queue full). The skip of a disconnecting
// member is a deliberate branch, not an error path.
func (r *Room) Broadcast(msg v1.Message) (sent, dropped int) {
	if r == nil {
		return 0, 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			// Member is mid-disconnect; skip it.
			dropped++
			continue
		default:
		}

		select {
		case m.Send <- msg:
			sent++
		default:
			// Queue full: drop rather than block the room.
			dropped++
		}
	}
	return sent, dropped
}
