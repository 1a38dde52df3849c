package ws

import (
	"sync"

	"govorilka/internal/metrics"
)

// Hub is the process-wide connection registry. It tracks which connections
// are in which rooms (one room per user id, one per chat id) and implements
// events.Fanout. It is injected into the engines rather than reached as a
// global.
type Hub struct {
	mu sync.RWMutex

	// Map of room -> connections in it
	rooms map[string]map[*Connection]struct{}

	// Map of userID -> live connections of that user
	byUser map[string]map[*Connection]struct{}

	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Connection]struct{}),
		byUser:  make(map[string]map[*Connection]struct{}),
		metrics: m,
	}
}

// Register adds the connection under its user and joins it to the given
// rooms (its user-room plus one room per chat membership at connect time).
func (h *Hub) Register(c *Connection, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Connection]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}

	for _, room := range rooms {
		h.joinLocked(c, room)
	}

	h.metrics.Connections.Inc()
}

// Unregister removes the connection from every room and from its user's
// connection set.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range c.rooms {
		h.leaveLocked(c, room)
	}

	if conns, ok := h.byUser[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.userID)
		}
	}

	h.metrics.Connections.Dec()
}

// OnlineCount returns the number of live connections for a user.
func (h *Hub) OnlineCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// ToRoom delivers the event to every connection currently in the room.
// Delivery is best-effort: connections with a full outbound queue drop the
// event.
func (h *Hub) ToRoom(room, name string, data any) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.push(ServerFrame{Event: name, Data: data})
	}
	h.metrics.FanoutTotal.Add(float64(len(conns)))
}

// ToAll delivers the event to every connected client.
func (h *Hub) ToAll(name string, data any) {
	h.mu.RLock()
	var conns []*Connection
	for _, set := range h.byUser {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.push(ServerFrame{Event: name, Data: data})
	}
	h.metrics.FanoutTotal.Add(float64(len(conns)))
}

// JoinRoom attaches all live connections of the user to the room. Called by
// the engines when a membership mutation should take effect mid-session.
func (h *Hub) JoinRoom(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.byUser[userID] {
		h.joinLocked(c, room)
	}
}

// LeaveRoom detaches all live connections of the user from the room.
func (h *Hub) LeaveRoom(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.byUser[userID] {
		h.leaveLocked(c, room)
	}
}

// CloseRoom evicts every connection from the room.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		delete(c.rooms, room)
	}
	delete(h.rooms, room)
}

// Disconnect force-closes every live connection of the user.
func (h *Hub) Disconnect(userID string) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) joinLocked(c *Connection, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Connection]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Connection, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}
