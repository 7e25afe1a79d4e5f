// Package rooms manages subscriptions of connections to room channels.
// Authorization is the caller's concern; the multiplexer only tracks who
// is subscribed where, synchronously.
package rooms

import "sync"

// Multiplexer maps room ids to subscriber connection ids and keeps the
// reverse index so a disconnect can drop every subscription in one step.
type Multiplexer struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // roomID -> connection ids
	byConn map[string]map[string]struct{} // connID -> room ids
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the room's subscriber set.
func (m *Multiplexer) Join(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		m.rooms[roomID] = make(map[string]struct{})
	}
	m.rooms[roomID][connID] = struct{}{}
	if _, ok := m.byConn[connID]; !ok {
		m.byConn[connID] = make(map[string]struct{})
	}
	m.byConn[connID][roomID] = struct{}{}
}

// Leave removes connID from the room; no-op if absent.
func (m *Multiplexer) Leave(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, roomID)
}

func (m *Multiplexer) leaveLocked(connID, roomID string) {
	if subs, ok := m.rooms[roomID]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(m.rooms, roomID)
		}
	}
	if joined, ok := m.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(m.byConn, connID)
		}
	}
}

// LeaveAll removes every subscription held by connID and returns the rooms
// it was subscribed to. It runs under one lock so a racing Join for the same
// connection cannot resurrect a stale entry mid-cleanup.
func (m *Multiplexer) LeaveAll(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	joined, ok := m.byConn[connID]
	if !ok {
		return nil
	}
	roomIDs := make([]string, 0, len(joined))
	for roomID := range joined {
		roomIDs = append(roomIDs, roomID)
		if subs, ok := m.rooms[roomID]; ok {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(m.rooms, roomID)
			}
		}
	}
	delete(m.byConn, connID)
	return roomIDs
}

// Subscribers returns the current subscriber connection ids of a room.
// The result reflects every Join/Leave that happened before the call.
func (m *Multiplexer) Subscribers(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := m.rooms[roomID]
	out := make([]string, 0, len(subs))
	for connID := range subs {
		out = append(out, connID)
	}
	return out
}

// Rooms returns the rooms a connection is subscribed to.
func (m *Multiplexer) Rooms(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	joined := m.byConn[connID]
	out := make([]string, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	return out
}

// IsSubscribed reports whether connID is currently subscribed to roomID.
func (m *Multiplexer) IsSubscribed(connID, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID][connID]
	return ok
}
