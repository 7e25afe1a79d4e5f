// Package presence tracks which users currently hold live connections.
// A user is online iff at least one connection is registered for them;
// the registry is the only writer of online/last-seen state.
package presence

import (
	"sync"
	"time"
)

// Record is the presence view for a single user. LastSeenAt is set only
// while the user is offline; IsOnline=true implies LastSeenAt is nil.
type Record struct {
	UserID     string     `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// Registry maps user ids to their active connection ids. Multiple
// connections per user are expected (multi-tab).
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]map[string]struct{} // userID -> connection ids
	owner    map[string]string              // connID -> userID
	lastSeen map[string]time.Time           // offline users only

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]map[string]struct{}),
		owner:    make(map[string]string),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Connect registers connID under userID. becameOnline is true when this is
// the user's first active connection; online is the snapshot of all other
// online user ids, for delivery to the newly connecting client.
func (r *Registry) Connect(userID, connID string) (becameOnline bool, online []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
		becameOnline = true
		delete(r.lastSeen, userID)
	}
	set[connID] = struct{}{}
	r.owner[connID] = userID

	online = make([]string, 0, len(r.conns)-1)
	for id := range r.conns {
		if id != userID {
			online = append(online, id)
		}
	}
	return becameOnline, online
}

// Disconnect removes connID. When no connections remain for userID the user
// transitions to offline and last-seen is stamped once. Duplicate or unknown
// disconnects are no-ops.
func (r *Registry) Disconnect(userID, connID string) (becameOffline bool, lastSeen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false, time.Time{}
	}
	if _, exists := set[connID]; !exists {
		return false, time.Time{}
	}
	delete(set, connID)
	delete(r.owner, connID)
	if len(set) > 0 {
		return false, time.Time{}
	}
	delete(r.conns, userID)
	lastSeen = r.now().UTC()
	r.lastSeen[userID] = lastSeen
	return true, lastSeen
}

// IsOnline reports whether the user has at least one active connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Online returns all currently online user ids.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// UserOf resolves the owner of a connection; empty if unknown.
func (r *Registry) UserOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner[connID]
}

// Record returns the presence record for userID.
func (r *Registry) Record(userID string) Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec := Record{UserID: userID}
	if len(r.conns[userID]) > 0 {
		rec.IsOnline = true
		return rec
	}
	if ts, ok := r.lastSeen[userID]; ok {
		t := ts
		rec.LastSeenAt = &t
	}
	return rec
}

// ConnectionCount returns the number of active connections for userID.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}
