package hub

import "sync"

// Registry tracks every live connection of one hub.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

// Register admits a connection.
func (r *Registry) Register(conn *Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

// Unregister forgets a connection. Unknown connections are ignored.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

// Connections returns a snapshot of all live connections.
func (r *Registry) Connections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for conn := range r.conns {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// claimedElsewhere reports whether any connection other than except is
// joined to sessionID as userID.
func (r *Registry) claimedElsewhere(sessionID, userID string, except *Conn) bool {
	for _, conn := range r.Connections() {
		if conn == except {
			continue
		}
		connUser, connSession := conn.State()
		if connUser == userID && connSession == sessionID {
			return true
		}
	}
	return false
}
