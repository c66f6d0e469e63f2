package server

import "sync"

// Registry is the live-presence registry: a process-wide mapping from
// username to the session's outbound channel.
//
// At most one entry exists per username. A second successful login for the
// same username overwrites the entry; the earlier connection is not closed
// and simply stops receiving deliveries (it keeps its socket until it
// disconnects on its own).
//
// The registry only gates live delivery. Contact-list content always comes
// from the store's durable online flags, never from here.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*SafeConn
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*SafeConn),
	}
}

// Register inserts or overwrites the entry for username.
func (r *Registry) Register(username string, conn *SafeConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[username] = conn
}

// Unregister removes the entry for username. Removing only if the given
// conn still owns the entry keeps a duplicate login's fresh registration
// intact when the replaced zombie session finally disconnects.
func (r *Registry) Unregister(username string, conn *SafeConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[username]; ok && current == conn {
		delete(r.entries, username)
	}
}

// Lookup returns the current outbound channel for username, if registered.
func (r *Registry) Lookup(username string) (*SafeConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.entries[username]
	return conn, ok
}

// Broadcast delivers one line to every registered channel, best effort.
// A failed or slow write to one channel never prevents delivery to the
// others; each write is bounded by the connection's write timeout.
func (r *Registry) Broadcast(line string) {
	r.mu.RLock()
	conns := make([]*SafeConn, 0, len(r.entries))
	for _, conn := range r.entries {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteLine(line); err != nil {
			debugLog.Printf("Broadcast write to %s failed: %v", conn.RemoteAddr(), err)
		}
	}
}

// Count returns the number of registered usernames.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
