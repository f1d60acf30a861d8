// Package connset implements the Connection Set of spec §4.6/§9: an
// atomic map of sessionId -> set of connection handles, where each
// handle owns a bounded outbound queue so a slow client cannot
// back-pressure the shared broadcast path. It is the only process-wide
// mutable map besides the Store (§9 Design Notes: "Global state").
package connset

import "sync"

// Connection is one attached WebSocket client's outbound side. The
// RPC Bridge owns reading from Outbound and writing it to the socket;
// Registry only ever writes into it.
type Connection struct {
	ID       string
	Outbound chan []byte
}

// NewConnection creates a connection with a bounded outbound queue.
// queueSize should be generous enough to absorb a burst without
// dropping events for a momentarily slow client, but bounded so one
// stuck client cannot grow memory without limit.
func NewConnection(id string, queueSize int) *Connection {
	return &Connection{ID: id, Outbound: make(chan []byte, queueSize)}
}

// Registry is the atomic map of sessionId -> set of Connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]*Connection)}
}

// Add registers conn under sessionID.
func (r *Registry) Add(sessionID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[sessionID]
	if !ok {
		set = make(map[string]*Connection)
		r.conns[sessionID] = set
	}
	set[conn.ID] = conn
}

// Remove unregisters conn from sessionID. Safe to call more than once.
func (r *Registry) Remove(sessionID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[sessionID]
	if !ok {
		return
	}
	delete(set, conn.ID)
	if len(set) == 0 {
		delete(r.conns, sessionID)
	}
}

// Count returns the number of open connections for sessionID.
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[sessionID])
}

// Broadcast enqueues data onto every connection attached to sessionID.
// A connection whose outbound queue is full has the message dropped
// for it rather than blocking the broadcast for every other client
// (the slow-client isolation the bounded queue exists for). delivered
// and dropped count the connections that did and did not get data.
func (r *Registry) Broadcast(sessionID string, data []byte) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns[sessionID] {
		select {
		case conn.Outbound <- data:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// Drain empties the registry, for use during process shutdown.
func (r *Registry) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[string]map[string]*Connection)
}
