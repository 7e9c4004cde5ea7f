package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Router keeps one active Connection per user. Attaching a second connection
// for the same user closes the first one, which ends its conversation session.
type Router struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection // connection id -> connection
	userSessions map[string]string      // user id -> connection id
}

// NewRouter constructs an initialized Router.
func NewRouter() *Router {
	return &Router{
		sessions:     make(map[string]*Connection),
		userSessions: make(map[string]string),
	}
}

// Attach registers conn and starts its write loop. A previous connection of
// the same user is removed and closed after the swap.
func (r *Router) Attach(conn *Connection) {
	var previous *Connection

	r.mu.Lock()
	if existingID, ok := r.userSessions[conn.UserID]; ok {
		if existing := r.sessions[existingID]; existing != nil {
			previous = existing
			r.detachLocked(existingID)
		}
	}
	r.sessions[conn.ID] = conn
	r.userSessions[conn.UserID] = conn.ID
	r.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(CloseSessionReplaced, "session replaced")
	}
}

// Detach removes conn if it is still tracked.
func (r *Router) Detach(conn *Connection) {
	r.mu.Lock()
	r.detachLocked(conn.ID)
	r.mu.Unlock()
}

// Current returns the active connection of userID.
func (r *Router) Current(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn := r.sessions[r.userSessions[userID]]
	return conn, conn != nil
}

// Len returns the number of tracked connections.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close terminates all tracked connections and clears router state.
func (r *Router) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.sessions))
	for _, conn := range r.sessions {
		conns = append(conns, conn)
	}
	r.sessions = make(map[string]*Connection)
	r.userSessions = make(map[string]string)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "router shutdown")
	}
}

func (r *Router) detachLocked(connID string) {
	conn, ok := r.sessions[connID]
	if !ok {
		return
	}
	delete(r.sessions, connID)
	if current, ok := r.userSessions[conn.UserID]; ok && current == connID {
		delete(r.userSessions, conn.UserID)
	}
}
