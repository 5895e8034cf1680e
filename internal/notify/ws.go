package notify

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for every event pushed to a driver client.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// ErrNoSession is returned when a driver has no live websocket connection.
var ErrNoSession = errors.New("no ws session")

// Session represents a connected driver client. Writes are serialized per
// connection because gorilla/websocket allows only one concurrent writer.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Event: event, Payload: payload})
}

// Registry holds the live driver sessions for this instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry { return &Registry{sessions: make(map[string]*Session)} }

func (r *Registry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[driverID] = &Session{conn: conn}
}

func (r *Registry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, driverID)
	}
}

func (r *Registry) Publish(driverID, event string, payload any) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(event, payload)
}
