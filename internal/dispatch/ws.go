// Package dispatch is the best-effort realtime relay: booking and ride
// events fan out to connected websocket sessions. Delivery failures never
// affect the transaction that produced the event.
package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one notification on the wire.
type Event struct {
	Name    string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// Notifier delivers events to a single user or to every connected session.
type Notifier interface {
	Notify(userID, event string, payload any) error
	Broadcast(event string, payload any)
}

var ErrNoSession = errors.New("no websocket session")

// WSSession wraps one connection; writes are serialized per session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds the live session per user id. A reconnect replaces the
// previous session.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

// Len reports the number of connected sessions.
func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Notify(userID, event string, payload any) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(Event{Name: event, Payload: payload, SentAt: time.Now()}); err != nil {
		r.logger.Warn("ws send failed", "user_id", userID, "event", event, "error", err)
		r.Remove(userID)
		return err
	}
	return nil
}

func (r *WSRegistry) Broadcast(event string, payload any) {
	ev := Event{Name: event, Payload: payload, SentAt: time.Now()}
	r.mu.RLock()
	targets := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()
	for id, s := range targets {
		if err := s.send(ev); err != nil {
			r.logger.Warn("ws broadcast failed", "user_id", id, "event", event, "error", err)
			r.Remove(id)
		}
	}
}

// NopNotifier discards events; used when no realtime layer is wired.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, any) error { return nil }
func (NopNotifier) Broadcast(string, any)            {}
