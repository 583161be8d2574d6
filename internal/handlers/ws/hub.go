package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dakael7/gravitylabs/internal/metrics"
)

// Hub manages all active WebSocket sessions
type Hub struct {
	sessions     map[string]map[string]*Session
	sessionsMux  sync.RWMutex
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		sessions:     make(map[string]map[string]*Session),
		pingInterval: 30 * time.Second,
		pongTimeout:  90 * time.Second,
	}
}

// SetKeepalive overrides the ping cadence and the silence after which a
// session is dropped.
func (h *Hub) SetKeepalive(pingInterval, pongTimeout time.Duration) {
	h.pingInterval = pingInterval
	h.pongTimeout = pongTimeout
}

func (h *Hub) PongTimeout() time.Duration { return h.pongTimeout }

// Register adds a session and starts its ping routine
func (h *Hub) Register(s *Session) {
	h.sessionsMux.Lock()
	actorSessions, ok := h.sessions[s.Actor.ID]
	if !ok {
		actorSessions = make(map[string]*Session)
		h.sessions[s.Actor.ID] = actorSessions
	}
	actorSessions[s.ID] = s
	count := h.countLocked()
	h.sessionsMux.Unlock()

	metrics.WSConnections.Inc()
	go h.pingRoutine(s)

	log.Printf("[ws] actor %s connected session=%s (total: %d, gzip: %v)", s.Actor.ID, s.ID, count, s.SupportsGzip)
}

// Unregister removes a session. Unknown sessions are ignored.
func (h *Hub) Unregister(s *Session) {
	h.sessionsMux.Lock()
	actorSessions, ok := h.sessions[s.Actor.ID]
	if ok {
		if _, ok = actorSessions[s.ID]; ok {
			delete(actorSessions, s.ID)
			if len(actorSessions) == 0 {
				delete(h.sessions, s.Actor.ID)
			}
		}
	}
	count := h.countLocked()
	h.sessionsMux.Unlock()

	if !ok {
		return
	}
	metrics.WSConnections.Dec()
	log.Printf("[ws] actor %s disconnected session=%s (total: %d)", s.Actor.ID, s.ID, count)
}

// IsConnected checks whether an actor has any open session
func (h *Hub) IsConnected(actorID string) bool {
	h.sessionsMux.RLock()
	defer h.sessionsMux.RUnlock()
	return len(h.sessions[actorID]) > 0
}

// SendToActor writes data to every session of an actor
func (h *Hub) SendToActor(actorID string, data interface{}) {
	for _, s := range h.actorSessions(actorID) {
		if err := s.Send(data); err != nil {
			log.Printf("[ws] send to actor %s session=%s: %v", actorID, s.ID, err)
			s.Close()
		}
	}
}

func (h *Hub) actorSessions(actorID string) []*Session {
	h.sessionsMux.RLock()
	defer h.sessionsMux.RUnlock()
	out := make([]*Session, 0, len(h.sessions[actorID]))
	for _, s := range h.sessions[actorID] {
		out = append(out, s)
	}
	return out
}

func (h *Hub) all() []*Session {
	h.sessionsMux.RLock()
	defer h.sessionsMux.RUnlock()
	var out []*Session
	for _, byID := range h.sessions {
		for _, s := range byID {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of open sessions
func (h *Hub) Count() int {
	h.sessionsMux.RLock()
	defer h.sessionsMux.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	n := 0
	for _, byID := range h.sessions {
		n += len(byID)
	}
	return n
}

// pingRoutine sends periodic pings until the session closes
func (h *Hub) pingRoutine(s *Session) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ping(time.Now().Add(10 * time.Second)); err != nil {
				log.Printf("[ws] ping to session %s failed: %v", s.ID, err)
				s.Close()
				return
			}
		case <-s.Done():
			return
		}
	}
}

// Run drops sessions that stopped answering pings until ctx is cancelled,
// then closes everything still open.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckHealth(time.Now())
		case <-ctx.Done():
			h.CloseAll()
			return
		}
	}
}

// CheckHealth closes sessions whose last pong is older than the timeout.
func (h *Hub) CheckHealth(now time.Time) int {
	dropped := 0
	for _, s := range h.all() {
		if now.Sub(s.LastPong()) > h.pongTimeout {
			log.Printf("[ws] session %s of actor %s timed out", s.ID, s.Actor.ID)
			s.Close()
			dropped++
		}
	}
	return dropped
}

func (h *Hub) CloseAll() {
	for _, s := range h.all() {
		s.Close()
	}
}
