package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Conn is the part of *websocket.Conn a session writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session is one websocket connection of an authenticated actor. An actor
// may hold several sessions at once.
type Session struct {
	ID           string
	Actor        middleware.Actor
	SupportsGzip bool

	conn    Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	subs     map[string]*router.Subscription
	tokens   map[string]struct{}
	lastPong time.Time
	closed   bool
	done     chan struct{}
}

func NewSession(actor middleware.Actor, conn Conn, supportsGzip bool) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Actor:        actor,
		SupportsGzip: supportsGzip,
		conn:         conn,
		subs:         make(map[string]*router.Subscription),
		tokens:       make(map[string]struct{}),
		lastPong:     time.Now(),
		done:         make(chan struct{}),
	}
}

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send marshals v and writes it as one frame, compressed when the client
// opted in and it pays off.
func (s *Session) Send(v interface{}) error {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return err
	}

	finalData := jsonData
	frameType := websocket.TextMessage
	if s.SupportsGzip && len(jsonData) > gzipThreshold {
		compressed, err := CompressMessage(jsonData)
		if err == nil && len(compressed) < len(jsonData) {
			finalData = compressed
			frameType = websocket.BinaryMessage
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(frameType, finalData)
}

func (s *Session) ping(deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (s *Session) MarkPong() {
	s.mu.Lock()
	s.lastPong = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

func filterKey(f router.Filter) string {
	return string(f.Kind) + ":" + f.ConversationKey
}

// Subscribe attaches the session to f. It reports false when the session
// already holds an identical subscription.
func (s *Session) Subscribe(r Subscriber, f router.Filter) (bool, error) {
	key := filterKey(f)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	if _, ok := s.subs[key]; ok {
		return false, nil
	}
	sub, err := r.Subscribe(f)
	if err != nil {
		return false, err
	}
	s.subs[key] = sub
	go s.pump(sub)
	return true, nil
}

// pump forwards one subscription's envelopes until it is closed.
func (s *Session) pump(sub *router.Subscription) {
	for env := range sub.C() {
		if err := s.Send(env); err != nil {
			log.Printf("[ws] session %s actor %s write failed: %v", s.ID, s.Actor.ID, err)
			s.Close()
			return
		}
	}
}

// Unsubscribe detaches f and reports whether it was attached.
func (s *Session) Unsubscribe(f router.Filter) bool {
	s.mu.Lock()
	sub, ok := s.subs[filterKey(f)]
	delete(s.subs, filterKey(f))
	s.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
	return ok
}

// Filters lists the session's active subscriptions.
func (s *Session) Filters() []router.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]router.Filter, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub.Filter())
	}
	return out
}

// TrackToken remembers a presence session token so it can be released on
// disconnect.
func (s *Session) TrackToken(token string) {
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// Close releases every subscription and the connection. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]*router.Subscription)
	close(s.done)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if err := s.conn.Close(); err != nil {
		log.Printf("[ws] session %s close: %v", s.ID, err)
	}
}
