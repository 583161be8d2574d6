package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// RealtimeConfig configures the websocket client.
type RealtimeConfig struct {
	Token string
	// SessionToken identifies this client to the presence registry across
	// reconnects. A random one is generated when empty.
	SessionToken         string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.SessionToken == "" {
		c.SessionToken = uuid.NewString()
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ErrNotConnected is returned by commands sent while no connection is up.
// The command still takes effect on the next connect.
var ErrNotConnected = errors.New("not connected")

type command struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type filterPayload struct {
	Filter          router.FilterKind `json:"filter"`
	ConversationKey string            `json:"conversation_key,omitempty"`
}

// serverFrame covers both envelopes and command replies.
type serverFrame struct {
	router.Envelope
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func isEnvelope(t router.EnvelopeType) bool {
	switch t {
	case router.TypeInserted, router.TypeUpdated, router.TypeSystem, router.TypePresence, router.TypeResync:
		return true
	}
	return false
}

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// Realtime keeps one websocket open to the server. Subscriptions and open
// conversations are remembered and replayed on every reconnect. The server
// answers each new subscription with a resync envelope once it is
// registered, so views fetch what they missed without racing the stream.
type Realtime struct {
	wsURL  string
	config RealtimeConfig
	recon  *reconnector

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	filters map[string]router.Filter
	open    map[string]bool

	envelopes chan router.Envelope
}

func NewRealtime(baseURL string, config RealtimeConfig) *Realtime {
	config.defaults()
	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return &Realtime{
		wsURL:  strings.TrimRight(wsURL, "/") + "/ws",
		config: config,
		recon: &reconnector{
			baseDelay:   config.ReconnectBaseDelay,
			maxDelay:    config.ReconnectMaxDelay,
			maxAttempts: config.MaxReconnectAttempts,
		},
		state:     StateDisconnected,
		filters:   make(map[string]router.Filter),
		open:      make(map[string]bool),
		envelopes: make(chan router.Envelope, router.DefaultQueueSize),
	}
}

// Envelopes streams everything the server pushes. It is closed when Run
// returns.
func (r *Realtime) Envelopes() <-chan router.Envelope { return r.envelopes }

func (r *Realtime) SessionToken() string { return r.config.SessionToken }

func (r *Realtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Realtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func filterID(f router.Filter) string {
	return string(f.Kind) + ":" + f.ConversationKey
}

func (r *Realtime) Subscribe(ctx context.Context, f router.Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.filters[filterID(f)] = f
	r.mu.Unlock()
	return r.send(ctx, command{Type: "subscribe", Payload: filterPayload{f.Kind, f.ConversationKey}})
}

func (r *Realtime) Unsubscribe(ctx context.Context, f router.Filter) error {
	r.mu.Lock()
	delete(r.filters, filterID(f))
	r.mu.Unlock()
	return r.send(ctx, command{Type: "unsubscribe", Payload: filterPayload{f.Kind, f.ConversationKey}})
}

// Open subscribes to the conversation and asks the server to mark it read.
func (r *Realtime) Open(ctx context.Context, conversationKey string) error {
	r.mu.Lock()
	r.open[conversationKey] = true
	r.mu.Unlock()
	return r.send(ctx, command{Type: "open", Payload: map[string]string{"conversation_key": conversationKey}})
}

func (r *Realtime) Close(ctx context.Context, conversationKey string) error {
	r.mu.Lock()
	delete(r.open, conversationKey)
	r.mu.Unlock()
	return r.send(ctx, command{Type: "close", Payload: map[string]string{"conversation_key": conversationKey}})
}

func (r *Realtime) send(ctx context.Context, cmd command) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Run connects and stays connected until ctx is cancelled or reconnect
// attempts run out.
func (r *Realtime) Run(ctx context.Context) error {
	defer close(r.envelopes)
	defer r.setState(StateDisconnected)

	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.recon.shouldReconnect() {
			return fmt.Errorf("giving up after %d attempts: %w", r.recon.attempt, err)
		}
		delay := r.recon.nextDelay()
		log.Printf("[realtime] connection lost (%v), reconnecting in %s", err, delay)
		r.setState(StateReconnecting)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one connection from dial to failure.
func (r *Realtime) session(ctx context.Context) error {
	r.setState(StateConnecting)
	conn, _, err := websocket.Dial(ctx, r.wsURL, &websocket.DialOptions{
		HTTPClient: r.config.HTTPClient,
		HTTPHeader: http.Header{"Authorization": {"Bearer " + r.config.Token}},
	})
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.conn = conn
	r.state = StateConnected
	r.mu.Unlock()
	r.recon.markConnected()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
	}()

	if err := r.replay(connCtx); err != nil {
		return err
	}

	go r.heartbeatLoop(connCtx)
	return r.readLoop(connCtx, conn)
}

// replay restores subscriptions, open conversations and presence.
func (r *Realtime) replay(ctx context.Context) error {
	r.mu.Lock()
	filters := make([]router.Filter, 0, len(r.filters))
	for _, f := range r.filters {
		filters = append(filters, f)
	}
	open := make([]string, 0, len(r.open))
	for key := range r.open {
		open = append(open, key)
	}
	r.mu.Unlock()

	for _, f := range filters {
		if err := r.send(ctx, command{Type: "subscribe", Payload: filterPayload{f.Kind, f.ConversationKey}}); err != nil {
			return err
		}
	}
	for _, key := range open {
		if err := r.send(ctx, command{Type: "open", Payload: map[string]string{"conversation_key": key}}); err != nil {
			return err
		}
	}
	return r.heartbeat(ctx)
}

func (r *Realtime) heartbeat(ctx context.Context) error {
	return r.send(ctx, command{Type: "heartbeat", Payload: map[string]string{"session_token": r.config.SessionToken}})
}

func (r *Realtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[realtime] heartbeat failed: %v", err)
			}
		}
	}
}

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var frame serverFrame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		switch {
		case isEnvelope(frame.Type):
			if !r.emit(ctx, frame.Envelope) {
				return ctx.Err()
			}
		case frame.Type == "error":
			log.Printf("[realtime] server rejected command: %s (%s)", frame.Error, frame.Code)
		}
	}
}

// emit blocks until the consumer takes env or ctx ends.
func (r *Realtime) emit(ctx context.Context, env router.Envelope) bool {
	select {
	case r.envelopes <- env:
		return true
	case <-ctx.Done():
		return false
	}
}
