package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dakael7/gravitylabs/internal/agent"
	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/dakael7/gravitylabs/internal/readstate"
	"github.com/dakael7/gravitylabs/internal/router"
	"nhooyr.io/websocket"
)

func TestListSince(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]interface{}{
				{"id": 4, "conversation_key": "ana@example.com", "sender_kind": "staff", "body": "hi", "is_read": true, "attachment": nil},
			},
			"count": 1,
		})
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, "tok")
	msgs, err := api.ListSince(context.Background(), "ana@example.com", 3, 50)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if gotPath != "/api/conversations/ana@example.com/messages" {
		t.Errorf("path = %s", gotPath)
	}
	if gotQuery != "limit=50&since_id=3" {
		t.Errorf("query = %s", gotQuery)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("authorization = %s", gotAuth)
	}
	if len(msgs) != 1 || msgs[0].ID != 4 || !msgs[0].IsRead || msgs[0].SenderKind != models.SenderStaff {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"validation", http.StatusBadRequest, `{"error":"must not be empty","code":"validation_failed","field":"body"}`, apperr.ErrValidation},
		{"forbidden", http.StatusForbidden, `{"error":"Not your conversation","code":"forbidden"}`, apperr.ErrForbidden},
		{"not found", http.StatusNotFound, `{"error":"Not found","code":"not_found"}`, apperr.ErrNotFound},
		{"conflict", http.StatusConflict, `{"error":"x","code":"invalid_transition"}`, apperr.ErrInvalidTransition},
		{"unavailable", http.StatusServiceUnavailable, `{"error":"retry","code":"store_unavailable"}`, apperr.ErrStoreUnavailable},
		{"rate limited without body", http.StatusTooManyRequests, ``, apperr.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewAPI(srv.URL, "tok").Append(context.Background(), "ana@example.com", "", "")
			if !errors.Is(err, tt.want) {
				t.Errorf("Append() error = %v, want %v", err, tt.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Errorf("error is not an APIError with status %d: %v", tt.status, err)
			}
		})
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewAPI(url, "tok").Conversations(context.Background())
	if !errors.Is(err, apperr.ErrTransientDelivery) {
		t.Errorf("error = %v, want transient delivery", err)
	}
}

func TestMarkMessageReadNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/messages/9/read" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 2, "is_read": true, "conversation_key": "ana@example.com"})
	}))
	defer srv.Close()
	api := NewAPI(srv.URL, "tok")

	if _, err := api.MarkMessageRead(context.Background(), 9, models.SenderCustomer); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id error = %v, want not found", err)
	}
	m, err := api.MarkMessageRead(context.Background(), 2, models.SenderCustomer)
	if err != nil || !m.IsRead {
		t.Errorf("MarkMessageRead() = %+v, %v", m, err)
	}
}

// wsServer accepts websocket connections and records the commands it sees.
type wsServer struct {
	mu       sync.Mutex
	commands []string
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) (*wsServer, *httptest.Server) {
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var cmd struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			json.Unmarshal(data, &cmd)
			s.mu.Lock()
			s.commands = append(s.commands, cmd.Type+" "+string(cmd.Payload))
			s.mu.Unlock()
			if cmd.Type == "subscribe" {
				conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"subscribed","filter":"conversation","conversation_key":"ana@example.com"}`))
				conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"resync.required","conversation_key":"ana@example.com","reason":"subscribed"}`))
			}
		}
	}))
	return s, srv
}

func (s *wsServer) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func nextEnvelope(t *testing.T, envs <-chan router.Envelope) router.Envelope {
	t.Helper()
	select {
	case env := <-envs:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no envelope")
	}
	return router.Envelope{}
}

func TestRealtimeReplaysSubscriptionsOnReconnect(t *testing.T) {
	s, srv := newWSServer(t)
	defer srv.Close()

	rt := NewRealtime(srv.URL, RealtimeConfig{
		Token:              "tok",
		SessionToken:       "tab-1",
		ReconnectBaseDelay: 10 * time.Millisecond,
		HeartbeatInterval:  time.Hour,
	})
	if err := rt.Subscribe(context.Background(), router.Conversation("ana@example.com")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Subscribe() before connect error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	conn := <-s.conns
	// the resync comes from the server after it registered the replayed subscription
	waitFor(t, func() bool { return s.count("subscribe") == 1 && s.count("heartbeat") == 1 })
	if env := nextEnvelope(t, rt.Envelopes()); env.Type != router.TypeResync || env.Reason != "subscribed" {
		t.Fatalf("first envelope = %+v, want resync after subscribe", env)
	}

	msg := `{"type":"message.inserted","seq":1,"conversation_key":"ana@example.com","message":{"id":5,"conversation_key":"ana@example.com","sender_kind":"staff","body":"hi"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatal(err)
	}
	env := nextEnvelope(t, rt.Envelopes())
	if env.Type != router.TypeInserted || env.Message == nil || env.Message.ID != 5 {
		t.Fatalf("envelope = %+v", env)
	}

	// acknowledgements are not envelopes
	conn.Write(ctx, websocket.MessageText, []byte(`{"type":"subscribed","filter":"conversation"}`))

	conn.Close(websocket.StatusGoingAway, "restart")
	<-s.conns
	if env := nextEnvelope(t, rt.Envelopes()); env.Type != router.TypeResync || env.ConversationKey != "ana@example.com" {
		t.Fatalf("envelope after reconnect = %+v, want resync", env)
	}
	waitFor(t, func() bool { return s.count("subscribe") == 2 && s.count("heartbeat") == 2 })
	if s.count(`heartbeat {"session_token":"tab-1"}`) != 2 {
		t.Errorf("session token not reused: %v", s.commands)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	if rt.State() != StateDisconnected {
		t.Errorf("State() = %s", rt.State())
	}
}

func TestRealtimeGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rt := NewRealtime(srv.URL, RealtimeConfig{
		Token:                "bad",
		MaxReconnectAttempts: 2,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    5 * time.Millisecond,
	})
	if err := rt.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded against a rejecting server")
	}
	if _, ok := <-rt.Envelopes(); ok {
		t.Error("envelope channel still open")
	}
}

type sliceSource struct {
	mu    sync.Mutex
	msgs  []models.Message
	calls int
	fails int
}

func (s *sliceSource) ListSince(ctx context.Context, key string, sinceID uint, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fails > 0 {
		s.fails--
		return nil, apperr.ErrStoreUnavailable
	}
	var out []models.Message
	for _, m := range s.msgs {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestFollowConversationResyncs(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &sliceSource{msgs: []models.Message{
		{ID: 1, ConversationKey: "ana@example.com", SenderKind: models.SenderCustomer, CreatedAt: base},
		{ID: 2, ConversationKey: "ana@example.com", SenderKind: models.SenderStaff, CreatedAt: base.Add(time.Second)},
	}}
	view := agent.NewConversationView("ana@example.com", models.SenderStaff)

	envs := make(chan router.Envelope, 4)
	envs <- router.Envelope{Type: router.TypeResync, ConversationKey: "ana@example.com", Reason: "subscribed"}
	envs <- router.Envelope{Type: router.TypeInserted, ConversationKey: "bob@example.com", Message: &models.Message{ID: 9, ConversationKey: "bob@example.com"}}
	envs <- router.Envelope{Type: router.TypeInserted, ConversationKey: "ana@example.com", Message: &models.Message{ID: 3, ConversationKey: "ana@example.com", CreatedAt: base.Add(2 * time.Second)}}
	close(envs)

	changes := 0
	if err := FollowConversation(context.Background(), src, envs, view, func() { changes++ }); err != nil {
		t.Fatal(err)
	}
	msgs := view.Messages()
	if len(msgs) != 3 || msgs[0].ID != 1 || msgs[2].ID != 3 {
		t.Errorf("messages = %+v", msgs)
	}
	if src.calls != 1 {
		t.Errorf("resync calls = %d, want 1", src.calls)
	}
	if changes != 2 {
		t.Errorf("changes = %d, want 2", changes)
	}
}

func TestFollowConversationRetriesFailedResync(t *testing.T) {
	defer func(base, max time.Duration) { resyncRetryBase, resyncRetryMax = base, max }(resyncRetryBase, resyncRetryMax)
	resyncRetryBase, resyncRetryMax = 5*time.Millisecond, 20*time.Millisecond

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &sliceSource{fails: 2, msgs: []models.Message{
		{ID: 1, ConversationKey: "ana@example.com", SenderKind: models.SenderCustomer, CreatedAt: base},
		{ID: 2, ConversationKey: "ana@example.com", SenderKind: models.SenderCustomer, CreatedAt: base.Add(time.Second)},
	}}
	view := agent.NewConversationView("ana@example.com", models.SenderStaff)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	envs := make(chan router.Envelope, 4)
	done := make(chan error, 1)
	go func() { done <- FollowConversation(ctx, src, envs, view, nil) }()

	envs <- router.Envelope{Type: router.TypeResync, ConversationKey: "ana@example.com", Reason: "overflow"}
	envs <- router.Envelope{Type: router.TypeInserted, ConversationKey: "ana@example.com", Message: &models.Message{ID: 3, ConversationKey: "ana@example.com", CreatedAt: base.Add(2 * time.Second)}}

	waitFor(t, func() bool { return len(view.Messages()) == 3 && !view.NeedsResync() })
	close(envs)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 3 {
		t.Errorf("resync calls = %d, want 3 (two failures and one success)", calls)
	}
}

func TestFollowConversationIgnoresOtherCustomersPresence(t *testing.T) {
	view := agent.NewConversationView("ana@example.com", models.SenderStaff)
	envs := make(chan router.Envelope, 3)
	envs <- router.Envelope{Type: router.TypePresence, ConversationKey: "bob@example.com", Presence: &presence.Transition{ActorID: "bob@example.com", Scope: "bob@example.com", Online: true}}
	envs <- router.Envelope{Type: router.TypePresence, ConversationKey: "ana@example.com", Presence: &presence.Transition{ActorID: "ana@example.com", Scope: "ana@example.com", Online: true}}
	envs <- router.Envelope{Type: router.TypePresence, Presence: &presence.Transition{ActorID: "staff-1", Scope: presence.StaffScope, Online: true}}
	close(envs)

	if err := FollowConversation(context.Background(), &sliceSource{}, envs, view, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := view.Presence("bob@example.com"); ok {
		t.Error("presence from another conversation leaked into the view")
	}
	if _, ok := view.Presence("ana@example.com"); !ok {
		t.Error("own customer presence missing")
	}
	if !view.StaffOnline() {
		t.Error("staff presence missing")
	}
}

type flakyMarker struct {
	mu        sync.Mutex
	bulkFails int
	bulk      int
	singles   []uint
}

func (m *flakyMarker) MarkConversationRead(ctx context.Context, key string, reader models.SenderKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulk++
	if m.bulkFails > 0 {
		m.bulkFails--
		return 0, apperr.ErrStoreUnavailable
	}
	return 0, nil
}

func (m *flakyMarker) MarkMessageRead(ctx context.Context, id uint, reader models.SenderKind) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.singles = append(m.singles, id)
	return &models.Message{ID: id, IsRead: true}, nil
}

func TestFollowConversationRetriesReadMarksAfterResync(t *testing.T) {
	ctx := context.Background()
	marker := &flakyMarker{bulkFails: 1}
	rec := readstate.New(marker, models.SenderStaff)
	view := agent.NewConversationView("ana@example.com", models.SenderStaff)
	view.SetReconciler(rec)
	rec.Open(ctx, "ana@example.com")
	if rec.Pending() != 1 {
		t.Fatalf("pending after failed open = %d, want 1", rec.Pending())
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	envs := make(chan router.Envelope, 2)
	envs <- router.Envelope{Type: router.TypeResync, ConversationKey: "ana@example.com", Reason: "subscribed"}
	envs <- router.Envelope{Type: router.TypeInserted, ConversationKey: "ana@example.com", Message: &models.Message{ID: 4, ConversationKey: "ana@example.com", SenderKind: models.SenderCustomer, CreatedAt: base}}
	close(envs)

	if err := FollowConversation(ctx, &sliceSource{}, envs, view, nil); err != nil {
		t.Fatal(err)
	}
	if marker.bulk != 2 {
		t.Errorf("bulk marks = %d, want 2 (failed open and retry)", marker.bulk)
	}
	if len(marker.singles) != 1 || marker.singles[0] != 4 {
		t.Errorf("single marks = %v, want [4]", marker.singles)
	}
	if rec.Pending() != 0 {
		t.Errorf("pending after retry = %d", rec.Pending())
	}
}
