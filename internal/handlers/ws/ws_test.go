package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/gofiber/websocket/v2"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []frame
	pings  int
	closed bool
	err    error
}

type frame struct {
	kind int
	data []byte
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame{kind, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) WriteControl(kind int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// types decodes every text frame and returns the "type" fields in order.
func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.frames {
		data := f.data
		if f.kind == websocket.BinaryMessage {
			var err error
			if data, err = DecompressMessage(data); err != nil {
				t.Fatalf("decompress: %v", err)
			}
		}
		var v struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		out = append(out, v.Type)
	}
	return out
}

func (c *fakeConn) last(t *testing.T, v interface{}) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("no frames written")
	}
	if err := json.Unmarshal(c.frames[len(c.frames)-1].data, v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// find decodes the last text frame whose type is typ.
func (c *fakeConn) find(t *testing.T, typ string, v interface{}) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(c.frames[i].data, &head) != nil || head.Type != typ {
			continue
		}
		if err := json.Unmarshal(c.frames[i].data, v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return
	}
	t.Fatalf("no %s frame written", typ)
}

type fakePresence struct {
	mu     sync.Mutex
	beats  []string
	scopes []string
	err    error
}

func (p *fakePresence) Heartbeat(ctx context.Context, actorID, token, scope, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.beats = append(p.beats, actorID+"/"+token)
	p.scopes = append(p.scopes, scope)
	return nil
}

func (p *fakePresence) Leave(ctx context.Context, actorID, token string) {}

func (p *fakePresence) Config() presence.Config { return presence.DefaultConfig() }

type fakeReads struct {
	calls []string
	n     int
	err   error
}

func (r *fakeReads) MarkConversationRead(ctx context.Context, key string, reader models.SenderKind) (int, error) {
	r.calls = append(r.calls, key+"/"+string(reader))
	return r.n, r.err
}

var (
	customer = middleware.Actor{ID: "ana@example.com", Role: models.RoleCustomer, Name: "Ana"}
	staff    = middleware.Actor{ID: "staff-1", Role: models.RoleStaff, Name: "Sam"}
)

func newContext(actor middleware.Actor) (*MessageContext, *fakeConn, *router.Router) {
	conn := &fakeConn{}
	r := router.New(8)
	s := NewSession(actor, conn, false)
	return &MessageContext{
		Ctx:      context.Background(),
		Session:  s,
		Hub:      NewHub(),
		Router:   r,
		Presence: &fakePresence{},
		Reads:    &fakeReads{},
	}, conn, r
}

func command(t *testing.T, typ string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(SerializedMessage{Type: typ, Payload: raw})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeserializeRegisteredTypes(t *testing.T) {
	for name := range GetTypeRegistry() {
		msg, err := Deserialize([]byte(`{"type":"` + name + `"}`))
		if err != nil {
			t.Errorf("Deserialize(%s) error = %v", name, err)
			continue
		}
		if msg.GetType() != name {
			t.Errorf("GetType() = %s, want %s", msg.GetType(), name)
		}
	}

	if _, err := Deserialize([]byte(`{"type":"typing"}`)); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSubscribeAuthorization(t *testing.T) {
	tests := []struct {
		name      string
		actor     middleware.Actor
		payload   MessageSubscribe
		shouldErr bool
		code      string
	}{
		{"customer own conversation", customer, MessageSubscribe{Filter: router.FilterConversation, ConversationKey: "Ana@Example.com"}, false, ""},
		{"customer other conversation", customer, MessageSubscribe{Filter: router.FilterConversation, ConversationKey: "bob@example.com"}, true, "forbidden"},
		{"customer all", customer, MessageSubscribe{Filter: router.FilterAll}, true, "forbidden"},
		{"customer system", customer, MessageSubscribe{Filter: router.FilterSystem}, true, "forbidden"},
		{"staff all", staff, MessageSubscribe{Filter: router.FilterAll}, false, ""},
		{"staff any conversation", staff, MessageSubscribe{Filter: router.FilterConversation, ConversationKey: "bob@example.com"}, false, ""},
		{"missing key", staff, MessageSubscribe{Filter: router.FilterConversation}, true, "invalid_command"},
		{"unknown filter", staff, MessageSubscribe{Filter: "everything"}, true, "invalid_command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, conn, r := newContext(tt.actor)
			err := Dispatch(ctx, command(t, "subscribe", tt.payload))
			if (err != nil) != tt.shouldErr {
				t.Fatalf("Dispatch() error = %v, shouldErr %v", err, tt.shouldErr)
			}
			if tt.shouldErr {
				var resp ErrorResponse
				conn.last(t, &resp)
				if resp.Code != tt.code {
					t.Errorf("error code = %s, want %s", resp.Code, tt.code)
				}
				if r.Count() != 0 {
					t.Errorf("router subscriptions = %d, want 0", r.Count())
				}
				return
			}
			if r.Count() != 1 {
				t.Errorf("router subscriptions = %d, want 1", r.Count())
			}
		})
	}
}

func TestSubscriptionForwardsEnvelopes(t *testing.T) {
	ctx, conn, r := newContext(customer)
	if err := Dispatch(ctx, command(t, "subscribe", MessageSubscribe{Filter: router.FilterConversation, ConversationKey: customer.ID})); err != nil {
		t.Fatal(err)
	}
	// a second identical subscribe is acknowledged without a second queue
	if err := Dispatch(ctx, command(t, "subscribe", MessageSubscribe{Filter: router.FilterConversation, ConversationKey: customer.ID})); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 1 {
		t.Fatalf("router subscriptions = %d, want 1", r.Count())
	}

	r.Deliver(feed.Event{
		Kind:            feed.KindInserted,
		Seq:             1,
		ConversationKey: customer.ID,
		Message:         &models.Message{ID: 7, ConversationKey: customer.ID, SenderKind: models.SenderStaff, Body: "hi"},
	})
	r.Deliver(feed.Event{
		Kind:            feed.KindInserted,
		Seq:             2,
		ConversationKey: "bob@example.com",
		Message:         &models.Message{ID: 8, ConversationKey: "bob@example.com", SenderKind: models.SenderStaff},
	})

	waitFor(t, func() bool { return len(conn.types(t)) == 4 })
	got := conn.types(t)
	// only the subscription that was actually added asks for a resync
	want := []string{"subscribed", string(router.TypeResync), "subscribed", string(router.TypeInserted)}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames = %v, want %v", got, want)
		}
	}

	if err := Dispatch(ctx, command(t, "unsubscribe", MessageUnsubscribe{Filter: router.FilterConversation, ConversationKey: customer.ID})); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 0 {
		t.Errorf("router subscriptions after unsubscribe = %d, want 0", r.Count())
	}
}

func TestOpenMarksConversationRead(t *testing.T) {
	tests := []struct {
		name      string
		actor     middleware.Actor
		key       string
		readErr   error
		shouldErr bool
		wantCall  string
	}{
		{"customer opens own", customer, customer.ID, nil, false, "ana@example.com/customer"},
		{"staff opens customer", staff, customer.ID, nil, false, "ana@example.com/staff"},
		{"customer opens other", customer, "bob@example.com", nil, true, ""},
		{"store down", staff, customer.ID, apperr.StoreUnavailable("mark", errors.New("down")), false, "ana@example.com/staff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, conn, r := newContext(tt.actor)
			reads := &fakeReads{n: 2, err: tt.readErr}
			ctx.Reads = reads

			err := Dispatch(ctx, command(t, "open", MessageOpen{ConversationKey: tt.key}))
			if (err != nil) != tt.shouldErr {
				t.Fatalf("Dispatch() error = %v, shouldErr %v", err, tt.shouldErr)
			}
			if tt.wantCall == "" {
				if len(reads.calls) != 0 {
					t.Errorf("unexpected mark calls %v", reads.calls)
				}
				return
			}
			if len(reads.calls) != 1 || reads.calls[0] != tt.wantCall {
				t.Errorf("mark calls = %v, want [%s]", reads.calls, tt.wantCall)
			}
			if r.Count() != 1 {
				t.Errorf("router subscriptions = %d, want 1", r.Count())
			}
			if !tt.shouldErr {
				var resp struct {
					Marked int `json:"marked"`
				}
				conn.find(t, "opened", &resp)
				wantMarked := 2
				if tt.readErr != nil {
					wantMarked = 0
				}
				if resp.Marked != wantMarked {
					t.Errorf("marked = %d, want %d", resp.Marked, wantMarked)
				}
				var resync router.Envelope
				conn.last(t, &resync)
				if resync.Type != router.TypeResync || resync.ConversationKey != customer.ID {
					t.Errorf("last frame = %+v, want resync for %s", resync, customer.ID)
				}
			}

			if err := Dispatch(ctx, command(t, "close", MessageClose{ConversationKey: tt.key})); err != nil {
				t.Fatal(err)
			}
			if r.Count() != 0 {
				t.Errorf("router subscriptions after close = %d, want 0", r.Count())
			}
		})
	}
}

func TestHeartbeatUsesScopeAndToken(t *testing.T) {
	tests := []struct {
		name      string
		actor     middleware.Actor
		token     string
		wantScope string
	}{
		{"customer", customer, "tab-1", customer.ID},
		{"staff", staff, "tab-2", presence.StaffScope},
		{"session id fallback", staff, "", presence.StaffScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _, _ := newContext(tt.actor)
			p := &fakePresence{}
			ctx.Presence = p

			if err := Dispatch(ctx, command(t, "heartbeat", MessageHeartbeat{SessionToken: tt.token})); err != nil {
				t.Fatal(err)
			}
			want := tt.token
			if want == "" {
				want = ctx.Session.ID
			}
			if p.beats[0] != tt.actor.ID+"/"+want {
				t.Errorf("heartbeat = %s, want token %s", p.beats[0], want)
			}
			if p.scopes[0] != tt.wantScope {
				t.Errorf("scope = %s, want %s", p.scopes[0], tt.wantScope)
			}
			tokens := ctx.Session.Tokens()
			if len(tokens) != 1 || tokens[0] != want {
				t.Errorf("tracked tokens = %v", tokens)
			}
		})
	}
}

func TestPingAnswersPong(t *testing.T) {
	ctx, conn, _ := newContext(customer)
	if err := Dispatch(ctx, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if got := conn.types(t); len(got) != 1 || got[0] != "pong" {
		t.Errorf("frames = %v, want [pong]", got)
	}
}

func TestSendCompressesLargePayloads(t *testing.T) {
	conn := &fakeConn{}
	s := NewSession(customer, conn, true)

	if err := s.Send(map[string]string{"type": "small"}); err != nil {
		t.Fatal(err)
	}
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'a'
	}
	if err := s.Send(map[string]string{"type": "big", "body": string(big)}); err != nil {
		t.Fatal(err)
	}

	if conn.frames[0].kind != websocket.TextMessage {
		t.Errorf("small frame kind = %d, want text", conn.frames[0].kind)
	}
	if conn.frames[1].kind != websocket.BinaryMessage {
		t.Errorf("large frame kind = %d, want binary", conn.frames[1].kind)
	}
	if got := conn.types(t); got[1] != "big" {
		t.Errorf("decoded type = %s", got[1])
	}
}

func TestSessionCloseReleasesSubscriptions(t *testing.T) {
	ctx, conn, r := newContext(staff)
	for _, f := range []router.Filter{router.All(), router.System(), router.Conversation(customer.ID)} {
		if _, err := ctx.Session.Subscribe(r, f); err != nil {
			t.Fatal(err)
		}
	}
	if r.Count() != 3 {
		t.Fatalf("router subscriptions = %d, want 3", r.Count())
	}

	ctx.Session.Close()
	ctx.Session.Close()

	if r.Count() != 0 {
		t.Errorf("router subscriptions after close = %d, want 0", r.Count())
	}
	if !conn.closed {
		t.Error("connection not closed")
	}
	if ok, _ := ctx.Session.Subscribe(r, router.All()); ok {
		t.Error("closed session accepted a subscription")
	}
}

func TestHubTracksSessionsPerActor(t *testing.T) {
	h := NewHub()
	a := NewSession(staff, &fakeConn{}, false)
	b := NewSession(staff, &fakeConn{}, false)
	h.Register(a)
	h.Register(b)
	defer h.CloseAll()

	if h.Count() != 2 || !h.IsConnected(staff.ID) {
		t.Fatalf("Count() = %d, connected = %v", h.Count(), h.IsConnected(staff.ID))
	}

	h.Unregister(a)
	h.Unregister(a)
	if h.Count() != 1 || !h.IsConnected(staff.ID) {
		t.Errorf("after one unregister Count() = %d", h.Count())
	}
	h.Unregister(b)
	if h.IsConnected(staff.ID) {
		t.Error("actor still connected")
	}
}

func TestHubDropsSilentSessions(t *testing.T) {
	h := NewHub()
	h.SetKeepalive(time.Hour, time.Minute)
	quiet := NewSession(customer, &fakeConn{}, false)
	alive := NewSession(staff, &fakeConn{}, false)
	h.Register(quiet)
	h.Register(alive)
	defer h.CloseAll()

	alive.MarkPong()
	quiet.mu.Lock()
	quiet.lastPong = time.Now().Add(-2 * time.Minute)
	quiet.mu.Unlock()

	if n := h.CheckHealth(time.Now()); n != 1 {
		t.Errorf("CheckHealth() dropped %d, want 1", n)
	}
	select {
	case <-quiet.Done():
	default:
		t.Error("silent session still open")
	}
	select {
	case <-alive.Done():
		t.Error("live session closed")
	default:
	}
}
