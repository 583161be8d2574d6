package ws

import (
	"github.com/dakael7/gravitylabs/internal/presence"
)

// MessageHeartbeat keeps the actor's presence alive. Clients that hold one
// logical session across reconnects send their own token; otherwise the
// websocket session id is used.
type MessageHeartbeat struct {
	SessionToken string `json:"session_token,omitempty"`
}

func (msg *MessageHeartbeat) GetType() string {
	return "heartbeat"
}

func (msg *MessageHeartbeat) Process(ctx *MessageContext) error {
	s := ctx.Session
	token := msg.SessionToken
	if token == "" {
		token = s.ID
	}
	if err := ctx.Presence.Heartbeat(ctx.Ctx, s.Actor.ID, token, Scope(s), s.Actor.Name); err != nil {
		return err
	}
	s.TrackToken(token)

	cfg := ctx.Presence.Config()
	return s.Send(map[string]interface{}{
		"type":                  "heartbeat.ack",
		"session_token":         token,
		"heartbeat_interval_ms": cfg.HeartbeatInterval.Milliseconds(),
		"liveness_window_ms":    cfg.LivenessWindow.Milliseconds(),
	})
}

// Scope is the presence scope a session heartbeats under.
func Scope(s *Session) string {
	if s.Actor.Role.IsStaff() {
		return presence.StaffScope
	}
	return s.Actor.ConversationKey()
}
