package ws

import (
	"log"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/dakael7/gravitylabs/internal/validation"
)

// resyncAfterSubscribe tells the client to fetch its snapshot now. It is sent
// only once the subscription is registered, so anything appended after the
// fetch starts is already on its way through the stream.
func resyncAfterSubscribe(s *Session, f router.Filter) error {
	return s.Send(router.Envelope{Type: router.TypeResync, ConversationKey: f.ConversationKey, Reason: "subscribed"})
}

// MessageSubscribe attaches the session to a router filter. A new
// subscription is acknowledged and followed by a resync.required envelope.
type MessageSubscribe struct {
	Filter          router.FilterKind `json:"filter"`
	ConversationKey string            `json:"conversation_key,omitempty"`
}

func (msg *MessageSubscribe) GetType() string {
	return "subscribe"
}

func (msg *MessageSubscribe) Process(ctx *MessageContext) error {
	f, err := authorizeFilter(ctx.Session, msg.Filter, msg.ConversationKey)
	if err != nil {
		return err
	}
	added, err := ctx.Session.Subscribe(ctx.Router, f)
	if err != nil {
		return err
	}
	if err := ctx.Session.Send(map[string]interface{}{
		"type":             "subscribed",
		"filter":           f.Kind,
		"conversation_key": f.ConversationKey,
	}); err != nil {
		return err
	}
	if !added {
		return nil
	}
	return resyncAfterSubscribe(ctx.Session, f)
}

// MessageUnsubscribe detaches a filter. Unknown filters are acknowledged too.
type MessageUnsubscribe struct {
	Filter          router.FilterKind `json:"filter"`
	ConversationKey string            `json:"conversation_key,omitempty"`
}

func (msg *MessageUnsubscribe) GetType() string {
	return "unsubscribe"
}

func (msg *MessageUnsubscribe) Process(ctx *MessageContext) error {
	f := router.Filter{Kind: msg.Filter, ConversationKey: validation.NormalizeConversationKey(msg.ConversationKey)}
	ctx.Session.Unsubscribe(f)
	return ctx.Session.Send(map[string]interface{}{
		"type":             "unsubscribed",
		"filter":           f.Kind,
		"conversation_key": f.ConversationKey,
	})
}

// MessageOpen is sent when the viewer brings a conversation on screen. The
// session subscribes to it and everything the other side wrote is marked
// read. A failed mark is logged and reported as marked=0; the client's read
// reconciler retries it.
type MessageOpen struct {
	ConversationKey string `json:"conversation_key"`
}

func (msg *MessageOpen) GetType() string {
	return "open"
}

func (msg *MessageOpen) Process(ctx *MessageContext) error {
	f, err := authorizeFilter(ctx.Session, router.FilterConversation, msg.ConversationKey)
	if err != nil {
		return err
	}
	added, err := ctx.Session.Subscribe(ctx.Router, f)
	if err != nil {
		return err
	}
	marked, err := ctx.Reads.MarkConversationRead(ctx.Ctx, f.ConversationKey, ctx.Session.Actor.Role.SenderKind())
	if err != nil {
		log.Printf("[ws] open %s: mark read failed actor=%s: %v", f.ConversationKey, ctx.Session.Actor.ID, err)
		marked = 0
	}
	if err := ctx.Session.Send(map[string]interface{}{
		"type":             "opened",
		"conversation_key": f.ConversationKey,
		"marked":           marked,
	}); err != nil {
		return err
	}
	if !added {
		return nil
	}
	return resyncAfterSubscribe(ctx.Session, f)
}

// MessageClose drops the conversation subscription opened earlier.
type MessageClose struct {
	ConversationKey string `json:"conversation_key"`
}

func (msg *MessageClose) GetType() string {
	return "close"
}

func (msg *MessageClose) Process(ctx *MessageContext) error {
	key := validation.NormalizeConversationKey(msg.ConversationKey)
	ctx.Session.Unsubscribe(router.Conversation(key))
	return ctx.Session.Send(map[string]interface{}{
		"type":             "closed",
		"conversation_key": key,
	})
}

// authorizeFilter builds the filter and checks the actor may hold it.
// Customers only ever see their own conversation.
func authorizeFilter(s *Session, kind router.FilterKind, conversationKey string) (router.Filter, error) {
	f := router.Filter{Kind: kind}
	if kind == router.FilterConversation {
		f.ConversationKey = validation.NormalizeConversationKey(conversationKey)
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	switch kind {
	case router.FilterConversation:
		if !s.Actor.CanAccess(f.ConversationKey) {
			return f, apperr.Forbidden("conversation")
		}
	default:
		if !s.Actor.Role.IsStaff() {
			return f, apperr.Forbidden(string(kind))
		}
	}
	return f, nil
}
