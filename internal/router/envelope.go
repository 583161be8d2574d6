package router

import (
	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
)

type EnvelopeType string

const (
	TypeInserted EnvelopeType = "message.inserted"
	TypeUpdated  EnvelopeType = "message.updated"
	TypeSystem   EnvelopeType = "system.event"
	TypePresence EnvelopeType = "presence.changed"
	TypeResync   EnvelopeType = "resync.required"
)

// Envelope is what a subscriber receives. Exactly one of Message, System
// and Presence is set, except for resync envelopes which carry none.
type Envelope struct {
	Type            EnvelopeType         `json:"type"`
	Seq             uint64               `json:"seq,omitempty"`
	ConversationKey string               `json:"conversation_key,omitempty"`
	Message         *models.Message      `json:"message,omitempty"`
	System          *feed.SystemEvent    `json:"system,omitempty"`
	Presence        *presence.Transition `json:"presence,omitempty"`
	Reason          string               `json:"reason,omitempty"`
}

func fromEvent(ev feed.Event) (Envelope, bool) {
	env := Envelope{Seq: ev.Seq, ConversationKey: ev.ConversationKey}
	switch ev.Kind {
	case feed.KindInserted:
		env.Type = TypeInserted
		env.Message = ev.Message
	case feed.KindUpdated:
		env.Type = TypeUpdated
		env.Message = ev.Message
	case feed.KindSystem:
		env.Type = TypeSystem
		env.System = ev.System
	default:
		return Envelope{}, false
	}
	return env, true
}
