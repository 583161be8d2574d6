package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/dakael7/gravitylabs/internal/router"
)

// Subscriber is satisfied by *router.Router.
type Subscriber interface {
	Subscribe(f router.Filter) (*router.Subscription, error)
}

// PresenceTracker is the part of *presence.Registry a session drives.
type PresenceTracker interface {
	Heartbeat(ctx context.Context, actorID, sessionToken, scope, displayName string) error
	Leave(ctx context.Context, actorID, sessionToken string)
	Config() presence.Config
}

// ReadMarker is satisfied by *service.MessageService.
type ReadMarker interface {
	MarkConversationRead(ctx context.Context, conversationKey string, reader models.SenderKind) (int, error)
}

// MessageContext provides all dependencies needed for message processing
type MessageContext struct {
	Ctx      context.Context
	Session  *Session
	Hub      *Hub
	Router   Subscriber
	Presence PresenceTracker
	Reads    ReadMarker
}

// Message interface for all WebSocket message types
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorResponse is sent when message processing fails
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func ToJson(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func FromJson(jsonBytes []byte, msg Message) error {
	if len(jsonBytes) == 0 {
		return nil
	}
	return json.Unmarshal(jsonBytes, msg)
}

func CreateMessage(msgType string, typeRegistry map[string]reflect.Type) (Message, error) {
	msgTypeReflect, ok := typeRegistry[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}

	instance := reflect.New(msgTypeReflect).Interface()
	return instance.(Message), nil
}

// SendError sends an error response to the client
func SendError(s *Session, code, message, details string) error {
	return s.Send(ErrorResponse{
		Type:    "error",
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// ErrorCode maps a processing error to the code reported to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return "invalid_command"
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "processing_failed"
}

// Dispatch decodes one client frame and runs it. Failures are reported to the
// client; the returned error is only for logging.
func Dispatch(ctx *MessageContext, data []byte) error {
	msg, err := Deserialize(data)
	if err != nil {
		SendError(ctx.Session, "invalid_message", "Invalid message format", err.Error())
		return err
	}

	if err := msg.Process(ctx); err != nil {
		SendError(ctx.Session, ErrorCode(err), "Failed to process message", err.Error())
		return fmt.Errorf("%s: %w", msg.GetType(), err)
	}
	return nil
}
