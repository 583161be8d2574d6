package handlers

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/dakael7/gravitylabs/internal/handlers/ws"
	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	router   ws.Subscriber
	presence ws.PresenceTracker
	reads    ws.ReadMarker
}

func NewWebSocketHandler(hub *ws.Hub, router ws.Subscriber, presence ws.PresenceTracker, reads ws.ReadMarker) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		router:   router,
		presence: presence,
		reads:    reads,
	}
}

// GetHub returns the hub instance
func (h *WebSocketHandler) GetHub() *ws.Hub {
	return h.hub
}

// Upgrade rejects plain HTTP requests on the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	id, _ := c.Locals(middleware.LocalActorID).(string)
	role, _ := c.Locals(middleware.LocalRole).(string)
	name, _ := c.Locals(middleware.LocalDisplayName).(string)
	if id == "" {
		c.Close()
		return
	}
	actor := middleware.Actor{ID: id, Role: models.Role(role), Name: name}
	wsDebug := os.Getenv("WS_DEBUG") == "true"

	// Check if client supports gzip compression (via query param or header)
	supportsGzip := c.Query("gzip") == "1" || c.Headers("X-Supports-Gzip") == "1"

	session := ws.NewSession(actor, c, supportsGzip)
	h.hub.Register(session)

	pongTimeout := h.hub.PongTimeout()
	c.SetPongHandler(func(string) error {
		session.MarkPong()
		return c.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	c.SetReadDeadline(time.Now().Add(pongTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.hub.Unregister(session)
		session.Close()
		for _, token := range session.Tokens() {
			h.presence.Leave(context.Background(), actor.ID, token)
		}
	}()

	msgCtx := &ws.MessageContext{
		Ctx:      ctx,
		Session:  session,
		Hub:      h.hub,
		Router:   h.router,
		Presence: h.presence,
		Reads:    h.reads,
	}

	// Handle incoming messages
	for {
		messageType, messageBytes, err := c.ReadMessage()
		if err != nil {
			if wsDebug {
				log.Printf("[ws] read from actor %s session=%s: %v", actor.ID, session.ID, err)
			}
			break
		}
		session.MarkPong()
		c.SetReadDeadline(time.Now().Add(pongTimeout))

		if wsDebug {
			log.Printf("ws_recv actor=%s frame_type=%d size=%d", actor.ID, messageType, len(messageBytes))
		}

		// Decompress if binary message (gzip compressed)
		if messageType == websocket.BinaryMessage {
			decompressed, err := ws.DecompressMessage(messageBytes)
			if err != nil {
				ws.SendError(session, "decompression_failed", "Failed to decompress message", err.Error())
				continue
			}
			messageBytes = decompressed
		}

		if err := ws.Dispatch(msgCtx, messageBytes); err != nil {
			log.Printf("[ws] actor %s session=%s: %v", actor.ID, session.ID, err)
		}
	}
}
