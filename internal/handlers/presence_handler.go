package handlers

import (
	"strings"

	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/gofiber/fiber/v2"
)

type PresenceHandler struct {
	registry PresenceTracker
}

func NewPresenceHandler(registry PresenceTracker) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

// presenceScope is where an actor's liveness is published: the shared staff
// scope, or the customer's own conversation.
func presenceScope(actor middleware.Actor) string {
	if actor.Role.IsStaff() {
		return presence.StaffScope
	}
	return actor.ConversationKey()
}

type heartbeatInput struct {
	SessionToken string `json:"session_token"`
}

func (h *PresenceHandler) Heartbeat(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	var input heartbeatInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	if err := h.registry.Heartbeat(c.UserContext(), actor.ID, strings.TrimSpace(input.SessionToken), presenceScope(actor), actor.Name); err != nil {
		return httpx.FromError(c, err)
	}
	cfg := h.registry.Config()
	return c.JSON(fiber.Map{
		"online":                true,
		"heartbeat_interval_ms": cfg.HeartbeatInterval.Milliseconds(),
		"liveness_window_ms":    cfg.LivenessWindow.Milliseconds(),
	})
}

// EndSession retires one session token, e.g. when a tab closes.
func (h *PresenceHandler) EndSession(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return httpx.BadRequest(c, "missing_session_token", "Session token is required")
	}
	h.registry.Leave(c.UserContext(), actor.ID, token)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PresenceHandler) GetActor(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("actor"))
	if id == "" {
		return httpx.BadRequest(c, "missing_actor", "Actor is required")
	}
	return c.JSON(fiber.Map{"actor_id": id, "online": h.registry.Query(id)})
}

// ListScope returns who is online in a scope across every instance sharing
// the presence mirror. Customers may ask about the staff scope and their own
// conversation only.
func (h *PresenceHandler) ListScope(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	scope := strings.TrimSpace(c.Query("scope", presence.StaffScope))
	if scope != presence.StaffScope && !actor.CanAccess(scope) {
		return httpx.Forbidden(c, "forbidden", "Insufficient permissions")
	}
	online := h.registry.Online(c.UserContext(), scope)
	if online == nil {
		online = []presence.Transition{}
	}
	return c.JSON(fiber.Map{"scope": scope, "online": online, "count": len(online)})
}
