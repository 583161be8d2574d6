package handlers

import (
	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/gofiber/fiber/v2"
)

type ActivityHandler struct {
	activity ActivityLog
}

func NewActivityHandler(activity ActivityLog) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

func (h *ActivityHandler) ListLogs(c *fiber.Ctx) error {
	entries, err := h.activity.ListRecent(c.UserContext(), queryLimit(c))
	if err != nil {
		return httpx.FromError(c, err)
	}
	if entries == nil {
		entries = []models.SystemLog{}
	}
	return c.JSON(fiber.Map{"logs": entries, "count": len(entries)})
}
