package handlers

import (
	"strconv"

	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/service"
	"github.com/gofiber/fiber/v2"
)

type ProjectHandler struct {
	projects ProjectStore
}

func NewProjectHandler(projects ProjectStore) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// Create files a project request. Customers always file for their own
// conversation; staff may file on a customer's behalf.
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	var input service.ProjectInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	if !actor.Role.IsStaff() {
		input.ConversationKey = actor.ConversationKey()
		if input.CustomerName == "" {
			input.CustomerName = actor.Name
		}
	}

	req, err := h.projects.Create(c.UserContext(), input)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

func (h *ProjectHandler) List(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	key := c.Query("conversation_key")
	if !actor.Role.IsStaff() {
		key = actor.ConversationKey()
	}
	reqs, err := h.projects.List(c.UserContext(), key, queryLimit(c))
	if err != nil {
		return httpx.FromError(c, err)
	}
	if reqs == nil {
		reqs = []models.ProjectRequest{}
	}
	return c.JSON(fiber.Map{"projects": reqs, "count": len(reqs)})
}

type statusInput struct {
	Status models.ProjectStatus `json:"status"`
}

func (h *ProjectHandler) UpdateStatus(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return httpx.BadRequest(c, "invalid_project_id", "Invalid project id")
	}
	var input statusInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	name := actor.Name
	if name == "" {
		name = actor.ID
	}
	req, err := h.projects.UpdateStatus(c.UserContext(), uint(id), input.Status, name)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(req)
}
