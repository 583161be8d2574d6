package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/repository"
	"github.com/dakael7/gravitylabs/internal/service"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/gofiber/fiber/v2"
)

type ConversationHandler struct {
	messages    MessageStore
	attachments AttachmentUploader
}

func NewConversationHandler(messages MessageStore, attachments AttachmentUploader) *ConversationHandler {
	return &ConversationHandler{messages: messages, attachments: attachments}
}

type sendMessageInput struct {
	Body     string `json:"body"`
	ClientID string `json:"client_id"`
}

// conversationActor resolves the caller and checks access to :key. When ok
// is false the response has been written and err must be returned as is.
func conversationActor(c *fiber.Ctx) (actor middleware.Actor, key string, ok bool, err error) {
	actor, err = middleware.ActorFrom(c)
	if err != nil {
		return actor, "", false, httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	key = validation.NormalizeConversationKey(c.Params("key"))
	if !validation.ValidateConversationKey(key) {
		return actor, "", false, httpx.BadRequest(c, "invalid_conversation_key", "Conversation key must be an email address")
	}
	if !actor.CanAccess(key) {
		return actor, "", false, httpx.Forbidden(c, "forbidden", "Not your conversation")
	}
	return actor, key, true, nil
}

func (h *ConversationHandler) SendMessage(c *fiber.Ctx) error {
	actor, key, ok, err := conversationActor(c)
	if !ok {
		return err
	}

	var input sendMessageInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	message, err := h.messages.Append(c.UserContext(), service.AppendInput{
		ConversationKey: key,
		SenderKind:      actor.Role.SenderKind(),
		SenderName:      actor.Name,
		Body:            input.Body,
		ClientID:        input.ClientID,
	})
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(message.ToResponse())
}

// GetMessages returns the tail after since_id, or after since (RFC 3339)
// when no id is given.
func (h *ConversationHandler) GetMessages(c *fiber.Ctx) error {
	_, key, ok, err := conversationActor(c)
	if !ok {
		return err
	}

	var cursor repository.Cursor
	if v := c.Query("since_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return httpx.BadRequest(c, "invalid_since_id", "Invalid since_id")
		}
		cursor.SinceID = uint(id)
	} else if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return httpx.BadRequest(c, "invalid_since", "since must be RFC 3339")
		}
		cursor.SinceTime = &t
	}

	messages, err := h.messages.ListSince(c.UserContext(), key, cursor, queryLimit(c))
	if err != nil {
		return httpx.FromError(c, err)
	}

	responses := make([]models.MessageResponse, len(messages))
	for i := range messages {
		responses[i] = messages[i].ToResponse()
	}
	result := fiber.Map{
		"messages": responses,
		"count":    len(messages),
	}
	if len(messages) > 0 {
		result["next_since_id"] = messages[len(messages)-1].ID
	}
	return c.JSON(result)
}

func (h *ConversationHandler) MarkConversationRead(c *fiber.Ctx) error {
	actor, key, ok, err := conversationActor(c)
	if !ok {
		return err
	}
	changed, err := h.messages.MarkConversationRead(c.UserContext(), key, actor.Role.SenderKind())
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(fiber.Map{"conversation_key": key, "changed": changed})
}

// MarkMessageRead is a no-op for unknown ids so stale clients do not error.
func (h *ConversationHandler) MarkMessageRead(c *fiber.Ctx) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return httpx.BadRequest(c, "invalid_message_id", "Invalid message id")
	}

	message, err := h.messages.Get(c.UserContext(), uint(id))
	if err != nil {
		if isNotFound(err) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return httpx.FromError(c, err)
	}
	if !actor.CanAccess(message.ConversationKey) {
		return c.SendStatus(fiber.StatusNoContent)
	}

	updated, err := h.messages.MarkMessageRead(c.UserContext(), uint(id), actor.Role.SenderKind())
	if err != nil {
		if isNotFound(err) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return httpx.FromError(c, err)
	}
	return c.JSON(updated.ToResponse())
}

// ListConversations backs the staff conversation list.
func (h *ConversationHandler) ListConversations(c *fiber.Ctx) error {
	rows, err := h.messages.ListLatestPerConversation(c.UserContext(), queryLimit(c))
	if err != nil {
		return httpx.FromError(c, err)
	}
	summaries := make([]models.ConversationSummary, len(rows))
	for i, row := range rows {
		summaries[i] = row.ToSummary()
	}
	return c.JSON(fiber.Map{"conversations": summaries, "count": len(summaries)})
}

func (h *ConversationHandler) UploadAttachment(c *fiber.Ctx) error {
	actor, key, ok, err := conversationActor(c)
	if !ok {
		return err
	}
	if h.attachments == nil {
		return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_not_configured", "Storage not configured")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httpx.BadRequest(c, "missing_file", "Missing file")
	}
	f, err := fh.Open()
	if err != nil {
		return httpx.BadRequest(c, "invalid_file", "Invalid file")
	}
	defer f.Close()

	message, err := h.attachments.Upload(c.UserContext(), service.UploadInput{
		ConversationKey: key,
		SenderKind:      actor.Role.SenderKind(),
		SenderName:      actor.Name,
		FileName:        fh.Filename,
		ClientID:        c.FormValue("client_id"),
	}, f)
	if err != nil {
		if errors.Is(err, service.ErrStorageNotConfigured) {
			return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_not_configured", "Storage not configured")
		}
		return httpx.FromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(message.ToResponse())
}
