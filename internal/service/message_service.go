package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/repository"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/google/uuid"
)

const (
	defaultTailLimit = 500
	maxTailLimit     = 1000
)

// MessagePublisher receives committed message changes. *feed.Feed implements it.
type MessagePublisher interface {
	Inserted(m models.Message)
	Updated(m models.Message)
}

// ConversationListCache is satisfied by *cache.ConversationListCache.
type ConversationListCache interface {
	Get(ctx context.Context) ([]repository.ConversationRow, bool)
	Set(ctx context.Context, rows []repository.ConversationRow) error
	Invalidate(ctx context.Context) error
}

// MessageService is the message store: it validates, orders and persists
// conversation messages and publishes every committed change.
type MessageService struct {
	messageRepo repository.MessageRepositoryInterface
	cursorRepo  repository.ReadCursorRepositoryInterface
	publisher   MessagePublisher
	listCache   ConversationListCache
	limits      validation.Limits
	locks       *keyedMutex
	now         func() time.Time
}

func NewMessageService(messageRepo repository.MessageRepositoryInterface, cursorRepo repository.ReadCursorRepositoryInterface, publisher MessagePublisher, limits validation.Limits) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		cursorRepo:  cursorRepo,
		publisher:   publisher,
		limits:      limits,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

func (s *MessageService) SetConversationCache(c ConversationListCache) {
	s.listCache = c
}

func (s *MessageService) Limits() validation.Limits { return s.limits }

type AppendInput struct {
	ConversationKey string            `json:"conversation_key"`
	SenderKind      models.SenderKind `json:"sender_kind"`
	SenderName      string            `json:"sender_name"`
	Body            string            `json:"body"`
	ClientID        string            `json:"client_id,omitempty"`
}

// Append stores a new message. Retrying with the same client id returns the
// stored row and publishes it again instead of creating a duplicate.
func (s *MessageService) Append(ctx context.Context, in AppendInput) (*models.Message, error) {
	key := validation.NormalizeConversationKey(in.ConversationKey)
	if !validation.ValidateConversationKey(key) {
		return nil, apperr.Invalid("conversation_key", "must be a customer email")
	}
	if !in.SenderKind.Valid() {
		return nil, apperr.Invalid("sender_kind", "must be customer or staff")
	}
	body, err := s.validateBody(in.Body)
	if err != nil {
		return nil, err
	}
	var clientID *string
	if in.ClientID != "" {
		id, err := uuid.Parse(in.ClientID)
		if err != nil {
			return nil, apperr.Invalid("client_id", "must be a UUID")
		}
		canonical := id.String()
		clientID = &canonical
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	if clientID != nil {
		existing, err := s.messageRepo.FindByClientID(ctx, key, *clientID)
		switch {
		case err == nil:
			s.publisher.Inserted(*existing)
			return existing, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, apperr.StoreUnavailable("append", err)
		}
	}

	latest, err := s.messageRepo.LatestCreatedAt(ctx, key)
	if err != nil {
		return nil, apperr.StoreUnavailable("append", err)
	}
	createdAt := s.now().UTC().Truncate(time.Microsecond)
	if createdAt.Before(latest) {
		createdAt = latest
	}

	message := &models.Message{
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
		ClientID:        clientID,
		ConversationKey: key,
		SenderKind:      in.SenderKind,
		SenderName:      validation.NormalizeDisplayName(in.SenderName),
		Body:            body,
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, apperr.StoreUnavailable("append", err)
	}

	s.publisher.Inserted(*message)
	s.invalidateList(ctx)
	return message, nil
}

func (s *MessageService) validateBody(raw string) (string, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return "", apperr.Invalid("body", "must not be empty")
	}

	parsed := models.ParseBody(body)
	switch parsed.Kind {
	case models.BodyImage, models.BodyFile:
		if len(parsed.URL) > validation.MaxAttachmentURLLength {
			return "", apperr.Invalid("body", "attachment url too long")
		}
		if len(parsed.Name) > validation.MaxFileNameLength {
			return "", apperr.Invalid("body", "attachment name too long")
		}
		return body, nil
	}

	if max := s.limits.MaxMessageLength; max > 0 && len(body) > max {
		return "", apperr.Invalid("body", fmt.Sprintf("exceeds %d bytes", max))
	}
	return body, nil
}

// MarkConversationRead flips every unread message the other side wrote and
// returns how many changed. Calling it again returns 0.
func (s *MessageService) MarkConversationRead(ctx context.Context, conversationKey string, reader models.SenderKind) (int, error) {
	key := validation.NormalizeConversationKey(conversationKey)
	if !validation.ValidateConversationKey(key) {
		return 0, apperr.Invalid("conversation_key", "must be a customer email")
	}
	if !reader.Valid() {
		return 0, apperr.Invalid("reader", "must be customer or staff")
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	changed, err := s.messageRepo.MarkConversationAsRead(ctx, key, reader.Other())
	if err != nil {
		return 0, apperr.StoreUnavailable("mark conversation read", err)
	}
	if len(changed) == 0 {
		return 0, nil
	}

	var highest uint
	for _, m := range changed {
		s.publisher.Updated(m)
		if m.ID > highest {
			highest = m.ID
		}
	}
	s.advanceCursor(ctx, key, reader, highest)
	s.invalidateList(ctx)
	return len(changed), nil
}

// MarkMessageRead flips one message on behalf of reader. A message written
// by the reader's own side is returned unchanged. An unknown id reports
// apperr.ErrNotFound, which callers treat as a no-op.
func (s *MessageService) MarkMessageRead(ctx context.Context, messageID uint, reader models.SenderKind) (*models.Message, error) {
	if !reader.Valid() {
		return nil, apperr.Invalid("reader", "must be customer or staff")
	}
	message, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderKind == reader || message.IsRead {
		return message, nil
	}

	unlock := s.locks.Lock(message.ConversationKey)
	defer unlock()

	updated, changed, err := s.messageRepo.MarkAsRead(ctx, messageID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, apperr.StoreUnavailable("mark message read", err)
	}
	if changed {
		s.publisher.Updated(*updated)
		s.advanceCursor(ctx, updated.ConversationKey, reader, updated.ID)
		s.invalidateList(ctx)
	}
	return updated, nil
}

func (s *MessageService) Get(ctx context.Context, messageID uint) (*models.Message, error) {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, apperr.StoreUnavailable("get message", err)
	}
	return message, nil
}

// ListSince returns the conversation tail after the cursor in (created_at, id) order.
func (s *MessageService) ListSince(ctx context.Context, conversationKey string, cursor repository.Cursor, limit int) ([]models.Message, error) {
	key := validation.NormalizeConversationKey(conversationKey)
	if !validation.ValidateConversationKey(key) {
		return nil, apperr.Invalid("conversation_key", "must be a customer email")
	}
	if limit <= 0 {
		limit = defaultTailLimit
	}
	if limit > maxTailLimit {
		limit = maxTailLimit
	}
	messages, err := s.messageRepo.FindSince(ctx, key, cursor, limit)
	if err != nil {
		return nil, apperr.StoreUnavailable("list since", err)
	}
	return messages, nil
}

// ListLatestPerConversation backs the staff conversation list.
func (s *MessageService) ListLatestPerConversation(ctx context.Context, limit int) ([]repository.ConversationRow, error) {
	if s.listCache != nil && limit <= 0 {
		if rows, ok := s.listCache.Get(ctx); ok {
			return rows, nil
		}
	}
	rows, err := s.messageRepo.ListLatestPerConversation(ctx, limit)
	if err != nil {
		return nil, apperr.StoreUnavailable("list conversations", err)
	}
	if s.listCache != nil && limit <= 0 {
		if err := s.listCache.Set(ctx, rows); err != nil {
			log.Printf("[messages] cache conversation list: %v", err)
		}
	}
	return rows, nil
}

// ReadWatermark returns the highest message id reader has marked read in the conversation.
func (s *MessageService) ReadWatermark(ctx context.Context, conversationKey string, reader models.SenderKind) (uint, error) {
	cursor, err := s.cursorRepo.Get(ctx, validation.NormalizeConversationKey(conversationKey), reader)
	if err != nil {
		return 0, apperr.StoreUnavailable("read watermark", err)
	}
	return cursor.LastReadMessageID, nil
}

func (s *MessageService) advanceCursor(ctx context.Context, key string, reader models.SenderKind, id uint) {
	if s.cursorRepo == nil || id == 0 {
		return
	}
	if err := s.cursorRepo.UpsertMonotonic(ctx, key, reader, id); err != nil {
		log.Printf("[messages] advance read cursor key=%s reader=%s: %v", key, reader, err)
	}
}

func (s *MessageService) invalidateList(ctx context.Context) {
	if s.listCache == nil {
		return
	}
	if err := s.listCache.Invalidate(ctx); err != nil {
		log.Printf("[messages] invalidate conversation list: %v", err)
	}
}
