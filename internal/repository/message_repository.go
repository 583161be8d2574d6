package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cursor positions a tail read. A zero Cursor reads from the start of the
// conversation. When both fields are set, SinceID wins.
type Cursor struct {
	SinceID   uint
	SinceTime *time.Time
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).First(&message, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) FindByClientID(ctx context.Context, conversationKey, clientID string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_key = ? AND client_id = ?", conversationKey, clientID).
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// LatestCreatedAt returns the created_at of the newest message in the
// conversation, or the zero time when it is empty.
func (r *MessageRepository) LatestCreatedAt(ctx context.Context, conversationKey string) (time.Time, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Select("created_at").
		Where("conversation_key = ?", conversationKey).
		Order("created_at DESC, id DESC").
		Limit(1).
		Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	return message.CreatedAt, err
}

// FindSince returns the conversation tail after the cursor in (created_at, id) order.
func (r *MessageRepository) FindSince(ctx context.Context, conversationKey string, cursor Cursor, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Where("conversation_key = ?", conversationKey)

	switch {
	case cursor.SinceID > 0:
		// An id that does not belong to this conversation reads it from the start.
		q = q.Where(`(created_at, id) > (
			COALESCE((SELECT created_at FROM messages WHERE id = ? AND conversation_key = ?), '-infinity'::timestamptz),
			?
		)`, cursor.SinceID, conversationKey, cursor.SinceID)
	case cursor.SinceTime != nil:
		q = q.Where("created_at > ?", *cursor.SinceTime)
	}

	if limit > 0 {
		q = q.Limit(limit)
	}

	var messages []models.Message
	err := q.Order("created_at ASC, id ASC").Find(&messages).Error
	return messages, err
}

// MarkAsRead flips a single message to read. changed is false when the
// message was already read; the current row is returned either way.
func (r *MessageRepository) MarkAsRead(ctx context.Context, messageID uint) (*models.Message, bool, error) {
	var updated []models.Message
	res := r.db.WithContext(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("id = ? AND is_read = ?", messageID, false).
		Updates(map[string]interface{}{
			"is_read":    true,
			"read_at":    gorm.Expr("NOW()"),
			"updated_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if len(updated) == 1 {
		return &updated[0], true, nil
	}

	current, err := r.FindByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkConversationAsRead flips every unread message authored by authorKind in
// the conversation and returns the rows that changed, in conversation order.
func (r *MessageRepository) MarkConversationAsRead(ctx context.Context, conversationKey string, authorKind models.SenderKind) ([]models.Message, error) {
	var updated []models.Message
	err := r.db.WithContext(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("conversation_key = ? AND sender_kind = ? AND is_read = ?", conversationKey, authorKind, false).
		Updates(map[string]interface{}{
			"is_read":    true,
			"read_at":    gorm.Expr("NOW()"),
			"updated_at": gorm.Expr("NOW()"),
		}).Error
	if err != nil {
		return nil, err
	}
	sortMessages(updated)
	return updated, nil
}

// RETURNING does not guarantee row order.
func sortMessages(messages []models.Message) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Before(&messages[j])
	})
}
