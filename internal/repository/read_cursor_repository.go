package repository

import (
	"context"
	"errors"

	"github.com/dakael7/gravitylabs/internal/models"
	"gorm.io/gorm"
)

type ReadCursorRepository struct {
	db *gorm.DB
}

func NewReadCursorRepository(db *gorm.DB) *ReadCursorRepository {
	return &ReadCursorRepository{db: db}
}

// UpsertMonotonic never moves a cursor backwards.
func (r *ReadCursorRepository) UpsertMonotonic(ctx context.Context, conversationKey string, reader models.SenderKind, lastReadMessageID uint) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO read_cursors (conversation_key, reader_kind, last_read_message_id, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
		ON CONFLICT (conversation_key, reader_kind) DO UPDATE
		SET last_read_message_id = GREATEST(read_cursors.last_read_message_id, EXCLUDED.last_read_message_id),
			updated_at = NOW()
	`, conversationKey, reader, lastReadMessageID).Error
}

// Get returns a zero cursor when the side has never read anything.
func (r *ReadCursorRepository) Get(ctx context.Context, conversationKey string, reader models.SenderKind) (*models.ReadCursor, error) {
	var cursor models.ReadCursor
	err := r.db.WithContext(ctx).
		Where("conversation_key = ? AND reader_kind = ?", conversationKey, reader).
		First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.ReadCursor{ConversationKey: conversationKey, ReaderKind: reader}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}
