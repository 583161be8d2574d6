package repository

import (
	"context"
	"time"

	"github.com/dakael7/gravitylabs/internal/models"
)

// MessageRepositoryInterface defines the contract for message repository operations
type MessageRepositoryInterface interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uint) (*models.Message, error)
	FindByClientID(ctx context.Context, conversationKey, clientID string) (*models.Message, error)
	LatestCreatedAt(ctx context.Context, conversationKey string) (time.Time, error)
	FindSince(ctx context.Context, conversationKey string, cursor Cursor, limit int) ([]models.Message, error)
	MarkAsRead(ctx context.Context, messageID uint) (*models.Message, bool, error)
	MarkConversationAsRead(ctx context.Context, conversationKey string, authorKind models.SenderKind) ([]models.Message, error)
	ListLatestPerConversation(ctx context.Context, limit int) ([]ConversationRow, error)
}

// ReadCursorRepositoryInterface defines the contract for read cursor operations
type ReadCursorRepositoryInterface interface {
	UpsertMonotonic(ctx context.Context, conversationKey string, reader models.SenderKind, lastReadMessageID uint) error
	Get(ctx context.Context, conversationKey string, reader models.SenderKind) (*models.ReadCursor, error)
}

// ProjectRequestRepositoryInterface defines the contract for project request operations
type ProjectRequestRepositoryInterface interface {
	Create(ctx context.Context, req *models.ProjectRequest) error
	FindByID(ctx context.Context, id uint) (*models.ProjectRequest, error)
	UpdateStatus(ctx context.Context, id uint, from, to models.ProjectStatus) (*models.ProjectRequest, error)
	List(ctx context.Context, conversationKey string, limit int) ([]models.ProjectRequest, error)
}

// SystemLogRepositoryInterface defines the contract for activity log operations
type SystemLogRepositoryInterface interface {
	Create(ctx context.Context, entry *models.SystemLog) error
	ListRecent(ctx context.Context, limit int) ([]models.SystemLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
