package handlers

import (
	"context"
	"io"

	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/dakael7/gravitylabs/internal/repository"
	"github.com/dakael7/gravitylabs/internal/service"
)

// MessageStore is satisfied by *service.MessageService.
type MessageStore interface {
	Append(ctx context.Context, in service.AppendInput) (*models.Message, error)
	Get(ctx context.Context, id uint) (*models.Message, error)
	ListSince(ctx context.Context, conversationKey string, cursor repository.Cursor, limit int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationKey string, reader models.SenderKind) (int, error)
	MarkMessageRead(ctx context.Context, id uint, reader models.SenderKind) (*models.Message, error)
	ListLatestPerConversation(ctx context.Context, limit int) ([]repository.ConversationRow, error)
}

// AttachmentUploader is satisfied by *service.AttachmentService.
type AttachmentUploader interface {
	Upload(ctx context.Context, in service.UploadInput, r io.Reader) (*models.Message, error)
}

// PresenceTracker is satisfied by *presence.Registry.
type PresenceTracker interface {
	Heartbeat(ctx context.Context, actorID, sessionToken, scope, displayName string) error
	Leave(ctx context.Context, actorID, sessionToken string)
	Query(actorID string) bool
	Online(ctx context.Context, scope string) []presence.Transition
	Config() presence.Config
}

// ProjectStore is satisfied by *service.ProjectService.
type ProjectStore interface {
	Create(ctx context.Context, in service.ProjectInput) (*models.ProjectRequest, error)
	UpdateStatus(ctx context.Context, id uint, to models.ProjectStatus, actorName string) (*models.ProjectRequest, error)
	List(ctx context.Context, conversationKey string, limit int) ([]models.ProjectRequest, error)
}

// ActivityLog is satisfied by *service.ActivityService.
type ActivityLog interface {
	ListRecent(ctx context.Context, limit int) ([]models.SystemLog, error)
}
