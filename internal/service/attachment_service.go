package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/storage"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/google/uuid"
)

var ErrStorageNotConfigured = errors.New("storage not configured")

// ObjectStore is satisfied by *storage.S3Storage.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectStat, error)
	DeleteObject(ctx context.Context, key string) error
}

// MessageAppender is satisfied by *MessageService.
type MessageAppender interface {
	Append(ctx context.Context, in AppendInput) (*models.Message, error)
}

type AttachmentService struct {
	store      ObjectStore
	messages   MessageAppender
	maxBytes   int64
	publicBase string
}

func NewAttachmentService(store ObjectStore, messages MessageAppender, maxBytes int64, publicBase string) *AttachmentService {
	return &AttachmentService{
		store:      store,
		messages:   messages,
		maxBytes:   maxBytes,
		publicBase: strings.TrimRight(strings.TrimSpace(publicBase), "/"),
	}
}

type UploadInput struct {
	ConversationKey string
	SenderKind      models.SenderKind
	SenderName      string
	FileName        string
	ClientID        string
}

// Upload stores the file and appends a message referencing it. If the
// append fails the object is removed again.
func (s *AttachmentService) Upload(ctx context.Context, in UploadInput, r io.Reader) (*models.Message, error) {
	if s.store == nil {
		return nil, ErrStorageNotConfigured
	}
	key := validation.NormalizeConversationKey(in.ConversationKey)
	if !validation.ValidateConversationKey(key) {
		return nil, apperr.Invalid("conversation_key", "must be a customer email")
	}

	processed, err := storage.ProcessAttachment(r, storage.DefaultAttachmentOptions(s.maxBytes))
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return nil, apperr.Invalid("file", "exceeds the attachment size limit")
	case errors.Is(err, storage.ErrEmpty), errors.Is(err, storage.ErrUnsupported), errors.Is(err, storage.ErrInvalidImage):
		return nil, apperr.Invalid("file", err.Error())
	case err != nil:
		return nil, err
	}

	objectKey := storage.AttachmentKey(key, uuid.NewString(), processed.Ext)
	if _, err := s.store.PutObject(ctx, objectKey, bytes.NewReader(processed.Data), processed.Size(), processed.ContentType); err != nil {
		return nil, apperr.StoreUnavailable("put attachment", err)
	}

	url := s.publicBase + "/api/media/" + objectKey
	body := models.ImageBody(url)
	if !processed.Image {
		name := validation.SafeFileName(in.FileName)
		if name == "" {
			name = "file" + processed.Ext
		}
		body = models.FileBody(name, url)
	}

	message, err := s.messages.Append(ctx, AppendInput{
		ConversationKey: key,
		SenderKind:      in.SenderKind,
		SenderName:      in.SenderName,
		Body:            body,
		ClientID:        in.ClientID,
	})
	if err != nil {
		if derr := s.store.DeleteObject(ctx, objectKey); derr != nil {
			log.Printf("[attachments] remove orphan %s: %v", objectKey, derr)
		}
		return nil, err
	}
	return message, nil
}
