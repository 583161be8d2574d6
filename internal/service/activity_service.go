package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/repository"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

// SystemPublisher is the part of *feed.Feed that carries domain events.
type SystemPublisher interface {
	System(ev feed.SystemEvent)
}

// ActivityService keeps the staff-facing activity log. It is also a feed
// sink that records every incoming customer message.
type ActivityService struct {
	logRepo   repository.SystemLogRepositoryInterface
	publisher SystemPublisher
	incoming  chan models.Message
}

func NewActivityService(logRepo repository.SystemLogRepositoryInterface, publisher SystemPublisher) *ActivityService {
	return &ActivityService{
		logRepo:   logRepo,
		publisher: publisher,
		incoming:  make(chan models.Message, 256),
	}
}

func (s *ActivityService) Record(ctx context.Context, level models.LogLevel, author, text string, meta map[string]interface{}) (*models.SystemLog, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Invalid("text", "must not be empty")
	}
	switch level {
	case models.LogInfo, models.LogUser, models.LogError:
	case "":
		level = models.LogInfo
	default:
		return nil, apperr.Invalid("level", "must be INFO, USER or ERROR")
	}

	entry := &models.SystemLog{
		Level:    level,
		Author:   strings.TrimSpace(author),
		Text:     text,
		Metadata: meta,
	}
	if err := s.logRepo.Create(ctx, entry); err != nil {
		return nil, apperr.StoreUnavailable("record activity", err)
	}

	if s.publisher != nil {
		s.publisher.System(feed.SystemEvent{
			Name: "activity.logged",
			Text: entry.Text,
			Data: map[string]interface{}{
				"id":     entry.ID,
				"level":  string(entry.Level),
				"author": entry.Author,
			},
		})
	}
	return entry, nil
}

func (s *ActivityService) ListRecent(ctx context.Context, limit int) ([]models.SystemLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	entries, err := s.logRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, apperr.StoreUnavailable("list activity", err)
	}
	return entries, nil
}

// Deliver queues customer messages for logging. It never blocks the feed;
// when the queue is full the entry is dropped.
func (s *ActivityService) Deliver(ev feed.Event) {
	if ev.Kind != feed.KindInserted || ev.Message == nil || ev.Message.SenderKind != models.SenderCustomer {
		return
	}
	select {
	case s.incoming <- *ev.Message:
	default:
		log.Printf("[activity] queue full, dropping entry for message %d", ev.Message.ID)
	}
}

// Run drains the incoming queue until ctx is done.
func (s *ActivityService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.incoming:
			s.recordIncoming(ctx, m)
		}
	}
}

func (s *ActivityService) recordIncoming(ctx context.Context, m models.Message) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	who := m.SenderName
	if who == "" {
		who = m.ConversationKey
	}
	_, err := s.Record(ctx, models.LogUser, who, "incoming message from "+who, map[string]interface{}{
		"conversation_key": m.ConversationKey,
		"message_id":       m.ID,
	})
	if err != nil {
		log.Printf("[activity] record incoming message %d: %v", m.ID, err)
	}
}

// DeleteOlderThan is used by the retention job.
func (s *ActivityService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.logRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, apperr.StoreUnavailable("purge activity", err)
	}
	return n, nil
}
