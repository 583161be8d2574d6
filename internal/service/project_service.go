package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/repository"
	"github.com/dakael7/gravitylabs/internal/validation"
)

const (
	maxProjectNameLength  = 200
	maxProjectDescription = 4000
	maxPackageLength      = 64
)

// ActivityRecorder is satisfied by *ActivityService.
type ActivityRecorder interface {
	Record(ctx context.Context, level models.LogLevel, author, text string, meta map[string]interface{}) (*models.SystemLog, error)
}

type ProjectService struct {
	projectRepo repository.ProjectRequestRepositoryInterface
	activity    ActivityRecorder
	publisher   SystemPublisher
}

func NewProjectService(projectRepo repository.ProjectRequestRepositoryInterface, activity ActivityRecorder, publisher SystemPublisher) *ProjectService {
	return &ProjectService{projectRepo: projectRepo, activity: activity, publisher: publisher}
}

type ProjectInput struct {
	ConversationKey string `json:"conversation_key"`
	CustomerName    string `json:"customer_name"`
	ProjectName     string `json:"project_name"`
	Description     string `json:"description"`
	Package         string `json:"package"`
	BriefURL        string `json:"brief_url"`
}

func (s *ProjectService) Create(ctx context.Context, in ProjectInput) (*models.ProjectRequest, error) {
	key := validation.NormalizeConversationKey(in.ConversationKey)
	if !validation.ValidateConversationKey(key) {
		return nil, apperr.Invalid("conversation_key", "must be a customer email")
	}
	name := strings.TrimSpace(in.ProjectName)
	if name == "" {
		return nil, apperr.Invalid("project_name", "required")
	}
	if len(name) > maxProjectNameLength {
		return nil, apperr.Invalid("project_name", "too long")
	}
	desc := strings.TrimSpace(in.Description)
	if len(desc) > maxProjectDescription {
		return nil, apperr.Invalid("description", "too long")
	}
	brief := strings.TrimSpace(in.BriefURL)
	if len(brief) > validation.MaxAttachmentURLLength {
		return nil, apperr.Invalid("brief_url", "too long")
	}

	req := &models.ProjectRequest{
		ConversationKey: key,
		CustomerName:    validation.NormalizeDisplayName(in.CustomerName),
		ProjectName:     name,
		Description:     desc,
		Package:         validation.TrimAndLimit(in.Package, maxPackageLength),
		BriefURL:        brief,
		Status:          models.ProjectInReview,
	}
	if err := s.projectRepo.Create(ctx, req); err != nil {
		return nil, apperr.StoreUnavailable("create project", err)
	}

	who := req.CustomerName
	if who == "" {
		who = key
	}
	s.record(ctx, models.LogInfo, who, fmt.Sprintf("new project request %q from %s", name, who), req)
	s.publish("project.created", req)
	return req, nil
}

// UpdateStatus moves a request along its workflow on behalf of a staff member.
func (s *ProjectService) UpdateStatus(ctx context.Context, id uint, to models.ProjectStatus, actorName string) (*models.ProjectRequest, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("status", "unknown status")
	}
	current, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, apperr.StoreUnavailable("update project", err)
	}
	if !current.Status.CanMoveTo(to) {
		return nil, fmt.Errorf("%s -> %s: %w", current.Status, to, apperr.ErrInvalidTransition)
	}

	updated, err := s.projectRepo.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidTransition) {
			return nil, fmt.Errorf("status changed concurrently: %w", err)
		}
		return nil, apperr.StoreUnavailable("update project", err)
	}

	s.record(ctx, models.LogInfo, actorName, fmt.Sprintf("project %q moved from %s to %s", updated.ProjectName, current.Status, to), updated)
	s.publish("project.status", updated)
	return updated, nil
}

func (s *ProjectService) List(ctx context.Context, conversationKey string, limit int) ([]models.ProjectRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	reqs, err := s.projectRepo.List(ctx, validation.NormalizeConversationKey(conversationKey), limit)
	if err != nil {
		return nil, apperr.StoreUnavailable("list projects", err)
	}
	return reqs, nil
}

func (s *ProjectService) record(ctx context.Context, level models.LogLevel, author, text string, req *models.ProjectRequest) {
	if s.activity == nil {
		return
	}
	_, err := s.activity.Record(ctx, level, author, text, map[string]interface{}{
		"project_id":       req.ID,
		"conversation_key": req.ConversationKey,
		"status":           string(req.Status),
	})
	if err != nil {
		log.Printf("[projects] record activity for project %d: %v", req.ID, err)
	}
}

func (s *ProjectService) publish(name string, req *models.ProjectRequest) {
	if s.publisher == nil {
		return
	}
	s.publisher.System(feed.SystemEvent{
		Name:            name,
		ConversationKey: req.ConversationKey,
		Text:            req.ProjectName,
		Data: map[string]interface{}{
			"id":     req.ID,
			"status": string(req.Status),
		},
	})
}
