package repository

import (
	"context"
	"errors"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProjectRequestRepository struct {
	db *gorm.DB
}

func NewProjectRequestRepository(db *gorm.DB) *ProjectRequestRepository {
	return &ProjectRequestRepository{db: db}
}

func (r *ProjectRequestRepository) Create(ctx context.Context, req *models.ProjectRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *ProjectRequestRepository) FindByID(ctx context.Context, id uint) (*models.ProjectRequest, error) {
	var req models.ProjectRequest
	err := r.db.WithContext(ctx).First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateStatus moves a request from one status to another. It reports
// apperr.ErrInvalidTransition when the row is no longer in status from.
func (r *ProjectRequestRepository) UpdateStatus(ctx context.Context, id uint, from, to models.ProjectStatus) (*models.ProjectRequest, error) {
	var updated []models.ProjectRequest
	res := r.db.WithContext(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if len(updated) == 0 {
		return nil, apperr.ErrInvalidTransition
	}
	return &updated[0], nil
}

// List returns requests newest first. An empty conversationKey lists all.
func (r *ProjectRequestRepository) List(ctx context.Context, conversationKey string, limit int) ([]models.ProjectRequest, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if conversationKey != "" {
		q = q.Where("conversation_key = ?", conversationKey)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var reqs []models.ProjectRequest
	err := q.Find(&reqs).Error
	return reqs, err
}
