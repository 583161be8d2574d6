package models

import (
	"time"
)

type ProjectStatus string

const (
	ProjectInReview   ProjectStatus = "in_review"
	ProjectApproved   ProjectStatus = "approved"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectDelivered  ProjectStatus = "delivered"
	ProjectRejected   ProjectStatus = "rejected"
)

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectInReview:   {ProjectApproved, ProjectRejected},
	ProjectApproved:   {ProjectInProgress, ProjectRejected},
	ProjectInProgress: {ProjectDelivered},
}

// CanMoveTo reports whether a request in status s may be moved to next.
func (s ProjectStatus) CanMoveTo(next ProjectStatus) bool {
	for _, allowed := range projectTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectInReview, ProjectApproved, ProjectInProgress, ProjectDelivered, ProjectRejected:
		return true
	}
	return false
}

// ProjectRequest is a customer's request for work, reviewed by staff.
type ProjectRequest struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ConversationKey string        `gorm:"type:varchar(320);not null;index" json:"conversation_key"`
	CustomerName    string        `gorm:"type:varchar(120)" json:"customer_name"`
	ProjectName     string        `gorm:"type:varchar(200);not null" json:"project_name"`
	Description     string        `gorm:"type:text" json:"description"`
	Package         string        `gorm:"type:varchar(64)" json:"package"`
	BriefURL        string        `gorm:"type:varchar(2048)" json:"brief_url,omitempty"`
	Status          ProjectStatus `gorm:"type:varchar(20);default:'in_review';index" json:"status"`
}
