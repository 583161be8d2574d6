package models

import (
	"time"

	"gorm.io/datatypes"
)

type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogUser  LogLevel = "USER"
	LogError LogLevel = "ERROR"
)

// SystemLog is one row of the staff-facing activity log.
type SystemLog struct {
	ID        uint              `gorm:"primarykey" json:"id"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
	Level     LogLevel          `gorm:"type:varchar(8);not null;default:'INFO'" json:"level"`
	Author    string            `gorm:"type:varchar(120)" json:"author"`
	Text      string            `gorm:"type:text;not null" json:"text"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
}
