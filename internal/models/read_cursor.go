package models

import (
	"time"
)

// ReadCursor tracks how far one side of a conversation has read.
// last_read_message_id is monotonic and represents the highest message ID that side has read.
type ReadCursor struct {
	ConversationKey   string     `gorm:"primaryKey;type:varchar(320)" json:"conversation_key"`
	ReaderKind        SenderKind `gorm:"primaryKey;type:varchar(16)" json:"reader_kind"`
	LastReadMessageID uint       `gorm:"not null;default:0" json:"last_read_message_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
