package models

import (
	"time"
)

// SenderKind identifies which side of a support conversation authored a message.
type SenderKind string

const (
	SenderCustomer SenderKind = "customer"
	SenderStaff    SenderKind = "staff"
)

func (k SenderKind) Valid() bool {
	return k == SenderCustomer || k == SenderStaff
}

// Other returns the opposite side of the conversation.
func (k SenderKind) Other() SenderKind {
	if k == SenderStaff {
		return SenderCustomer
	}
	return SenderStaff
}

type Message struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"not null;index:idx_conv_order,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Optional client-generated UUID used to make retried appends idempotent.
	ClientID *string `gorm:"type:varchar(36);uniqueIndex:idx_conv_client" json:"client_id,omitempty"`

	ConversationKey string     `gorm:"type:varchar(320);not null;index:idx_conv_order,priority:1;uniqueIndex:idx_conv_client" json:"conversation_key"`
	SenderKind      SenderKind `gorm:"type:varchar(16);not null" json:"sender_kind"`
	SenderName      string     `gorm:"type:varchar(120)" json:"sender_name"`
	Body            string     `gorm:"type:text;not null" json:"body"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// Before reports whether m sorts before o in conversation order.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// ClientRef returns the client id or "" when none was supplied.
func (m *Message) ClientRef() string {
	if m.ClientID == nil {
		return ""
	}
	return *m.ClientID
}

type MessageResponse struct {
	ID              uint       `json:"id"`
	ClientID        string     `json:"client_id,omitempty"`
	ConversationKey string     `json:"conversation_key"`
	SenderKind      SenderKind `json:"sender_kind"`
	SenderName      string     `json:"sender_name"`
	Body            string     `json:"body"`
	Attachment      *Body      `json:"attachment,omitempty"`
	IsRead          bool       `json:"is_read"`
	ReadAt          *time.Time `json:"read_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (m *Message) ToResponse() MessageResponse {
	resp := MessageResponse{
		ID:              m.ID,
		ClientID:        m.ClientRef(),
		ConversationKey: m.ConversationKey,
		SenderKind:      m.SenderKind,
		SenderName:      m.SenderName,
		Body:            m.Body,
		IsRead:          m.IsRead,
		ReadAt:          m.ReadAt,
		CreatedAt:       m.CreatedAt,
	}
	if b := ParseBody(m.Body); b.Kind != BodyText {
		resp.Attachment = &b
	}
	return resp
}
