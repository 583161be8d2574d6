package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dakael7/gravitylabs/internal/models"
)

// ConversationRow is one entry of the staff conversation list: the latest
// message of a conversation plus unread counts for each side.
type ConversationRow struct {
	ConversationKey string `gorm:"column:conversation_key" msgpack:"k"`

	UnreadForStaff    int64 `gorm:"column:unread_for_staff" msgpack:"us"`
	UnreadForCustomer int64 `gorm:"column:unread_for_customer" msgpack:"uc"`

	// Comma separated ids behind the counts above, in no particular order.
	UnreadIDsForStaff    string `gorm:"column:unread_ids_for_staff" msgpack:"usi"`
	UnreadIDsForCustomer string `gorm:"column:unread_ids_for_customer" msgpack:"uci"`

	// Name the customer last wrote under.
	CustomerName string `gorm:"column:customer_name" msgpack:"cn"`

	MessageID         uint              `gorm:"column:message_id" msgpack:"id"`
	MessageSenderKind models.SenderKind `gorm:"column:message_sender_kind" msgpack:"sk"`
	MessageSenderName string            `gorm:"column:message_sender_name" msgpack:"sn"`
	MessageBody       string            `gorm:"column:message_body" msgpack:"b"`
	MessageIsRead     bool              `gorm:"column:message_is_read" msgpack:"r"`
	MessageCreatedAt  time.Time         `gorm:"column:message_created_at" msgpack:"t"`
}

// ListLatestPerConversation returns one row per conversation ordered by most
// recent activity. Ties on created_at resolve to the higher id.
func (r *MessageRepository) ListLatestPerConversation(ctx context.Context, limit int) ([]ConversationRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	query := strings.TrimSpace(`
WITH ranked AS (
	SELECT
		m.conversation_key,
		m.id AS message_id,
		m.sender_kind AS message_sender_kind,
		m.sender_name AS message_sender_name,
		m.body AS message_body,
		m.is_read AS message_is_read,
		m.created_at AS message_created_at,
		ROW_NUMBER() OVER (
			PARTITION BY m.conversation_key
			ORDER BY m.created_at DESC, m.id DESC
		) AS rn,
		SUM(CASE WHEN m.sender_kind = 'customer' AND m.is_read = false THEN 1 ELSE 0 END) OVER (
			PARTITION BY m.conversation_key
		) AS unread_for_staff,
		SUM(CASE WHEN m.sender_kind = 'staff' AND m.is_read = false THEN 1 ELSE 0 END) OVER (
			PARTITION BY m.conversation_key
		) AS unread_for_customer,
		STRING_AGG(CASE WHEN m.sender_kind = 'customer' AND m.is_read = false THEN m.id::text END, ',') OVER (
			PARTITION BY m.conversation_key
		) AS unread_ids_for_staff,
		STRING_AGG(CASE WHEN m.sender_kind = 'staff' AND m.is_read = false THEN m.id::text END, ',') OVER (
			PARTITION BY m.conversation_key
		) AS unread_ids_for_customer,
		FIRST_VALUE(CASE WHEN m.sender_kind = 'customer' THEN m.sender_name END) OVER (
			PARTITION BY m.conversation_key
			ORDER BY (m.sender_kind = 'customer') DESC, m.created_at DESC, m.id DESC
		) AS customer_name
	FROM messages m
)
SELECT
	t.conversation_key,
	t.unread_for_staff,
	t.unread_for_customer,
	COALESCE(t.unread_ids_for_staff, '') AS unread_ids_for_staff,
	COALESCE(t.unread_ids_for_customer, '') AS unread_ids_for_customer,
	COALESCE(t.customer_name, '') AS customer_name,
	t.message_id,
	t.message_sender_kind,
	t.message_sender_name,
	t.message_body,
	t.message_is_read,
	t.message_created_at
FROM ranked t
WHERE t.rn = 1
ORDER BY t.message_created_at DESC, t.message_id DESC
LIMIT ?
`)

	var rows []ConversationRow
	if err := r.db.WithContext(ctx).Raw(query, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (row ConversationRow) ToSummary() models.ConversationSummary {
	return models.ConversationSummary{
		ConversationKey:      row.ConversationKey,
		CustomerName:         row.CustomerName,
		UnreadForStaff:       row.UnreadForStaff,
		UnreadForCustomer:    row.UnreadForCustomer,
		UnreadIDsForStaff:    parseIDList(row.UnreadIDsForStaff),
		UnreadIDsForCustomer: parseIDList(row.UnreadIDsForCustomer),
		LastMessage: models.Message{
			ID:              row.MessageID,
			CreatedAt:       row.MessageCreatedAt,
			ConversationKey: row.ConversationKey,
			SenderKind:      row.MessageSenderKind,
			SenderName:      row.MessageSenderName,
			Body:            row.MessageBody,
			IsRead:          row.MessageIsRead,
		},
	}
}

func parseIDList(raw string) []uint {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, uint(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
