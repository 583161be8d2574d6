package models

// ConversationSummary is one row of the staff conversation list.
type ConversationSummary struct {
	ConversationKey   string  `json:"conversation_key"`
	CustomerName      string  `json:"customer_name"`
	UnreadForStaff    int64   `json:"unread_for_staff"`
	UnreadForCustomer int64   `json:"unread_for_customer"`
	LastMessage       Message `json:"last_message"`

	// Ids behind the unread counts, ascending.
	UnreadIDsForStaff    []uint `json:"unread_ids_for_staff,omitempty"`
	UnreadIDsForCustomer []uint `json:"unread_ids_for_customer,omitempty"`
}

// UnreadFor returns the unread count as seen by reader.
func (c ConversationSummary) UnreadFor(reader SenderKind) int64 {
	if reader == SenderStaff {
		return c.UnreadForStaff
	}
	return c.UnreadForCustomer
}

// UnreadIDsFor returns the ids behind UnreadFor(reader). It is nil when the
// source only reported a count.
func (c ConversationSummary) UnreadIDsFor(reader SenderKind) []uint {
	if reader == SenderStaff {
		return c.UnreadIDsForStaff
	}
	return c.UnreadIDsForCustomer
}
