package agent

import (
	"testing"
	"time"

	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/router"
)

func TestListViewUnreadAccounting(t *testing.T) {
	l := NewListView(models.SenderStaff)
	l.Load([]models.ConversationSummary{{
		ConversationKey: convKey,
		UnreadForStaff:  2,
		LastMessage:     msg(2, time.Second, models.SenderCustomer, "b"),
	}})

	fresh := msg(3, 2*time.Second, models.SenderCustomer, "c")
	l.Apply(inserted(fresh))
	l.Apply(inserted(fresh))
	if got := l.Unread(convKey); got != 3 {
		t.Fatalf("Unread after insert = %d, want 3", got)
	}

	for _, id := range []uint{1, 2, 3} {
		m := msg(id, time.Duration(id-1)*time.Second, models.SenderCustomer, "")
		m.IsRead = true
		l.Apply(updated(m))
		l.Apply(updated(m))
	}
	if got := l.Unread(convKey); got != 0 {
		t.Errorf("Unread after reads = %d, want 0", got)
	}

	own := msg(4, 3*time.Second, models.SenderStaff, "reply")
	l.Apply(inserted(own))
	if got := l.Unread(convKey); got != 0 {
		t.Errorf("own message counted as unread")
	}
	if s := l.Summaries(); s[0].LastMessage.ID != 4 {
		t.Errorf("last message = %d, want 4", s[0].LastMessage.ID)
	}
}

func TestListViewOrdersByActivity(t *testing.T) {
	l := NewListView(models.SenderStaff)
	older := msg(1, 0, models.SenderCustomer, "x")
	newer := msg(2, time.Minute, models.SenderCustomer, "y")
	newer.ConversationKey = "b@x.com"

	l.Apply(inserted(older))
	l.Apply(inserted(newer))

	s := l.Summaries()
	if len(s) != 2 || s[0].ConversationKey != "b@x.com" {
		t.Errorf("summaries = %+v", s)
	}
	if !l.Apply(router.Envelope{Type: router.TypeResync}) {
		t.Errorf("resync envelope should request reload")
	}
}

func TestListViewIgnoresStaleReadAfterLoad(t *testing.T) {
	tests := []struct {
		name      string
		unreadIDs []uint
		count     int64
		want      int64
	}{
		// Message 1 was read before the snapshot; only 2 is unread.
		{name: "snapshot lists unread ids", unreadIDs: []uint{2}, count: 1, want: 1},
		{name: "snapshot with nothing unread", count: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewListView(models.SenderStaff)
			l.Load([]models.ConversationSummary{{
				ConversationKey:   convKey,
				UnreadForStaff:    tt.count,
				UnreadIDsForStaff: tt.unreadIDs,
				LastMessage:       msg(2, time.Second, models.SenderCustomer, "b"),
			}})

			stale := msg(1, 0, models.SenderCustomer, "a")
			stale.IsRead = true
			l.Apply(updated(stale))
			l.Apply(inserted(msg(1, 0, models.SenderCustomer, "a")))

			if got := l.Unread(convKey); got != tt.want {
				t.Errorf("Unread = %d, want %d", got, tt.want)
			}
		})
	}

	l := NewListView(models.SenderStaff)
	l.Load([]models.ConversationSummary{{
		ConversationKey:   convKey,
		UnreadForStaff:    1,
		UnreadIDsForStaff: []uint{2},
		LastMessage:       msg(2, time.Second, models.SenderCustomer, "b"),
	}})
	read := msg(2, time.Second, models.SenderCustomer, "b")
	read.IsRead = true
	l.Apply(updated(read))
	if got := l.Unread(convKey); got != 0 {
		t.Errorf("Unread after reading the listed id = %d, want 0", got)
	}
}
