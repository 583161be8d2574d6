package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/router"
)

// ListSource fetches the conversation list snapshot. *client.API implements it.
type ListSource interface {
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
}

type listEntry struct {
	summary models.ConversationSummary
	// unread carried by a count-only snapshot, decremented as read updates
	// arrive. Zero when the snapshot listed its unread ids.
	base int64
	// exact is set when unread holds every unread id up to snapshotN, so a
	// read update for an id outside it is stale.
	exact     bool
	snapshotN uint
	unread    map[uint]struct{}
	seenRead  map[uint]struct{}
}

// ListView keeps the staff sidebar current from an All subscription.
type ListView struct {
	self models.SenderKind

	mu      sync.Mutex
	entries map[string]*listEntry
}

func NewListView(self models.SenderKind) *ListView {
	return &ListView{self: self, entries: make(map[string]*listEntry)}
}

// Load replaces the view with a fresh snapshot. Rows that list their unread
// ids are tracked exactly; rows with only a count fall back to decrementing
// it as read updates arrive.
func (l *ListView) Load(rows []models.ConversationSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*listEntry, len(rows))
	for _, row := range rows {
		e := &listEntry{
			summary:   row,
			snapshotN: row.LastMessage.ID,
			unread:    make(map[uint]struct{}),
			seenRead:  make(map[uint]struct{}),
		}
		ids := row.UnreadIDsFor(l.self)
		switch {
		case len(ids) > 0:
			for _, id := range ids {
				e.unread[id] = struct{}{}
			}
			e.exact = true
		case row.UnreadFor(l.self) == 0:
			e.exact = true
		default:
			e.base = row.UnreadFor(l.self)
		}
		l.entries[row.ConversationKey] = e
	}
}

// Reload fetches and loads a snapshot.
func (l *ListView) Reload(ctx context.Context, src ListSource) error {
	rows, err := src.Conversations(ctx)
	if err != nil {
		return err
	}
	l.Load(rows)
	return nil
}

// Apply merges one envelope and reports whether a reload is required.
func (l *ListView) Apply(env router.Envelope) bool {
	if env.Type == router.TypeResync {
		return true
	}
	if env.Message == nil || (env.Type != router.TypeInserted && env.Type != router.TypeUpdated) {
		return false
	}
	m := *env.Message

	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[m.ConversationKey]
	if !ok {
		e = &listEntry{
			summary:  models.ConversationSummary{ConversationKey: m.ConversationKey},
			unread:   make(map[uint]struct{}),
			seenRead: make(map[uint]struct{}),
		}
		l.entries[m.ConversationKey] = e
	}

	last := &e.summary.LastMessage
	if last.ID == 0 || last.Before(&m) || last.ID == m.ID {
		if last.ID == m.ID && last.IsRead && !m.IsRead {
			m.IsRead = true
		}
		*last = m
	}
	if m.SenderKind == models.SenderCustomer && m.SenderName != "" {
		e.summary.CustomerName = m.SenderName
	}

	if m.SenderKind == l.self {
		return false
	}
	switch {
	case !m.IsRead:
		if _, read := e.seenRead[m.ID]; !read && m.ID > e.snapshotN {
			e.unread[m.ID] = struct{}{}
		}
	default:
		if _, dup := e.seenRead[m.ID]; dup {
			return false
		}
		e.seenRead[m.ID] = struct{}{}
		if _, ok := e.unread[m.ID]; ok {
			delete(e.unread, m.ID)
		} else if !e.exact && m.ID <= e.snapshotN && e.base > 0 {
			e.base--
		}
	}
	return false
}

// Summaries returns the list ordered by latest activity.
func (l *ListView) Summaries() []models.ConversationSummary {
	l.mu.Lock()
	out := make([]models.ConversationSummary, 0, len(l.entries))
	for _, e := range l.entries {
		s := e.summary
		s.UnreadIDsForStaff, s.UnreadIDsForCustomer = nil, nil
		unread := e.base + int64(len(e.unread))
		if l.self == models.SenderStaff {
			s.UnreadForStaff = unread
		} else {
			s.UnreadForCustomer = unread
		}
		out = append(out, s)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[j].LastMessage.Before(&out[i].LastMessage)
	})
	return out
}

// Unread returns the unread count for one conversation.
func (l *ListView) Unread(conversationKey string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[conversationKey]
	if !ok {
		return 0
	}
	return e.base + int64(len(e.unread))
}
