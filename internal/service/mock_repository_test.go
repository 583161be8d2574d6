package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/repository"
)

var errStoreDown = errors.New("connection refused")

func appendID(list string, id uint) string {
	if list != "" {
		list += ","
	}
	return list + strconv.FormatUint(uint64(id), 10)
}

// MockMessageRepository is an in-memory MessageRepositoryInterface.
type MockMessageRepository struct {
	mu       sync.Mutex
	messages map[uint]*models.Message
	nextID   uint
	failNext error
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		messages: make(map[uint]*models.Message),
		nextID:   1,
	}
}

func (m *MockMessageRepository) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *MockMessageRepository) Create(ctx context.Context, message *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	message.ID = m.nextID
	m.nextID++
	stored := *message
	m.messages[message.ID] = &stored
	return nil
}

func (m *MockMessageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		cp := *msg
		return &cp, nil
	}
	return nil, apperr.ErrNotFound
}

func (m *MockMessageRepository) FindByClientID(ctx context.Context, conversationKey, clientID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ConversationKey == conversationKey && msg.ClientRef() == clientID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *MockMessageRepository) LatestCreatedAt(ctx context.Context, conversationKey string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, msg := range m.messages {
		if msg.ConversationKey == conversationKey && msg.CreatedAt.After(latest) {
			latest = msg.CreatedAt
		}
	}
	return latest, nil
}

func (m *MockMessageRepository) sorted(conversationKey string) []models.Message {
	var out []models.Message
	for _, msg := range m.messages {
		if conversationKey == "" || msg.ConversationKey == conversationKey {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}

func (m *MockMessageRepository) FindSince(ctx context.Context, conversationKey string, cursor repository.Cursor, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(conversationKey)

	var anchor *models.Message
	if cursor.SinceID > 0 {
		if a, ok := m.messages[cursor.SinceID]; ok && a.ConversationKey == conversationKey {
			anchor = a
		}
	}

	var out []models.Message
	for i := range all {
		msg := all[i]
		switch {
		case anchor != nil && !anchor.Before(&msg):
			continue
		case anchor == nil && cursor.SinceID == 0 && cursor.SinceTime != nil && !msg.CreatedAt.After(*cursor.SinceTime):
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockMessageRepository) MarkAsRead(ctx context.Context, messageID uint) (*models.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, false, err
	}
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, false, apperr.ErrNotFound
	}
	if msg.IsRead {
		cp := *msg
		return &cp, false, nil
	}
	now := time.Now()
	msg.IsRead = true
	msg.ReadAt = &now
	cp := *msg
	return &cp, true, nil
}

func (m *MockMessageRepository) MarkConversationAsRead(ctx context.Context, conversationKey string, authorKind models.SenderKind) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	now := time.Now()
	var changed []models.Message
	for _, msg := range m.sorted(conversationKey) {
		stored := m.messages[msg.ID]
		if stored.SenderKind == authorKind && !stored.IsRead {
			stored.IsRead = true
			stored.ReadAt = &now
			changed = append(changed, *stored)
		}
	}
	return changed, nil
}

func (m *MockMessageRepository) ListLatestPerConversation(ctx context.Context, limit int) ([]repository.ConversationRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	rows := map[string]*repository.ConversationRow{}
	for _, msg := range m.sorted("") {
		row, ok := rows[msg.ConversationKey]
		if !ok {
			row = &repository.ConversationRow{ConversationKey: msg.ConversationKey}
			rows[msg.ConversationKey] = row
		}
		row.MessageID = msg.ID
		row.MessageBody = msg.Body
		row.MessageSenderKind = msg.SenderKind
		row.MessageCreatedAt = msg.CreatedAt
		row.MessageIsRead = msg.IsRead
		if msg.SenderKind == models.SenderCustomer {
			row.CustomerName = msg.SenderName
			if !msg.IsRead {
				row.UnreadForStaff++
				row.UnreadIDsForStaff = appendID(row.UnreadIDsForStaff, msg.ID)
			}
		} else if !msg.IsRead {
			row.UnreadForCustomer++
			row.UnreadIDsForCustomer = appendID(row.UnreadIDsForCustomer, msg.ID)
		}
	}
	out := make([]repository.ConversationRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MessageCreatedAt.Equal(out[j].MessageCreatedAt) {
			return out[i].MessageCreatedAt.After(out[j].MessageCreatedAt)
		}
		return out[i].MessageID > out[j].MessageID
	})
	return out, nil
}

type MockReadCursorRepository struct {
	mu      sync.Mutex
	cursors map[string]uint
}

func NewMockReadCursorRepository() *MockReadCursorRepository {
	return &MockReadCursorRepository{cursors: make(map[string]uint)}
}

func (m *MockReadCursorRepository) UpsertMonotonic(ctx context.Context, conversationKey string, reader models.SenderKind, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := conversationKey + "|" + string(reader)
	if id > m.cursors[k] {
		m.cursors[k] = id
	}
	return nil
}

func (m *MockReadCursorRepository) Get(ctx context.Context, conversationKey string, reader models.SenderKind) (*models.ReadCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.ReadCursor{
		ConversationKey:   conversationKey,
		ReaderKind:        reader,
		LastReadMessageID: m.cursors[conversationKey+"|"+string(reader)],
	}, nil
}

type MockSystemLogRepository struct {
	mu      sync.Mutex
	entries []models.SystemLog
	fail    bool
}

func (m *MockSystemLogRepository) Create(ctx context.Context, entry *models.SystemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MockSystemLogRepository) ListRecent(ctx context.Context, limit int) ([]models.SystemLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SystemLog
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MockSystemLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *MockSystemLogRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type MockProjectRequestRepository struct {
	mu       sync.Mutex
	requests map[uint]*models.ProjectRequest
	nextID   uint
}

func NewMockProjectRequestRepository() *MockProjectRequestRepository {
	return &MockProjectRequestRepository{requests: make(map[uint]*models.ProjectRequest), nextID: 1}
}

func (m *MockProjectRequestRepository) Create(ctx context.Context, req *models.ProjectRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = m.nextID
	m.nextID++
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MockProjectRequestRepository) FindByID(ctx context.Context, id uint) (*models.ProjectRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.requests[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, apperr.ErrNotFound
}

func (m *MockProjectRequestRepository) UpdateStatus(ctx context.Context, id uint, from, to models.ProjectStatus) (*models.ProjectRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != from {
		return nil, apperr.ErrInvalidTransition
	}
	r.Status = to
	cp := *r
	return &cp, nil
}

func (m *MockProjectRequestRepository) List(ctx context.Context, conversationKey string, limit int) ([]models.ProjectRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProjectRequest
	for _, r := range m.requests {
		if conversationKey == "" || r.ConversationKey == conversationKey {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recordingPublisher captures everything the services emit.
type recordingPublisher struct {
	mu       sync.Mutex
	inserted []models.Message
	updated  []models.Message
	system   []feed.SystemEvent
}

func (p *recordingPublisher) Inserted(m models.Message) {
	p.mu.Lock()
	p.inserted = append(p.inserted, m)
	p.mu.Unlock()
}

func (p *recordingPublisher) Updated(m models.Message) {
	p.mu.Lock()
	p.updated = append(p.updated, m)
	p.mu.Unlock()
}

func (p *recordingPublisher) System(ev feed.SystemEvent) {
	p.mu.Lock()
	p.system = append(p.system, ev)
	p.mu.Unlock()
}

type mockListCache struct {
	rows        []repository.ConversationRow
	cached      bool
	invalidated int
}

func (c *mockListCache) Get(ctx context.Context) ([]repository.ConversationRow, bool) {
	return c.rows, c.cached
}

func (c *mockListCache) Set(ctx context.Context, rows []repository.ConversationRow) error {
	c.rows, c.cached = rows, true
	return nil
}

func (c *mockListCache) Invalidate(ctx context.Context) error {
	c.rows, c.cached = nil, false
	c.invalidated++
	return nil
}
