package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/models"
)

type fakeMarker struct {
	mu        sync.Mutex
	bulkCalls []string
	ids       []uint
	failBulk  int
	failIDs   int
	notFound  map[uint]bool
}

func (f *fakeMarker) MarkConversationRead(ctx context.Context, key string, reader models.SenderKind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, key)
	if f.failBulk > 0 {
		f.failBulk--
		return 0, apperr.StoreUnavailable("mark", errors.New("timeout"))
	}
	return 1, nil
}

func (f *fakeMarker) MarkMessageRead(ctx context.Context, id uint, reader models.SenderKind) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	if f.notFound[id] {
		return nil, apperr.ErrNotFound
	}
	if f.failIDs > 0 {
		f.failIDs--
		return nil, apperr.StoreUnavailable("mark", errors.New("timeout"))
	}
	return &models.Message{ID: id, IsRead: true}, nil
}

const key = "ana@example.com"

func customerMsg(id uint) models.Message {
	return models.Message{ID: id, ConversationKey: key, SenderKind: models.SenderCustomer}
}

func TestOpenMarksConversation(t *testing.T) {
	m := &fakeMarker{}
	r := New(m, models.SenderStaff)
	r.Open(context.Background(), key)

	if len(m.bulkCalls) != 1 || m.bulkCalls[0] != key {
		t.Errorf("bulk calls = %v", m.bulkCalls)
	}
	if !r.IsOpen(key) {
		t.Errorf("IsOpen = false after Open")
	}
}

func TestObserveOnlyMarksOtherSideInOpenConversation(t *testing.T) {
	m := &fakeMarker{}
	r := New(m, models.SenderStaff)
	ctx := context.Background()

	r.Observe(ctx, customerMsg(1))
	if len(m.ids) != 0 {
		t.Fatalf("marked a message in a closed conversation")
	}

	r.Open(ctx, key)
	r.Observe(ctx, customerMsg(2))
	r.Observe(ctx, models.Message{ID: 3, ConversationKey: key, SenderKind: models.SenderStaff})
	r.Observe(ctx, models.Message{ID: 4, ConversationKey: key, SenderKind: models.SenderCustomer, IsRead: true})

	if len(m.ids) != 1 || m.ids[0] != 2 {
		t.Errorf("single marks = %v, want [2]", m.ids)
	}
	if r.Watermark(key) != 4 {
		t.Errorf("Watermark = %d, want 4", r.Watermark(key))
	}

	r.Close(key)
	r.Observe(ctx, customerMsg(5))
	if len(m.ids) != 1 {
		t.Errorf("marked after Close: %v", m.ids)
	}
}

func TestFailedMarksRetryOnTouch(t *testing.T) {
	m := &fakeMarker{failBulk: 1, failIDs: 1}
	r := New(m, models.SenderCustomer)
	ctx := context.Background()

	r.Open(ctx, key)
	if r.Pending() != 1 {
		t.Fatalf("Pending after failed open = %d, want 1", r.Pending())
	}

	r.Observe(ctx, models.Message{ID: 7, ConversationKey: key, SenderKind: models.SenderStaff})
	if r.Pending() != 2 {
		t.Fatalf("Pending after failed observe = %d, want 2", r.Pending())
	}

	r.Touch(ctx)
	if r.Pending() != 0 {
		t.Errorf("Pending after Touch = %d, want 0", r.Pending())
	}
	if len(m.bulkCalls) != 2 {
		t.Errorf("bulk calls = %d, want 2", len(m.bulkCalls))
	}
}

func TestNotFoundIsNoOp(t *testing.T) {
	m := &fakeMarker{notFound: map[uint]bool{9: true}}
	r := New(m, models.SenderStaff)
	ctx := context.Background()
	r.Open(ctx, key)
	r.Observe(ctx, customerMsg(9))
	if r.Pending() != 0 {
		t.Errorf("NotFound should not be retried, Pending = %d", r.Pending())
	}
}

func TestWatermarkIsMonotonic(t *testing.T) {
	r := New(&fakeMarker{}, models.SenderStaff)
	read := func(id uint) models.Message {
		m := customerMsg(id)
		m.IsRead = true
		return m
	}
	r.ObserveRead(read(10))
	r.ObserveRead(read(4))
	if r.Watermark(key) != 10 {
		t.Errorf("Watermark = %d, want 10", r.Watermark(key))
	}
}
