// Package readstate turns "the viewer saw it" into read transitions in the
// store. It is used by websocket sessions on the server and by the Go client.
package readstate

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/metrics"
	"github.com/dakael7/gravitylabs/internal/models"
)

// Marker performs read transitions. *service.MessageService and
// *client.API implement it.
type Marker interface {
	MarkConversationRead(ctx context.Context, conversationKey string, reader models.SenderKind) (int, error)
	MarkMessageRead(ctx context.Context, messageID uint, reader models.SenderKind) (*models.Message, error)
}

// Reconciler tracks the conversations one viewer has open. Failed marks are
// remembered and retried on the viewer's next interaction; they are never
// surfaced to the viewer.
type Reconciler struct {
	marker Marker
	reader models.SenderKind

	mu          sync.Mutex
	open        map[string]bool
	pendingBulk map[string]bool
	pendingIDs  map[uint]string
	watermark   map[string]uint
}

func New(marker Marker, reader models.SenderKind) *Reconciler {
	return &Reconciler{
		marker:      marker,
		reader:      reader,
		open:        make(map[string]bool),
		pendingBulk: make(map[string]bool),
		pendingIDs:  make(map[uint]string),
		watermark:   make(map[string]uint),
	}
}

func (r *Reconciler) Reader() models.SenderKind { return r.reader }

// Open marks the conversation as visible and flips everything the other side
// wrote.
func (r *Reconciler) Open(ctx context.Context, conversationKey string) {
	r.mu.Lock()
	r.open[conversationKey] = true
	r.mu.Unlock()

	r.markConversation(ctx, conversationKey)
}

func (r *Reconciler) Close(conversationKey string) {
	r.mu.Lock()
	delete(r.open, conversationKey)
	r.mu.Unlock()
}

func (r *Reconciler) IsOpen(conversationKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[conversationKey]
}

// Observe is called once m has been shown to the viewer. Messages from the
// other side in an open conversation are flipped individually.
func (r *Reconciler) Observe(ctx context.Context, m models.Message) {
	if m.IsRead || m.SenderKind == r.reader || m.ID == 0 {
		r.ObserveRead(m)
		return
	}
	if !r.IsOpen(m.ConversationKey) {
		return
	}
	r.markMessage(ctx, m.ID, m.ConversationKey)
}

// ObserveRead records a read flag seen in the stream.
func (r *Reconciler) ObserveRead(m models.Message) {
	if !m.IsRead || m.SenderKind == r.reader {
		return
	}
	r.mu.Lock()
	delete(r.pendingIDs, m.ID)
	r.advanceLocked(m.ConversationKey, m.ID)
	r.mu.Unlock()
}

// Touch retries every pending transition. Call it on any viewer interaction.
func (r *Reconciler) Touch(ctx context.Context) {
	r.mu.Lock()
	bulk := make([]string, 0, len(r.pendingBulk))
	for key := range r.pendingBulk {
		bulk = append(bulk, key)
	}
	single := make(map[uint]string, len(r.pendingIDs))
	for id, key := range r.pendingIDs {
		single[id] = key
	}
	r.mu.Unlock()

	for _, key := range bulk {
		metrics.ReadRetries.Inc()
		r.markConversation(ctx, key)
	}
	for id, key := range single {
		metrics.ReadRetries.Inc()
		r.markMessage(ctx, id, key)
	}
}

// Pending reports how many transitions are waiting for a retry.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingBulk) + len(r.pendingIDs)
}

// Watermark is the highest message id known read in the conversation. It
// never decreases.
func (r *Reconciler) Watermark(conversationKey string) uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermark[conversationKey]
}

func (r *Reconciler) markConversation(ctx context.Context, key string) {
	_, err := r.marker.MarkConversationRead(ctx, key, r.reader)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil && !errors.Is(err, apperr.ErrValidation) {
		r.pendingBulk[key] = true
		log.Printf("[readstate] mark conversation %s read deferred: %v", key, err)
		return
	}
	delete(r.pendingBulk, key)
	// A bulk mark covers every single mark queued for the conversation.
	for id, k := range r.pendingIDs {
		if k == key {
			delete(r.pendingIDs, id)
		}
	}
}

func (r *Reconciler) markMessage(ctx context.Context, id uint, key string) {
	m, err := r.marker.MarkMessageRead(ctx, id, r.reader)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err == nil:
		delete(r.pendingIDs, id)
		if m != nil && m.IsRead {
			r.advanceLocked(key, m.ID)
		}
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
		delete(r.pendingIDs, id)
	default:
		r.pendingIDs[id] = key
		log.Printf("[readstate] mark message %d read deferred: %v", id, err)
	}
}

func (r *Reconciler) advanceLocked(key string, id uint) {
	if id > r.watermark[key] {
		r.watermark[key] = id
	}
}
