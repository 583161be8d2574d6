// Package agent is the client half of the realtime layer. It merges the
// initial snapshot, streamed events and optimistic writes into a single
// ordered view of a conversation and recovers from gaps by resyncing.
package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/dakael7/gravitylabs/internal/readstate"
	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/google/uuid"
)

const resyncPageSize = 500

// Source fetches a conversation tail. *client.API implements it.
type Source interface {
	ListSince(ctx context.Context, conversationKey string, sinceID uint, limit int) ([]models.Message, error)
}

// Pending is an optimistic write that has not been echoed by the store yet.
type Pending struct {
	ClientID   string
	Body       string
	SenderName string
	QueuedAt   time.Time
	Failed     bool
	Err        error
}

// Item is one line of the rendered view.
type Item struct {
	Message models.Message
	Pending *Pending
}

type ConversationView struct {
	key  string
	self models.SenderKind

	mu        sync.Mutex
	confirmed []models.Message
	known     map[uint]struct{}
	pending   []*Pending
	presence  map[string]presence.Transition
	highestID uint
	resyncing bool
	buffered  []router.Envelope

	// A requested resync stays owed until one completes without error.
	// gapAnchor is where the owed fetch must start, fixed when the gap opened.
	needsResync bool
	gapAnchor   uint
	requests    uint64

	reconciler *readstate.Reconciler
	now        func() time.Time
}

func NewConversationView(conversationKey string, self models.SenderKind) *ConversationView {
	return &ConversationView{
		key:      conversationKey,
		self:     self,
		known:    make(map[uint]struct{}),
		presence: make(map[string]presence.Transition),
		now:      time.Now,
	}
}

func (v *ConversationView) Key() string { return v.key }

// SetReconciler routes rendered messages to the read-state reconciler.
func (v *ConversationView) SetReconciler(r *readstate.Reconciler) {
	v.mu.Lock()
	v.reconciler = r
	v.mu.Unlock()
}

// Load merges an initial snapshot.
func (v *ConversationView) Load(ctx context.Context, snapshot []models.Message) {
	v.mu.Lock()
	var fresh []models.Message
	for _, m := range snapshot {
		if v.mergeLocked(m) {
			fresh = append(fresh, m)
		}
	}
	rec := v.reconciler
	v.mu.Unlock()

	observe(ctx, rec, fresh, nil)
}

// AddPending queues an optimistic write and returns it. Its ClientID must be
// sent with the append so the echo can replace it.
func (v *ConversationView) AddPending(body, senderName string) *Pending {
	p := &Pending{
		ClientID:   uuid.NewString(),
		Body:       body,
		SenderName: senderName,
		QueuedAt:   v.now(),
	}
	v.mu.Lock()
	v.pending = append(v.pending, p)
	v.mu.Unlock()
	return p
}

// MarkFailed flags an optimistic write whose append was rejected.
func (v *ConversationView) MarkFailed(clientID string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range v.pending {
		if p.ClientID == clientID {
			p.Failed = true
			p.Err = err
			return
		}
	}
}

// Discard drops an optimistic write, typically after the user gives up on it.
func (v *ConversationView) Discard(clientID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropPendingLocked(clientID)
}

// Confirm merges the row returned by a successful append.
func (v *ConversationView) Confirm(ctx context.Context, m models.Message) {
	v.Load(ctx, []models.Message{m})
}

// Apply merges one streamed envelope. It reports true when the caller must
// run Resync, which stays the case until a resync succeeds.
func (v *ConversationView) Apply(ctx context.Context, env router.Envelope) bool {
	v.mu.Lock()
	if env.Type == router.TypeResync {
		v.requestResyncLocked()
		v.mu.Unlock()
		return true
	}
	if v.resyncing {
		v.buffered = append(v.buffered, env)
		v.mu.Unlock()
		return false
	}
	fresh, updated := v.applyLocked(env)
	owed := v.needsResync
	rec := v.reconciler
	v.mu.Unlock()

	observe(ctx, rec, fresh, updated)
	return owed
}

// NeedsResync reports whether a gap is still open.
func (v *ConversationView) NeedsResync() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.needsResync
}

func (v *ConversationView) requestResyncLocked() {
	anchor := v.resyncAnchorLocked()
	if !v.needsResync || anchor < v.gapAnchor {
		v.gapAnchor = anchor
	}
	v.needsResync = true
	v.requests++
}

// Touch retries read transitions that failed earlier.
func (v *ConversationView) Touch(ctx context.Context) {
	v.mu.Lock()
	rec := v.reconciler
	v.mu.Unlock()
	if rec != nil {
		rec.Touch(ctx)
	}
}

func (v *ConversationView) applyLocked(env router.Envelope) (fresh, updated []models.Message) {
	switch env.Type {
	case router.TypeInserted:
		if env.Message != nil && v.mergeLocked(*env.Message) {
			fresh = append(fresh, *env.Message)
		}
	case router.TypeUpdated:
		if env.Message != nil {
			v.mergeLocked(*env.Message)
			updated = append(updated, *env.Message)
		}
	case router.TypePresence:
		if env.Presence != nil {
			v.mergePresenceLocked(*env.Presence)
		}
	}
	return fresh, updated
}

// Resync fetches everything the view may have missed, merges it and then
// replays the envelopes that arrived meanwhile. The fetch starts before the
// oldest message still unread so read flags flipped during the gap are picked
// up too.
func (v *ConversationView) Resync(ctx context.Context, src Source) error {
	v.mu.Lock()
	if v.resyncing {
		v.mu.Unlock()
		return nil
	}
	v.resyncing = true
	since := v.resyncAnchorLocked()
	// Messages streamed after the gap opened must not move the start past it.
	if v.needsResync && v.gapAnchor < since {
		since = v.gapAnchor
	}
	start := since
	requests := v.requests
	v.mu.Unlock()

	var fetched []models.Message
	var err error
	for {
		var page []models.Message
		page, err = src.ListSince(ctx, v.key, since, resyncPageSize)
		if err != nil {
			break
		}
		fetched = append(fetched, page...)
		if len(page) < resyncPageSize {
			break
		}
		since = page[len(page)-1].ID
	}

	v.mu.Lock()
	var fresh, updated []models.Message
	for _, m := range fetched {
		if v.mergeLocked(m) {
			fresh = append(fresh, m)
		} else if m.IsRead {
			updated = append(updated, m)
		}
	}
	buffered := v.buffered
	v.buffered = nil
	for _, env := range buffered {
		f, u := v.applyLocked(env)
		fresh = append(fresh, f...)
		updated = append(updated, u...)
	}
	v.resyncing = false
	switch {
	case err != nil:
		if !v.needsResync || start < v.gapAnchor {
			v.gapAnchor = start
		}
		v.needsResync = true
	case v.requests != requests:
		// Another gap opened while fetching; it needs its own pass.
		v.needsResync = true
	default:
		v.needsResync = false
	}
	rec := v.reconciler
	v.mu.Unlock()

	observe(ctx, rec, fresh, updated)
	return err
}

func (v *ConversationView) resyncAnchorLocked() uint {
	for i, m := range v.confirmed {
		if !m.IsRead {
			if i == 0 {
				return 0
			}
			return v.confirmed[i-1].ID
		}
	}
	if n := len(v.confirmed); n > 0 {
		return v.confirmed[n-1].ID
	}
	return 0
}

// mergeLocked inserts or replaces m and reports whether m was new.
func (v *ConversationView) mergeLocked(m models.Message) bool {
	if m.ConversationKey != v.key || m.ID == 0 {
		return false
	}
	if ref := m.ClientRef(); ref != "" {
		v.dropPendingLocked(ref)
	}
	if m.ID > v.highestID {
		v.highestID = m.ID
	}

	if _, ok := v.known[m.ID]; ok {
		for i := range v.confirmed {
			if v.confirmed[i].ID != m.ID {
				continue
			}
			// A stale copy must not undo a read.
			if v.confirmed[i].IsRead && !m.IsRead {
				m.IsRead = true
				m.ReadAt = v.confirmed[i].ReadAt
			}
			v.confirmed[i] = m
			break
		}
		return false
	}

	i := sort.Search(len(v.confirmed), func(i int) bool {
		return m.Before(&v.confirmed[i])
	})
	v.confirmed = append(v.confirmed, models.Message{})
	copy(v.confirmed[i+1:], v.confirmed[i:])
	v.confirmed[i] = m
	v.known[m.ID] = struct{}{}
	return true
}

func (v *ConversationView) dropPendingLocked(clientID string) {
	for i, p := range v.pending {
		if p.ClientID == clientID {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

func (v *ConversationView) mergePresenceLocked(t presence.Transition) {
	if cur, ok := v.presence[t.ActorID]; ok && cur.At.After(t.At) {
		return
	}
	v.presence[t.ActorID] = t
}

// MergePresence applies a presence value outside the stream, e.g. from a
// snapshot query.
func (v *ConversationView) MergePresence(t presence.Transition) {
	v.mu.Lock()
	v.mergePresenceLocked(t)
	v.mu.Unlock()
}

// Items returns confirmed messages in order followed by optimistic ones.
func (v *ConversationView) Items() []Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Item, 0, len(v.confirmed)+len(v.pending))
	for _, m := range v.confirmed {
		out = append(out, Item{Message: m})
	}
	for _, p := range v.pending {
		cp := *p
		clientID := p.ClientID
		out = append(out, Item{
			Message: models.Message{
				ClientID:        &clientID,
				ConversationKey: v.key,
				SenderKind:      v.self,
				SenderName:      p.SenderName,
				Body:            p.Body,
				CreatedAt:       p.QueuedAt,
			},
			Pending: &cp,
		})
	}
	return out
}

// Messages returns only confirmed messages.
func (v *ConversationView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.confirmed))
	copy(out, v.confirmed)
	return out
}

func (v *ConversationView) HighestID() uint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.highestID
}

// Presence returns the latest known state of an actor.
func (v *ConversationView) Presence(actorID string) (presence.Transition, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.presence[actorID]
	return t, ok
}

// StaffOnline reports whether any staff actor is currently shown online.
func (v *ConversationView) StaffOnline() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range v.presence {
		if t.Scope == presence.StaffScope && t.Online {
			return true
		}
	}
	return false
}

func observe(ctx context.Context, rec *readstate.Reconciler, fresh, updated []models.Message) {
	if rec == nil {
		return
	}
	for _, m := range fresh {
		rec.Observe(ctx, m)
	}
	for _, m := range updated {
		rec.ObserveRead(m)
	}
}
