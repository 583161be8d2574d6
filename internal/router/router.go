// Package router fans change feed events and presence transitions out to
// subscribers. Each subscriber owns a bounded queue; a subscriber that falls
// behind loses its backlog and is told to resync instead of slowing anyone
// else down.
package router

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/metrics"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/presence"
)

const DefaultQueueSize = 256

type FilterKind string

const (
	FilterConversation FilterKind = "conversation"
	FilterAll          FilterKind = "all"
	FilterSystem       FilterKind = "system"
)

type Filter struct {
	Kind            FilterKind `json:"kind"`
	ConversationKey string     `json:"conversation_key,omitempty"`
}

func Conversation(key string) Filter { return Filter{Kind: FilterConversation, ConversationKey: key} }
func All() Filter                    { return Filter{Kind: FilterAll} }
func System() Filter                 { return Filter{Kind: FilterSystem} }

func (f Filter) Validate() error {
	switch f.Kind {
	case FilterConversation:
		if f.ConversationKey == "" {
			return apperr.Invalid("conversation_key", "required for conversation filter")
		}
		return nil
	case FilterAll, FilterSystem:
		return nil
	}
	return apperr.Invalid("filter", "unknown kind "+string(f.Kind))
}

var ErrClosed = errors.New("router closed")

type Router struct {
	queueSize int
	nextID    atomic.Uint64

	mu     sync.RWMutex
	closed bool
	byKey  map[string]map[uint64]*Subscription
	all    map[uint64]*Subscription
	system map[uint64]*Subscription
}

func New(queueSize int) *Router {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Router{
		queueSize: queueSize,
		byKey:     make(map[string]map[uint64]*Subscription),
		all:       make(map[uint64]*Subscription),
		system:    make(map[uint64]*Subscription),
	}
}

func (r *Router) Subscribe(f Filter) (*Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	sub := &Subscription{
		id:     r.nextID.Add(1),
		filter: f,
		ch:     make(chan Envelope, r.queueSize),
		router: r,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	switch f.Kind {
	case FilterConversation:
		set, ok := r.byKey[f.ConversationKey]
		if !ok {
			set = make(map[uint64]*Subscription)
			r.byKey[f.ConversationKey] = set
		}
		set[sub.id] = sub
	case FilterAll:
		r.all[sub.id] = sub
	case FilterSystem:
		r.system[sub.id] = sub
	}
	metrics.RouterSubscriptions.WithLabelValues(string(f.Kind)).Inc()
	return sub, nil
}

// Unsubscribe detaches sub and closes its channel. Once it returns no further
// envelope is enqueued. Calling it twice is harmless.
func (r *Router) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	removed := r.detachLocked(sub)
	r.mu.Unlock()

	sub.close()
	if removed {
		metrics.RouterSubscriptions.WithLabelValues(string(sub.filter.Kind)).Dec()
	}
}

func (r *Router) detachLocked(sub *Subscription) bool {
	switch sub.filter.Kind {
	case FilterConversation:
		set := r.byKey[sub.filter.ConversationKey]
		if _, ok := set[sub.id]; !ok {
			return false
		}
		delete(set, sub.id)
		if len(set) == 0 {
			delete(r.byKey, sub.filter.ConversationKey)
		}
	case FilterAll:
		if _, ok := r.all[sub.id]; !ok {
			return false
		}
		delete(r.all, sub.id)
	case FilterSystem:
		if _, ok := r.system[sub.id]; !ok {
			return false
		}
		delete(r.system, sub.id)
	}
	return true
}

// Deliver routes a feed event. It runs on the publisher's goroutine and
// never blocks on a subscriber.
func (r *Router) Deliver(ev feed.Event) {
	env, ok := fromEvent(ev)
	if !ok {
		return
	}

	r.mu.RLock()
	var targets []*Subscription
	switch ev.Kind {
	case feed.KindInserted, feed.KindUpdated:
		targets = appendSet(targets, r.byKey[ev.ConversationKey])
		targets = appendSet(targets, r.all)
		if ev.Kind == feed.KindInserted && ev.Message != nil && ev.Message.SenderKind == models.SenderCustomer {
			targets = appendSet(targets, r.system)
		}
	case feed.KindSystem:
		targets = appendSet(targets, r.system)
	}
	r.mu.RUnlock()

	r.fanout(targets, env)
}

// PublishPresence routes a presence transition. Staff transitions reach
// every conversation; a customer transition reaches its own conversation.
// All subscribers see both.
func (r *Router) PublishPresence(t presence.Transition) {
	env := Envelope{Type: TypePresence, Presence: &t}
	if t.Scope != presence.StaffScope {
		env.ConversationKey = t.Scope
	}

	r.mu.RLock()
	var targets []*Subscription
	if t.Scope == presence.StaffScope {
		for _, set := range r.byKey {
			targets = appendSet(targets, set)
		}
	} else {
		targets = appendSet(targets, r.byKey[t.Scope])
	}
	targets = appendSet(targets, r.all)
	r.mu.RUnlock()

	r.fanout(targets, env)
}

func (r *Router) fanout(targets []*Subscription, env Envelope) {
	for _, sub := range targets {
		if sub.offer(env) {
			metrics.RouterDelivered.Inc()
		}
	}
}

// Count returns the number of live subscriptions.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.all) + len(r.system)
	for _, set := range r.byKey {
		n += len(set)
	}
	return n
}

// Close unsubscribes everyone. Subscribe fails afterwards.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	var subs []*Subscription
	for _, set := range r.byKey {
		subs = appendSet(subs, set)
	}
	subs = appendSet(subs, r.all)
	subs = appendSet(subs, r.system)
	r.byKey = make(map[string]map[uint64]*Subscription)
	r.all = make(map[uint64]*Subscription)
	r.system = make(map[uint64]*Subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		metrics.RouterSubscriptions.WithLabelValues(string(sub.filter.Kind)).Dec()
	}
}

func appendSet(dst []*Subscription, set map[uint64]*Subscription) []*Subscription {
	for _, sub := range set {
		dst = append(dst, sub)
	}
	return dst
}
