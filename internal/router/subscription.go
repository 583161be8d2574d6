package router

import (
	"sync"

	"github.com/dakael7/gravitylabs/internal/metrics"
)

type Subscription struct {
	id     uint64
	filter Filter
	router *Router

	mu     sync.Mutex
	ch     chan Envelope
	closed bool
}

func (s *Subscription) ID() uint64     { return s.id }
func (s *Subscription) Filter() Filter { return s.filter }

// C is closed after Unsubscribe.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Unsubscribe is shorthand for Router.Unsubscribe.
func (s *Subscription) Unsubscribe() { s.router.Unsubscribe(s) }

// offer enqueues env without blocking. On a full queue the backlog is
// discarded and replaced by a single resync envelope.
func (s *Subscription) offer(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- env:
		return true
	default:
	}

	s.drainLocked()
	s.ch <- Envelope{Type: TypeResync, ConversationKey: s.filter.ConversationKey, Reason: "overflow"}
	metrics.RouterOverflows.Inc()
	return false
}

func (s *Subscription) drainLocked() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.drainLocked()
	close(s.ch)
}
