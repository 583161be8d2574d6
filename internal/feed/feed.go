// Package feed publishes committed changes of the message store to
// interested sinks (the realtime router, notification dispatch, activity log).
package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dakael7/gravitylabs/internal/metrics"
	"github.com/dakael7/gravitylabs/internal/models"
)

type Kind string

const (
	KindInserted Kind = "inserted"
	KindUpdated  Kind = "updated"
	KindSystem   Kind = "system"
)

// SystemEvent is a non-message domain event (new project request, status
// change, monitoring notes).
type SystemEvent struct {
	Name            string                 `json:"name"`
	ConversationKey string                 `json:"conversation_key,omitempty"`
	Text            string                 `json:"text"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// Event carries the full current row, never a diff. Seq is process-wide and
// strictly increasing in emission order.
type Event struct {
	Kind            Kind            `json:"kind"`
	Seq             uint64          `json:"seq"`
	ConversationKey string          `json:"conversation_key,omitempty"`
	Message         *models.Message `json:"message,omitempty"`
	System          *SystemEvent    `json:"system,omitempty"`
	EmittedAt       time.Time       `json:"emitted_at"`
}

// Sink receives events synchronously. Implementations must not block; slow
// work belongs on the sink's own goroutine.
type Sink interface {
	Deliver(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Deliver(ev Event) { f(ev) }

type Feed struct {
	mu    sync.RWMutex
	sinks []Sink
	seq   atomic.Uint64
	now   func() time.Time
}

func New() *Feed {
	return &Feed{now: time.Now}
}

func (f *Feed) Attach(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Inserted must be called with the conversation lock held so that emission
// order matches acceptance order.
func (f *Feed) Inserted(m models.Message) {
	f.emit(Event{Kind: KindInserted, ConversationKey: m.ConversationKey, Message: &m})
}

// Updated has the same locking contract as Inserted.
func (f *Feed) Updated(m models.Message) {
	f.emit(Event{Kind: KindUpdated, ConversationKey: m.ConversationKey, Message: &m})
}

func (f *Feed) System(ev SystemEvent) {
	f.emit(Event{Kind: KindSystem, ConversationKey: ev.ConversationKey, System: &ev})
}

func (f *Feed) emit(ev Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	ev.Seq = f.seq.Add(1)
	ev.EmittedAt = f.now()
	metrics.FeedEvents.WithLabelValues(string(ev.Kind)).Inc()

	for _, s := range sinks {
		s.Deliver(ev)
	}
}
