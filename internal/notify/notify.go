// Package notify alerts staff about customer messages that arrive while
// nobody on the staff side is online.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/metrics"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/validation"
	"golang.org/x/time/rate"
)

const (
	queueSize    = 64
	sendTimeout  = 10 * time.Second
	maxLimiters  = 10000
	previewBytes = 280
)

// Alert is what a Sender delivers.
type Alert struct {
	ConversationKey string
	CustomerName    string
	Preview         string
	MessageID       uint
	At              time.Time
	DashboardURL    string
}

type Sender interface {
	Channel() string
	Send(ctx context.Context, a Alert) error
}

// StaffPresence is satisfied by *presence.Registry.
type StaffPresence interface {
	AnyStaffOnline() bool
}

type Notifier struct {
	presence     StaffPresence
	senders      []Sender
	dashboardURL string

	every rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	queue chan Alert
}

// New builds a notifier that allows burst alerts per conversation and then
// one per cooldown.
func New(presence StaffPresence, cooldown time.Duration, burst int, dashboardURL string, senders ...Sender) *Notifier {
	if burst < 1 {
		burst = 1
	}
	return &Notifier{
		presence:     presence,
		senders:      senders,
		dashboardURL: dashboardURL,
		every:        rate.Every(cooldown),
		burst:        burst,
		limiters:     make(map[string]*rate.Limiter),
		queue:        make(chan Alert, queueSize),
	}
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Deliver implements feed.Sink. It never blocks.
func (n *Notifier) Deliver(ev feed.Event) {
	if !n.Enabled() || ev.Kind != feed.KindInserted || ev.Message == nil {
		return
	}
	m := ev.Message
	if m.SenderKind != models.SenderCustomer {
		return
	}
	if n.presence != nil && n.presence.AnyStaffOnline() {
		return
	}
	if !n.allow(m.ConversationKey) {
		metrics.NotificationsSent.WithLabelValues("any", "throttled").Inc()
		return
	}

	alert := Alert{
		ConversationKey: m.ConversationKey,
		CustomerName:    m.SenderName,
		Preview:         preview(m.Body),
		MessageID:       m.ID,
		At:              m.CreatedAt,
		DashboardURL:    n.dashboardURL,
	}
	select {
	case n.queue <- alert:
	default:
		log.Printf("[notify] queue full, dropping alert for %s", m.ConversationKey)
	}
}

func (n *Notifier) allow(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[key]
	if !ok {
		if len(n.limiters) >= maxLimiters {
			n.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(n.every, n.burst)
		n.limiters[key] = l
	}
	return l.Allow()
}

// Run sends queued alerts until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-n.queue:
			n.dispatch(ctx, a)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, a Alert) {
	for _, s := range n.senders {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.Send(sctx, a)
		cancel()
		if err != nil {
			metrics.NotificationsSent.WithLabelValues(s.Channel(), "error").Inc()
			log.Printf("[notify] %s alert for %s failed: %v", s.Channel(), a.ConversationKey, err)
			continue
		}
		metrics.NotificationsSent.WithLabelValues(s.Channel(), "sent").Inc()
	}
}

func preview(body string) string {
	b := models.ParseBody(body)
	switch b.Kind {
	case models.BodyImage:
		return "[image]"
	case models.BodyFile:
		return "[file] " + b.Name
	}
	if text := validation.TrimAndLimit(b.Text, previewBytes); text != b.Text {
		return text + "…"
	}
	return b.Text
}
