// Package retention purges old activity log rows on a cron schedule.
// Conversation messages are never touched.
package retention

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Purger is satisfied by *service.ActivityService.
type Purger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Manager struct {
	cron   string
	maxAge time.Duration
	purger Purger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

func NewManager(cron string, maxAge time.Duration, purger Purger) (*Manager, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cron)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	return &Manager{cron: cron, maxAge: maxAge, purger: purger, now: time.Now}, nil
}

// Start runs the schedule in the background until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	log.Printf("[retention] enabled cron=%q max_age=%s", m.cron, m.maxAge)
	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.cron, m.now(), false)
		if err != nil {
			log.Printf("[retention] next tick cron=%q: %v", m.cron, err)
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}
		if !sleep(ctx, time.Until(next)) {
			return
		}
		if _, err := m.RunOnce(ctx); err != nil {
			log.Printf("[retention] run failed: %v", err)
		}
	}
}

// RunOnce purges rows older than the configured age. Overlapping calls
// return immediately with zero.
func (m *Manager) RunOnce(ctx context.Context) (int64, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return 0, nil
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	cutoff := m.now().Add(-m.maxAge)
	n, err := m.purger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Printf("[retention] purged %d activity rows older than %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
