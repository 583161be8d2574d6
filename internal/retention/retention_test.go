package retention

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePurger struct {
	cutoffs []time.Time
	n       int64
	err     error
	block   chan struct{}
}

func (p *fakePurger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	if p.block != nil {
		<-p.block
	}
	return p.n, p.err
}

func TestNewManagerValidation(t *testing.T) {
	tests := []struct {
		name      string
		cron      string
		maxAge    time.Duration
		shouldErr bool
	}{
		{name: "daily", cron: "0 3 * * *", maxAge: time.Hour},
		{name: "bad cron", cron: "daily", maxAge: time.Hour, shouldErr: true},
		{name: "zero age", cron: "0 3 * * *", maxAge: 0, shouldErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cron, tt.maxAge, &fakePurger{})
			if (err != nil) != tt.shouldErr {
				t.Errorf("err = %v, shouldErr %v", err, tt.shouldErr)
			}
		})
	}
}

func TestRunOnceUsesCutoff(t *testing.T) {
	p := &fakePurger{n: 7}
	m, _ := NewManager("0 3 * * *", 90*24*time.Hour, p)
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	n, err := m.RunOnce(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if want := now.Add(-90 * 24 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}

func TestRunOnceReportsError(t *testing.T) {
	p := &fakePurger{err: errors.New("db down")}
	m, _ := NewManager("0 3 * * *", time.Hour, p)
	if _, err := m.RunOnce(context.Background()); err == nil {
		t.Errorf("expected error")
	}
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	p := &fakePurger{block: make(chan struct{})}
	m, _ := NewManager("0 3 * * *", time.Hour, p)

	done := make(chan struct{})
	go func() {
		m.RunOnce(context.Background())
		close(done)
	}()
	for {
		m.mu.Lock()
		running := m.running
		m.mu.Unlock()
		if running {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if n, err := m.RunOnce(context.Background()); n != 0 || err != nil {
		t.Errorf("overlapping run = %d, %v", n, err)
	}
	close(p.block)
	<-done
	if len(p.cutoffs) != 1 {
		t.Errorf("purger called %d times, want 1", len(p.cutoffs))
	}
}

func TestStartStopsWithContext(t *testing.T) {
	m, _ := NewManager("0 3 * * *", time.Hour, &fakePurger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.loop(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
