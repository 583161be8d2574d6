package client

import (
	"context"
	"log"
	"time"

	"github.com/dakael7/gravitylabs/internal/agent"
	"github.com/dakael7/gravitylabs/internal/router"
)

// Failed resyncs and reloads are retried with exponential backoff between
// these bounds until one succeeds.
var (
	resyncRetryBase = 1 * time.Second
	resyncRetryMax  = 30 * time.Second
)

type retrier struct {
	delay time.Duration
	timer *time.Timer
}

// C is nil while no retry is scheduled, which blocks forever in a select.
func (r *retrier) C() <-chan time.Time {
	if r.timer == nil {
		return nil
	}
	return r.timer.C
}

func (r *retrier) pending() bool { return r.timer != nil }

func (r *retrier) schedule() time.Duration {
	if r.delay == 0 {
		r.delay = resyncRetryBase
	} else if r.delay *= 2; r.delay > resyncRetryMax {
		r.delay = resyncRetryMax
	}
	r.timer = time.NewTimer(r.delay)
	return r.delay
}

func (r *retrier) reset() {
	r.stop()
	r.delay = 0
}

func (r *retrier) stop() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// relevant reports whether env concerns the conversation followed by view.
// Envelopes without a key (resync after connect, staff presence) apply to
// every view.
func relevant(env router.Envelope, key string) bool {
	return env.ConversationKey == "" || env.ConversationKey == key
}

// FollowConversation applies streamed envelopes to view until envs closes or
// ctx ends. Resync requests are served from src; a failed resync is retried
// with backoff while the gap stays open. onChange runs after every envelope
// or retry that may have changed the view.
func FollowConversation(ctx context.Context, src agent.Source, envs <-chan router.Envelope, view *agent.ConversationView, onChange func()) error {
	var retry retrier
	defer retry.stop()

	resync := func() {
		for {
			if err := view.Resync(ctx, src); err != nil {
				if ctx.Err() != nil {
					return
				}
				delay := retry.schedule()
				log.Printf("[client] resync %s failed, retrying in %s: %v", view.Key(), delay, err)
				return
			}
			if !view.NeedsResync() {
				break
			}
		}
		retry.reset()
		view.Touch(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retry.C():
			retry.timer = nil
			resync()
			if onChange != nil {
				onChange()
			}
		case env, ok := <-envs:
			if !ok {
				return nil
			}
			if !relevant(env, view.Key()) {
				continue
			}
			if view.Apply(ctx, env) && !retry.pending() {
				resync()
			}
			if onChange != nil {
				onChange()
			}
		}
	}
}

// FollowList keeps a staff conversation list current. Failed reloads are
// retried with backoff.
func FollowList(ctx context.Context, src agent.ListSource, envs <-chan router.Envelope, list *agent.ListView, onChange func()) error {
	var retry retrier
	defer retry.stop()

	reload := func() {
		if err := list.Reload(ctx, src); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := retry.schedule()
			log.Printf("[client] reload conversation list failed, retrying in %s: %v", delay, err)
			return
		}
		retry.reset()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retry.C():
			retry.timer = nil
			reload()
			if onChange != nil {
				onChange()
			}
		case env, ok := <-envs:
			if !ok {
				return nil
			}
			if list.Apply(env) && !retry.pending() {
				reload()
			}
			if onChange != nil {
				onChange()
			}
		}
	}
}
