// Package presence tracks which actors are online from periodic heartbeats.
// State is ephemeral and lives only in process memory, optionally mirrored to
// Redis for other instances to read.
package presence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dakael7/gravitylabs/internal/apperr"
	"github.com/dakael7/gravitylabs/internal/metrics"
)

// StaffScope is the scope every staff session heartbeats under. Customer
// sessions use their conversation key as scope.
const StaffScope = "staff"

type Config struct {
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration
	SweepInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Second,
		LivenessWindow:    45 * time.Second,
		SweepInterval:     15 * time.Second,
	}
}

// Normalize clamps the window to at least two heartbeat intervals and the
// sweep to at most half the window.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.LivenessWindow < 2*c.HeartbeatInterval {
		c.LivenessWindow = 3 * c.HeartbeatInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepInterval > c.LivenessWindow/2 {
		c.SweepInterval = c.LivenessWindow / 2
	}
	return c
}

// Transition is emitted when an actor's aggregate state flips.
type Transition struct {
	ActorID     string    `json:"actor_id"`
	Scope       string    `json:"scope"`
	DisplayName string    `json:"display_name,omitempty"`
	Online      bool      `json:"online"`
	At          time.Time `json:"at"`
}

// Mirror receives liveness updates for cross-instance visibility and answers
// which actors other instances currently hold online.
type Mirror interface {
	Touch(ctx context.Context, actorID, scope, displayName string, ttl time.Duration) error
	Remove(ctx context.Context, actorID, scope string) error
	Online(ctx context.Context, scope string) ([]Transition, error)
}

type session struct {
	scope    string
	lastSeen time.Time
}

type actor struct {
	displayName string
	scope       string
	sessions    map[string]*session
	online      bool
}

type Registry struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
	online int

	// emitMu is taken before mu is released so listeners and the mirror
	// observe transitions in the order they were decided.
	emitMu    sync.Mutex
	listeners []func(Transition)

	mirror Mirror
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:    cfg.Normalize(),
		now:    time.Now,
		actors: make(map[string]*actor),
	}
}

func (r *Registry) Config() Config { return r.cfg }

// SetClock replaces the time source. Intended for tests and simulations.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func (r *Registry) SetMirror(m Mirror) {
	r.mu.Lock()
	r.mirror = m
	r.mu.Unlock()
}

// OnTransition registers a listener. Listeners run synchronously and must
// not call Heartbeat, Leave or Sweep.
func (r *Registry) OnTransition(fn func(Transition)) {
	r.emitMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.emitMu.Unlock()
}

// Heartbeat refreshes one session of an actor. The first live session of an
// offline actor emits an online transition; further sessions do not.
func (r *Registry) Heartbeat(ctx context.Context, actorID, sessionToken, scope, displayName string) error {
	if actorID == "" {
		return apperr.Invalid("actor_id", "required")
	}
	if sessionToken == "" {
		return apperr.Invalid("session_token", "required")
	}
	if scope == "" {
		return apperr.Invalid("scope", "required")
	}

	now := r.now()

	r.mu.Lock()
	a, ok := r.actors[actorID]
	if !ok {
		a = &actor{sessions: make(map[string]*session)}
		r.actors[actorID] = a
	}
	if displayName != "" {
		a.displayName = displayName
	}
	a.scope = scope
	s, ok := a.sessions[sessionToken]
	if !ok {
		s = &session{}
		a.sessions[sessionToken] = s
	}
	s.scope = scope
	s.lastSeen = now

	var out []Transition
	if !a.online {
		a.online = true
		r.online++
		out = append(out, Transition{ActorID: actorID, Scope: scope, DisplayName: a.displayName, Online: true, At: now})
	}
	name := a.displayName
	r.flush(out, func(m Mirror) {
		if err := m.Touch(ctx, actorID, scope, name, r.cfg.LivenessWindow); err != nil {
			log.Printf("[presence] mirror touch actor=%s: %v", actorID, err)
		}
	})
	return nil
}

// Leave drops one session. The actor goes offline only when no other live
// session remains.
func (r *Registry) Leave(ctx context.Context, actorID, sessionToken string) {
	now := r.now()

	r.mu.Lock()
	a, ok := r.actors[actorID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(a.sessions, sessionToken)
	var out []Transition
	if t, flipped := r.settle(actorID, a, now); flipped {
		out = append(out, t)
	}
	r.flush(out, func(m Mirror) { r.mirrorRemove(ctx, m, out) })
}

// Sweep evicts expired sessions and emits one offline transition for each
// actor left without a live session.
func (r *Registry) Sweep(ctx context.Context) []Transition {
	now := r.now()

	r.mu.Lock()
	var out []Transition
	for id, a := range r.actors {
		for token, s := range a.sessions {
			if now.Sub(s.lastSeen) > r.cfg.LivenessWindow {
				delete(a.sessions, token)
			}
		}
		if t, flipped := r.settle(id, a, now); flipped {
			out = append(out, t)
		}
	}
	r.flush(out, func(m Mirror) { r.mirrorRemove(ctx, m, out) })
	return out
}

func (r *Registry) mirrorRemove(ctx context.Context, m Mirror, offline []Transition) {
	for _, t := range offline {
		if err := m.Remove(ctx, t.ActorID, t.Scope); err != nil {
			log.Printf("[presence] mirror remove actor=%s: %v", t.ActorID, err)
		}
	}
}

// settle must be called with mu held. It forgets actors without sessions and
// reports an offline transition when one is due.
func (r *Registry) settle(id string, a *actor, now time.Time) (Transition, bool) {
	if r.liveLocked(a, now) {
		return Transition{}, false
	}
	if len(a.sessions) == 0 {
		delete(r.actors, id)
	}
	if !a.online {
		return Transition{}, false
	}
	a.online = false
	r.online--
	return Transition{ActorID: id, Scope: a.scope, DisplayName: a.displayName, Online: false, At: now}, true
}

func (r *Registry) liveLocked(a *actor, now time.Time) bool {
	for _, s := range a.sessions {
		if now.Sub(s.lastSeen) <= r.cfg.LivenessWindow {
			return true
		}
	}
	return false
}

// flush releases mu and delivers transitions in decision order. mirrorOp, if
// any, runs after the listeners while emitMu is still held.
func (r *Registry) flush(out []Transition, mirrorOp func(Mirror)) {
	online := r.online
	mirror := r.mirror
	r.emitMu.Lock()
	r.mu.Unlock()
	defer r.emitMu.Unlock()

	metrics.PresenceOnline.Set(float64(online))
	for _, t := range out {
		state := "offline"
		if t.Online {
			state = "online"
		}
		metrics.PresenceTransitions.WithLabelValues(state).Inc()
		for _, fn := range r.listeners {
			fn(t)
		}
	}
	if mirror != nil && mirrorOp != nil {
		mirrorOp(mirror)
	}
}

// Query reports whether the actor has at least one session inside the
// liveness window.
func (r *Registry) Query(actorID string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[actorID]
	return ok && r.liveLocked(a, now)
}

// QueryScoped lists actors with a live session in scope, sorted by id.
func (r *Registry) QueryScoped(scope string) []string {
	snap := r.Snapshot(scope)
	ids := make([]string, 0, len(snap))
	for _, t := range snap {
		ids = append(ids, t.ActorID)
	}
	return ids
}

// Snapshot returns the online state of every live actor in scope. An empty
// scope returns every live actor.
func (r *Registry) Snapshot(scope string) []Transition {
	now := r.now()
	r.mu.Lock()
	var out []Transition
	for id, a := range r.actors {
		for _, s := range a.sessions {
			if (scope == "" || s.scope == scope) && now.Sub(s.lastSeen) <= r.cfg.LivenessWindow {
				out = append(out, Transition{ActorID: id, Scope: s.scope, DisplayName: a.displayName, Online: true, At: s.lastSeen})
				break
			}
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}

// Online merges the local snapshot with actors the mirror reports as held by
// other instances. Local state wins for actors known here. A mirror failure
// degrades to the local view.
func (r *Registry) Online(ctx context.Context, scope string) []Transition {
	local := r.Snapshot(scope)
	r.mu.Lock()
	mirror := r.mirror
	r.mu.Unlock()
	if mirror == nil {
		return local
	}
	remote, err := mirror.Online(ctx, scope)
	if err != nil {
		log.Printf("[presence] mirror online scope=%s: %v", scope, err)
		return local
	}

	seen := make(map[string]bool, len(local))
	for _, t := range local {
		seen[t.ActorID] = true
	}
	out := local
	for _, t := range remote {
		if seen[t.ActorID] {
			continue
		}
		seen[t.ActorID] = true
		t.Online = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}

// AnyStaffOnline is the check notification dispatch runs before paging.
func (r *Registry) AnyStaffOnline() bool {
	return len(r.QueryScoped(StaffScope)) > 0
}

// Run sweeps on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if out := r.Sweep(ctx); len(out) > 0 {
				log.Printf("[presence] sweep: %d actor(s) went offline", len(out))
			}
		}
	}
}
