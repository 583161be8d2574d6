package cache

import (
	"context"
	"sort"
	"time"

	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/vmihailenco/msgpack/v5"
)

// PresenceCache mirrors live actors into Redis so other instances and
// operators can see who is online. Each actor has a TTL key; the per-scope
// set is an index that may briefly list expired actors.
type PresenceCache struct {
	redis *RedisCache
}

type presenceEntry struct {
	Scope       string    `msgpack:"s"`
	DisplayName string    `msgpack:"n"`
	SeenAt      time.Time `msgpack:"t"`
}

func NewPresenceCache(redis *RedisCache) *PresenceCache {
	return &PresenceCache{redis: redis}
}

func presenceActorKey(actorID string) string { return "presence:actor:" + actorID }
func presenceScopeKey(scope string) string   { return "presence:scope:" + scope }

func (pc *PresenceCache) Touch(ctx context.Context, actorID, scope, displayName string, ttl time.Duration) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(presenceEntry{Scope: scope, DisplayName: displayName, SeenAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := pc.redis.SetAdd(ctx, presenceScopeKey(scope), actorID); err != nil {
		return err
	}
	return pc.redis.Set(ctx, presenceActorKey(actorID), data, ttl)
}

func (pc *PresenceCache) Remove(ctx context.Context, actorID, scope string) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	if err := pc.redis.SetRemove(ctx, presenceScopeKey(scope), actorID); err != nil {
		return err
	}
	return pc.redis.Delete(ctx, presenceActorKey(actorID))
}

// Online lists actors in scope whose TTL key is still present. Index entries
// whose key expired are pruned on the way.
func (pc *PresenceCache) Online(ctx context.Context, scope string) ([]presence.Transition, error) {
	if pc == nil || pc.redis == nil {
		return nil, nil
	}
	members, err := pc.redis.SetMembers(ctx, presenceScopeKey(scope))
	if err != nil {
		return nil, err
	}
	out := make([]presence.Transition, 0, len(members))
	for _, id := range members {
		data, err := pc.redis.Get(ctx, presenceActorKey(id))
		if err != nil {
			return nil, err
		}
		if data == nil {
			_ = pc.redis.SetRemove(ctx, presenceScopeKey(scope), id)
			continue
		}
		var e presenceEntry
		if err := msgpack.Unmarshal(data, &e); err != nil || e.Scope != scope {
			continue
		}
		out = append(out, presence.Transition{ActorID: id, Scope: e.Scope, DisplayName: e.DisplayName, Online: true, At: e.SeenAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out, nil
}
