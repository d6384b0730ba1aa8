package pubsub

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence tracks cluster-wide channel membership in Redis. For each live
// (channel, presenceKey) pair there are two set-valued keys:
//
//	presence:{channel}:{presenceKey}  connection ids holding the key
//	presence:{channel}                distinct presence keys on the channel
//
// Both carry the same TTL and are refreshed by the heartbeat. The add and
// remove operations are server-side scripts so the membership test and the
// two set updates cannot interleave with another writer: join and leave
// transitions are observed exactly once.
type Presence struct {
	redis *redis.Client
	ttl   time.Duration

	addScript     *redis.Script
	removeScript  *redis.Script
	refreshScript *redis.Script
}

// addSource adds the connection id to the per-key set and, only when that
// set was empty before the call, adds the presence key to the channel set.
// Returns 1 when this was the key's first appearance.
const addSource = `
local before = redis.call("scard", KEYS[1])
redis.call("sadd", KEYS[1], ARGV[1])
redis.call("pexpire", KEYS[1], ARGV[2])
local first = 0
if before == 0 then
  redis.call("sadd", KEYS[2], ARGV[3])
  first = 1
end
redis.call("pexpire", KEYS[2], ARGV[2])
return first
`

// removeSource is the dual: remove the connection id and, when the per-key
// set becomes empty, remove the presence key from the channel set. Returns
// 1 only when this call emptied the set, so a repeated remove cannot fire a
// second leave event.
const removeSource = `
local removed = redis.call("srem", KEYS[1], ARGV[1])
local last = 0
if removed == 1 and redis.call("scard", KEYS[1]) == 0 then
  redis.call("srem", KEYS[2], ARGV[2])
  last = 1
end
return last
`

// refreshSource extends both TTLs without touching membership.
const refreshSource = `
redis.call("pexpire", KEYS[1], ARGV[1])
redis.call("pexpire", KEYS[2], ARGV[1])
return 1
`

func newPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{
		redis:         client,
		ttl:           ttl,
		addScript:     redis.NewScript(addSource),
		removeScript:  redis.NewScript(removeSource),
		refreshScript: redis.NewScript(refreshSource),
	}
}

func memberKey(channel, presenceKey string) string {
	return "presence:" + channel + ":" + presenceKey
}

func channelKey(channel string) string {
	return "presence:" + channel
}

// Add records connID under (channel, presenceKey). The returned bool is
// true when the key made its empty→non-empty transition, which is the one
// moment a join event should be broadcast.
func (p *Presence) Add(ctx context.Context, channel, presenceKey, connID string) (bool, error) {
	keys := []string{memberKey(channel, presenceKey), channelKey(channel)}
	result, err := p.addScript.Run(ctx, p.redis, keys, connID, p.ttl.Milliseconds(), presenceKey).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// Remove drops connID from (channel, presenceKey). The returned bool is
// true when the key made its non-empty→empty transition (emit a leave
// event exactly then).
func (p *Presence) Remove(ctx context.Context, channel, presenceKey, connID string) (bool, error) {
	keys := []string{memberKey(channel, presenceKey), channelKey(channel)}
	result, err := p.removeScript.Run(ctx, p.redis, keys, connID, presenceKey).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// Refresh extends the TTL on both presence keys for a held pair. Keys that
// stop being refreshed expire naturally, so a crashed host cannot wedge
// membership.
func (p *Presence) Refresh(ctx context.Context, channel, presenceKey string) error {
	keys := []string{memberKey(channel, presenceKey), channelKey(channel)}
	return p.refreshScript.Run(ctx, p.redis, keys, p.ttl.Milliseconds()).Err()
}

// Members returns the distinct presence keys currently on a channel across
// the cluster.
func (p *Presence) Members(ctx context.Context, channel string) ([]string, error) {
	return p.redis.SMembers(ctx, channelKey(channel)).Result()
}
