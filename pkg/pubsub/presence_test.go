package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresence(t *testing.T) (*Presence, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newPresence(client, 90*time.Second), mr
}

func TestJoinFiresOnlyOnEmptyToNonEmpty(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	joined, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)
	assert.True(t, joined, "first connection for a presence key is the join")

	joined, err = p.Add(ctx, "chat", "user-1", "conn-b")
	require.NoError(t, err)
	assert.False(t, joined, "a second connection holding the same key is not a join")

	members, err := p.Members(ctx, "chat")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, members)
}

func TestLeaveFiresOnlyOnNonEmptyToEmpty(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	_, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)
	_, err = p.Add(ctx, "chat", "user-1", "conn-b")
	require.NoError(t, err)

	left, err := p.Remove(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)
	assert.False(t, left, "key still held by conn-b")

	left, err = p.Remove(ctx, "chat", "user-1", "conn-b")
	require.NoError(t, err)
	assert.True(t, left, "last connection out is the leave")

	members, err := p.Members(ctx, "chat")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRepeatedRemoveCannotDoubleFire(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	_, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)

	left, err := p.Remove(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)
	assert.True(t, left)

	left, err = p.Remove(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)
	assert.False(t, left, "removing an absent member must not fire a second leave")
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	joined, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = p.Add(ctx, "chat", "user-2", "conn-b")
	require.NoError(t, err)
	assert.True(t, joined, "a different presence key joins independently")

	members, err := p.Members(ctx, "chat")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, members)
}

func TestPresenceKeysCarryTTL(t *testing.T) {
	p, mr := newTestPresence(t)
	ctx := context.Background()

	_, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, mr.TTL("presence:chat:user-1"))
	assert.Equal(t, 90*time.Second, mr.TTL("presence:chat"))
}

func TestRefreshExtendsTTL(t *testing.T) {
	p, mr := newTestPresence(t)
	ctx := context.Background()

	_, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)

	mr.SetTTL("presence:chat:user-1", time.Second)
	mr.SetTTL("presence:chat", time.Second)

	require.NoError(t, p.Refresh(ctx, "chat", "user-1"))
	assert.Equal(t, 90*time.Second, mr.TTL("presence:chat:user-1"))
	assert.Equal(t, 90*time.Second, mr.TTL("presence:chat"))
}

func TestExpiryRemovesMembership(t *testing.T) {
	p, mr := newTestPresence(t)
	ctx := context.Background()

	_, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	members, err := p.Members(ctx, "chat")
	require.NoError(t, err)
	assert.Empty(t, members)

	// The key reappearing after expiry is a fresh join.
	joined, err := p.Add(ctx, "chat", "user-1", "conn-a")
	require.NoError(t, err)
	assert.True(t, joined)
}
