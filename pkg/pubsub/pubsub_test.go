package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/redisclient"
)

type capturingHandler struct {
	mu       sync.Mutex
	payloads []map[string]any
	received chan struct{}
}

func newCapturingHandler() *capturingHandler {
	return &capturingHandler{received: make(chan struct{}, 16)}
}

func (h *capturingHandler) OnBroadcast(payload map[string]any) error {
	h.mu.Lock()
	h.payloads = append(h.payloads, payload)
	h.mu.Unlock()
	h.received <- struct{}{}
	return nil
}

func (h *capturingHandler) all() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, len(h.payloads))
	copy(out, h.payloads)
	return out
}

func newTestFabric(t *testing.T) (*PubSub, *connection.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	commands := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr(), ReadTimeout: -1})
	t.Cleanup(func() {
		_ = commands.Close()
		_ = subscriber.Close()
	})

	connections := connection.NewManager()
	fabric := New(redisclient.NewFromClients(commands, subscriber), connections,
		"test:broadcast", 90*time.Second, observability.NewNoopLogger(), observability.NewNoopMetrics())
	return fabric, connections
}

func waitFor(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestBroadcastReachesSubscribedConnections(t *testing.T) {
	fabric, connections := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, fabric.Start(ctx))
	t.Cleanup(func() { _ = fabric.Stop(ctx) })

	subscribed := connection.New(connection.TypeWebsocket, "a", nil, fabric)
	subscribed.Subscribe("chat")
	handler := newCapturingHandler()
	subscribed.SetBroadcastHandler(handler)
	connections.Register(subscribed)

	other := connection.New(connection.TypeWebsocket, "b", nil, fabric)
	otherHandler := newCapturingHandler()
	other.SetBroadcastHandler(otherHandler)
	connections.Register(other)

	// Subscription setup races the first delivery only if we publish
	// immediately; give the subscriber a beat to attach.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, fabric.Broadcast(ctx, "chat", map[string]any{"text": "hello"}, "sender-1"))
	waitFor(t, handler.received)

	payloads := handler.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, "chat", payloads[0]["channel"])
	assert.Equal(t, "sender-1", payloads[0]["sender"])
	assert.Equal(t, map[string]any{"text": "hello"}, payloads[0]["message"])

	assert.Empty(t, otherHandler.all(), "unsubscribed connections receive nothing")
}

func TestDestroyedConnectionReceivesNothing(t *testing.T) {
	fabric, connections := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, fabric.Start(ctx))
	t.Cleanup(func() { _ = fabric.Stop(ctx) })

	conn := connection.New(connection.TypeWebsocket, "a", nil, fabric)
	conn.Subscribe("chat")
	handler := newCapturingHandler()
	conn.SetBroadcastHandler(handler)
	connections.Register(conn)

	survivor := connection.New(connection.TypeWebsocket, "b", nil, fabric)
	survivor.Subscribe("chat")
	survivorHandler := newCapturingHandler()
	survivor.SetBroadcastHandler(survivorHandler)
	connections.Register(survivor)

	time.Sleep(50 * time.Millisecond)
	connections.Destroy(conn)

	require.NoError(t, fabric.Broadcast(ctx, "chat", "after-destroy", "sender"))
	waitFor(t, survivorHandler.received)

	assert.Empty(t, handler.all(), "no delivery after destroy")
}

func TestMalformedPayloadIsDiscarded(t *testing.T) {
	fabric, connections := newTestFabric(t)
	ctx := context.Background()

	require.NoError(t, fabric.Start(ctx))
	t.Cleanup(func() { _ = fabric.Stop(ctx) })

	conn := connection.New(connection.TypeWebsocket, "a", nil, fabric)
	conn.Subscribe("chat")
	handler := newCapturingHandler()
	conn.SetBroadcastHandler(handler)
	connections.Register(conn)

	time.Sleep(50 * time.Millisecond)

	// Raw garbage on the wire must not panic the loop or reach handlers.
	require.NoError(t, fabric.redis.Commands().Publish(ctx, "test:broadcast", "{not json").Err())
	require.NoError(t, fabric.Broadcast(ctx, "chat", "real", "sender"))
	waitFor(t, handler.received)

	payloads := handler.all()
	require.Len(t, payloads, 1)
	assert.Equal(t, "real", payloads[0]["message"])
}
