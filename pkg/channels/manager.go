package channels

import (
	"context"
	"sync"
	"time"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/pubsub"
)

// Manager orchestrates the subscribe protocol: name validation,
// authorization, the local subscription set, cluster presence, and join /
// leave events. It also owns the presence heartbeat.
type Manager struct {
	registry    *Registry
	fabric      *pubsub.PubSub
	connections *connection.Manager
	logger      observability.Logger

	heartbeatInterval time.Duration
	cancel            context.CancelFunc
	wg                sync.WaitGroup
}

// NewManager creates a channel manager.
func NewManager(registry *Registry, fabric *pubsub.PubSub, connections *connection.Manager, heartbeatInterval time.Duration, logger observability.Logger) *Manager {
	return &Manager{
		registry:          registry,
		fabric:            fabric,
		connections:       connections,
		logger:            logger.WithPrefix("channels"),
		heartbeatInterval: heartbeatInterval,
	}
}

// Registry returns the underlying channel registry.
func (m *Manager) Registry() *Registry { return m.registry }

// AuthorizeSubscription validates a subscription attempt: the channel must
// be known, every middleware RunBefore must pass, then the channel's
// authorize must admit the connection.
func (m *Manager) AuthorizeSubscription(ctx context.Context, channelName string, conn *connection.Connection) (*Channel, error) {
	channel := m.registry.Find(channelName)
	if channel == nil {
		return nil, errors.Newf(errors.KindConnectionChannelAuthorization,
			"unknown channel %q", channelName).WithKey("channel", channelName)
	}

	for _, mw := range channel.Middleware {
		if err := mw.RunBefore(ctx, channelName, conn); err != nil {
			return nil, err
		}
	}

	if channel.Authorize != nil {
		ok, err := channel.Authorize(ctx, channelName, conn)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Newf(errors.KindConnectionChannelAuthorization,
				"not authorized for channel %q", channelName).WithKey("channel", channelName)
		}
	}

	return channel, nil
}

// Subscribe runs the full subscribe protocol for conn. On success the
// connection's local set contains the channel, the cluster presence
// reflects it, and — when this was the presence key's first appearance —
// a join event has been broadcast.
func (m *Manager) Subscribe(ctx context.Context, channelName string, conn *connection.Connection) error {
	if err := ValidateName(channelName); err != nil {
		return err
	}

	channel, err := m.AuthorizeSubscription(ctx, channelName, conn)
	if err != nil {
		return err
	}

	conn.Subscribe(channelName)

	presenceKey := channel.presenceKeyFor(conn)
	joined, err := m.fabric.Presence().Add(ctx, channelName, presenceKey, conn.ID)
	if err != nil {
		conn.Unsubscribe(channelName)
		return errors.Wrap(err, errors.KindConnectionServerError)
	}

	if joined {
		if err := m.fabric.Broadcast(ctx, channelName, map[string]any{
			"event":       "join",
			"presenceKey": presenceKey,
		}, conn.ID); err != nil {
			m.logger.Warn("failed to broadcast join event", map[string]interface{}{
				"channel": channelName,
				"error":   err.Error(),
			})
		}
	}

	return nil
}

// Unsubscribe removes conn from a channel locally and in cluster presence,
// broadcasting a leave event when the presence key empties.
func (m *Manager) Unsubscribe(ctx context.Context, channelName string, conn *connection.Connection) error {
	if err := ValidateName(channelName); err != nil {
		return err
	}
	if !conn.Subscribed(channelName) {
		return errors.Newf(errors.KindConnectionNotSubscribed,
			"not subscribed to channel %q", channelName).WithKey("channel", channelName)
	}

	conn.Unsubscribe(channelName)
	return m.removePresence(ctx, channelName, conn)
}

// Disconnect removes presence for every channel conn still holds. Callers
// destroy the connection afterwards.
func (m *Manager) Disconnect(ctx context.Context, conn *connection.Connection) {
	for _, channelName := range conn.Subscriptions() {
		conn.Unsubscribe(channelName)
		if err := m.removePresence(ctx, channelName, conn); err != nil {
			m.logger.Warn("failed to remove presence on disconnect", map[string]interface{}{
				"connection": conn.ID,
				"channel":    channelName,
				"error":      err.Error(),
			})
		}
	}
}

func (m *Manager) removePresence(ctx context.Context, channelName string, conn *connection.Connection) error {
	channel := m.registry.Find(channelName)
	if channel == nil {
		return nil
	}
	presenceKey := channel.presenceKeyFor(conn)

	left, err := m.fabric.Presence().Remove(ctx, channelName, presenceKey, conn.ID)
	if err != nil {
		return errors.Wrap(err, errors.KindConnectionServerError)
	}
	if left {
		if err := m.fabric.Broadcast(ctx, channelName, map[string]any{
			"event":       "leave",
			"presenceKey": presenceKey,
		}, conn.ID); err != nil {
			m.logger.Warn("failed to broadcast leave event", map[string]interface{}{
				"channel": channelName,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

// Members returns the distinct presence keys on a channel across the
// cluster.
func (m *Manager) Members(ctx context.Context, channelName string) ([]string, error) {
	return m.fabric.Presence().Members(ctx, channelName)
}

// Start launches the presence heartbeat: every interval it walks the local
// connections and refreshes the TTL for each held (channel, presenceKey)
// pair. The presence TTL must exceed the interval by at least 2x (enforced
// by config validation) so one missed beat is survivable.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.heartbeat(runCtx)
			}
		}
	}()
	return nil
}

// Stop halts the heartbeat.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) heartbeat(ctx context.Context) {
	// Refresh each (channel, presenceKey) pair once even when several local
	// connections hold it.
	seen := make(map[string]struct{})
	for _, conn := range m.connections.Snapshot() {
		for _, channelName := range conn.Subscriptions() {
			channel := m.registry.Find(channelName)
			if channel == nil {
				continue
			}
			presenceKey := channel.presenceKeyFor(conn)
			pair := channelName + "\x00" + presenceKey
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}

			if err := m.fabric.Presence().Refresh(ctx, channelName, presenceKey); err != nil {
				m.logger.Warn("presence refresh failed", map[string]interface{}{
					"channel":     channelName,
					"presenceKey": presenceKey,
					"error":       err.Error(),
				})
			}
		}
	}
}
