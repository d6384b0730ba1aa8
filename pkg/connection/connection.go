// Package connection models the per-client handle shared by every
// transport: id, identifier, session, subscriptions, and rate-limit state.
package connection

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
	"github.com/evantahler/bun-actionhero-sub001/pkg/session"
)

// Type names the transport that created a connection.
type Type string

const (
	TypeWeb       Type = "web"
	TypeWebsocket Type = "websocket"
	TypeCLI       Type = "cli"
	TypeMCP       Type = "mcp"
	TypeOAuth     Type = "oauth"
	TypeTask      Type = "task"
)

// RateLimitInfo is the limiter verdict for the current request. The HTTP
// layer turns it into X-RateLimit-* and Retry-After headers.
type RateLimitInfo struct {
	Limit      int64 `json:"limit"`
	Remaining  int64 `json:"remaining"`
	ResetAt    int64 `json:"resetAt"`              // unix seconds
	RetryAfter int64 `json:"retryAfter,omitempty"` // seconds; set only when limited
}

// Limited reports whether the request was rejected.
func (i *RateLimitInfo) Limited() bool {
	return i != nil && i.RetryAfter > 0
}

// BroadcastHandler receives pub/sub payloads addressed to a connection.
// Transports that can push frames (websocket) install one; the base handler
// refuses.
type BroadcastHandler interface {
	OnBroadcast(payload map[string]any) error
}

// Broadcaster publishes to the cluster fabric on behalf of a connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, message any, sender string) error
}

type refusingHandler struct{}

func (refusingHandler) OnBroadcast(payload map[string]any) error {
	return errors.New(errors.KindConnectionServerError, "this connection type cannot receive broadcasts")
}

// Connection is the per-client handle.
type Connection struct {
	ID            string
	Type          Type
	Identifier    string // remote IP or synthetic
	CorrelationID string
	Raw           any // opaque transport handle

	mu            sync.RWMutex
	sessionLoaded bool
	session       *session.Session
	subscriptions map[string]struct{}
	rateLimitInfo *RateLimitInfo

	handler     BroadcastHandler
	broadcaster Broadcaster
	sessions    *session.Store

	destroyOnce sync.Once
}

// New creates a connection with a fresh UUID.
func New(connType Type, identifier string, sessions *session.Store, broadcaster Broadcaster) *Connection {
	return &Connection{
		ID:            uuid.New().String(),
		Type:          connType,
		Identifier:    identifier,
		subscriptions: make(map[string]struct{}),
		handler:       refusingHandler{},
		broadcaster:   broadcaster,
		sessions:      sessions,
	}
}

// SetID overrides the generated id (used when a cookie carries an existing
// session id).
func (c *Connection) SetID(id string) { c.ID = id }

// SetBroadcastHandler installs the transport's push capability.
func (c *Connection) SetBroadcastHandler(handler BroadcastHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// OnBroadcast delivers a pub/sub payload through the installed handler.
func (c *Connection) OnBroadcast(payload map[string]any) error {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	return handler.OnBroadcast(payload)
}

// SessionLoaded reports whether the session has been loaded.
func (c *Connection) SessionLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionLoaded
}

// Session returns the loaded session, or nil.
func (c *Connection) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// LoadSession loads or creates the session at most once per connection;
// subsequent calls are no-ops.
func (c *Connection) LoadSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionLoaded {
		return nil
	}
	sess, err := c.sessions.LoadOrCreate(ctx, c.ID)
	if err != nil {
		return err
	}
	c.session = sess
	c.sessionLoaded = true
	return nil
}

// UpdateSession deep-merges partial into the session data and persists it.
func (c *Connection) UpdateSession(ctx context.Context, partial map[string]any) error {
	sess, err := c.sessions.Update(ctx, c.ID, partial)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = sess
	c.sessionLoaded = true
	c.mu.Unlock()
	return nil
}

// Subscribe adds a channel to this process's local view.
func (c *Connection) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[channel] = struct{}{}
}

// Unsubscribe removes a channel from the local view.
func (c *Connection) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, channel)
}

// Subscribed reports local membership.
func (c *Connection) Subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// Subscriptions returns a copy of the local subscription set.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for channel := range c.subscriptions {
		out = append(out, channel)
	}
	return out
}

// SubscriptionCount returns the size of the local subscription set.
func (c *Connection) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

// Broadcast publishes to a channel this connection is subscribed to.
func (c *Connection) Broadcast(ctx context.Context, channel string, message any) error {
	if !c.Subscribed(channel) {
		return errors.Newf(errors.KindConnectionNotSubscribed, "not subscribed to channel %s", channel)
	}
	return c.broadcaster.Broadcast(ctx, channel, message, c.ID)
}

// SetRateLimitInfo stores the limiter verdict for the current request.
func (c *Connection) SetRateLimitInfo(info *RateLimitInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitInfo = info
}

// RateLimitInfo returns the stored limiter verdict, or nil.
func (c *Connection) RateLimitInfo() *RateLimitInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimitInfo
}
