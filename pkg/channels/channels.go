// Package channels defines realtime channels: named pub/sub topics with
// authorization middleware and presence tracking. Channel definitions may
// be literal names ("lobby") or glob patterns ("room:*"); the first
// registered definition that matches a concrete name wins.
package channels

import (
	"context"
	"path"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
)

// namePattern constrains concrete channel names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9:._-]{1,200}$`)

// lookupCacheSize bounds the concrete-name → definition cache.
const lookupCacheSize = 1024

// SubscriptionMiddleware runs before a channel's authorize during
// subscription, in registration order.
type SubscriptionMiddleware interface {
	Name() string
	RunBefore(ctx context.Context, channelName string, conn *connection.Connection) error
}

// Channel is a channel definition.
type Channel struct {
	// Name is a literal channel name or a glob pattern (path.Match).
	Name        string
	Description string
	Middleware  []SubscriptionMiddleware

	// Authorize decides whether conn may subscribe to channelName. A nil
	// Authorize admits everyone.
	Authorize func(ctx context.Context, channelName string, conn *connection.Connection) (bool, error)

	// PresenceKey derives the cluster-visible membership key for a
	// connection. Nil defaults to the connection id.
	PresenceKey func(conn *connection.Connection) string
}

func (c *Channel) presenceKeyFor(conn *connection.Connection) string {
	if c.PresenceKey != nil {
		return c.PresenceKey(conn)
	}
	return conn.ID
}

// Registry holds channel definitions in registration order.
type Registry struct {
	mu       sync.RWMutex
	channels []*Channel
	cache    *lru.Cache[string, *Channel]
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	cache, _ := lru.New[string, *Channel](lookupCacheSize)
	return &Registry{cache: cache}
}

// Register adds a channel definition.
func (r *Registry) Register(channel *Channel) error {
	if channel == nil || channel.Name == "" {
		return errors.New(errors.KindServerValidation, "channels require a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	r.cache.Purge()
	return nil
}

// Find returns the first registered definition matching name: literal
// equality or glob match. Lookups are cached per concrete name.
func (r *Registry) Find(name string) *Channel {
	if channel, ok := r.cache.Get(name); ok {
		return channel
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, channel := range r.channels {
		if channel.Name == name {
			r.cache.Add(name, channel)
			return channel
		}
		if matched, err := path.Match(channel.Name, name); err == nil && matched {
			r.cache.Add(name, channel)
			return channel
		}
	}
	return nil
}

// ValidateName rejects channel names outside ^[A-Za-z0-9:._-]{1,200}$.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return errors.Newf(errors.KindConnectionChannelValidation,
			"invalid channel name %q", name).WithKey("channel", name)
	}
	return nil
}
