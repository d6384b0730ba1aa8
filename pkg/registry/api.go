package registry

import (
	"sync"
	"time"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/channels"
	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/database"
	"github.com/evantahler/bun-actionhero-sub001/pkg/dispatch"
	"github.com/evantahler/bun-actionhero-sub001/pkg/mcp"
	"github.com/evantahler/bun-actionhero-sub001/pkg/oauth"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/pubsub"
	"github.com/evantahler/bun-actionhero-sub001/pkg/ratelimit"
	"github.com/evantahler/bun-actionhero-sub001/pkg/redisclient"
	"github.com/evantahler/bun-actionhero-sub001/pkg/session"
	"github.com/evantahler/bun-actionhero-sub001/pkg/tasks"
)

// API is the shared surface components populate during initialize and
// consume afterwards. Core subsystems get typed fields; anything a
// component returns from Initialize lands in the namespace map under the
// component's name.
type API struct {
	Config      *config.Config
	Logger      observability.Logger
	Metrics     observability.MetricsClient
	Redis       *redisclient.Client
	DB          *database.Database
	Actions     *actions.Registry
	ChannelDefs *channels.Registry
	Channels    *channels.Manager
	Connections *connection.Manager
	Sessions    *session.Store
	PubSub      *pubsub.PubSub
	RateLimiter *ratelimit.Limiter
	Dispatcher  *dispatch.Dispatcher
	OAuth       *oauth.Server
	MCP         *mcp.Server
	Scheduler   *tasks.Scheduler

	BootedAt time.Time

	mu         sync.RWMutex
	namespaces map[string]any
}

// NewAPI seeds the API with configuration and the process logger.
func NewAPI(cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) *API {
	return &API{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Actions:     actions.NewRegistry(),
		ChannelDefs: channels.NewRegistry(),
		Connections: connection.NewManager(),
		namespaces:  map[string]any{},
	}
}

// SetNamespace publishes a component's initialize result.
func (a *API) SetNamespace(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.namespaces[name] = value
}

// Namespace returns a component's published value.
func (a *API) Namespace(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	value, ok := a.namespaces[name]
	return value, ok
}

// Uptime reports time since the process finished starting.
func (a *API) Uptime() time.Duration {
	if a.BootedAt.IsZero() {
		return 0
	}
	return time.Since(a.BootedAt)
}
