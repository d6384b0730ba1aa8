// Package components wires the framework subsystems into the lifecycle
// kernel. Applications register these before their own components; the
// load/start/stop priorities encode the dependency order (Redis before
// everything that stores state in it, the web server first to stop).
package components

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub001/internal/api"
	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/channels"
	"github.com/evantahler/bun-actionhero-sub001/pkg/database"
	"github.com/evantahler/bun-actionhero-sub001/pkg/dispatch"
	"github.com/evantahler/bun-actionhero-sub001/pkg/mcp"
	"github.com/evantahler/bun-actionhero-sub001/pkg/oauth"
	"github.com/evantahler/bun-actionhero-sub001/pkg/pubsub"
	"github.com/evantahler/bun-actionhero-sub001/pkg/ratelimit"
	"github.com/evantahler/bun-actionhero-sub001/pkg/redisclient"
	"github.com/evantahler/bun-actionhero-sub001/pkg/registry"
	"github.com/evantahler/bun-actionhero-sub001/pkg/session"
	"github.com/evantahler/bun-actionhero-sub001/pkg/tasks"
)

// Builtin returns the framework components in registration order.
func Builtin() []registry.Component {
	return []registry.Component{
		&redisComponent{},
		&databaseComponent{},
		&sessionComponent{},
		&dispatchComponent{},
		&rateLimitComponent{},
		&pubsubComponent{},
		&channelsComponent{},
		&oauthComponent{},
		&mcpComponent{},
		&coreActionsComponent{},
		&webComponent{},
		&tasksComponent{},
	}
}

type redisComponent struct {
	registry.Base
}

func (c *redisComponent) Name() string      { return "redis" }
func (c *redisComponent) LoadPriority() int { return 100 }
func (c *redisComponent) StopPriority() int { return 900 } // close after every consumer

func (c *redisComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	client, err := redisclient.New(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	a.Redis = client
	return nil, nil
}

func (c *redisComponent) Stop(ctx context.Context, a *registry.API) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Close()
}

type databaseComponent struct {
	registry.Base
}

func (c *databaseComponent) Name() string      { return "database" }
func (c *databaseComponent) LoadPriority() int { return 110 }
func (c *databaseComponent) StopPriority() int { return 890 }

func (c *databaseComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	if !a.Config.Database.AutoConnect {
		return nil, nil
	}
	db, err := database.Connect(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	return nil, nil
}

func (c *databaseComponent) Stop(ctx context.Context, a *registry.API) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

type sessionComponent struct {
	registry.Base
}

func (c *sessionComponent) Name() string      { return "sessions" }
func (c *sessionComponent) LoadPriority() int { return 200 }

func (c *sessionComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	a.Sessions = session.NewStore(a.Redis.Commands(), a.Config.Session.CookieName, a.Config.Session.TTL)
	return nil, nil
}

type dispatchComponent struct {
	registry.Base
}

func (c *dispatchComponent) Name() string      { return "dispatcher" }
func (c *dispatchComponent) LoadPriority() int { return 250 }

func (c *dispatchComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	a.Dispatcher = dispatch.New(a.Actions, a.Logger, a.Metrics)
	return nil, nil
}

type rateLimitComponent struct {
	registry.Base
}

func (c *rateLimitComponent) Name() string      { return "ratelimit" }
func (c *rateLimitComponent) LoadPriority() int { return 260 }

// Initialize installs the limiter middleware at the head of every
// registered action's chain, so the verdict exists before any other
// before-hook runs.
func (c *rateLimitComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	a.RateLimiter = ratelimit.New(a.Redis.Commands(), a.Config.RateLimit)
	if !a.Config.RateLimit.Enabled {
		return nil, nil
	}
	mw := a.RateLimiter.Middleware()
	for _, action := range a.Actions.All() {
		action.Middleware = append([]actions.Middleware{mw}, action.Middleware...)
	}
	return nil, nil
}

type pubsubComponent struct {
	registry.Base
}

func (c *pubsubComponent) Name() string       { return "pubsub" }
func (c *pubsubComponent) LoadPriority() int  { return 300 }
func (c *pubsubComponent) StartPriority() int { return 100 }
func (c *pubsubComponent) StopPriority() int  { return 80 }

func (c *pubsubComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	a.PubSub = pubsub.New(a.Redis, a.Connections, a.Config.BroadcastChannel(),
		a.Config.Channels.PresenceTTL, a.Logger, a.Metrics)
	return nil, nil
}

func (c *pubsubComponent) Start(ctx context.Context, a *registry.API) error {
	return a.PubSub.Start(ctx)
}

func (c *pubsubComponent) Stop(ctx context.Context, a *registry.API) error {
	return a.PubSub.Stop(ctx)
}

type channelsComponent struct {
	registry.Base
}

func (c *channelsComponent) Name() string       { return "channels" }
func (c *channelsComponent) LoadPriority() int  { return 310 }
func (c *channelsComponent) StartPriority() int { return 110 }
func (c *channelsComponent) StopPriority() int  { return 70 }

func (c *channelsComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	a.Channels = channels.NewManager(a.ChannelDefs, a.PubSub, a.Connections,
		a.Config.Channels.HeartbeatInterval, a.Logger)
	return nil, nil
}

func (c *channelsComponent) Start(ctx context.Context, a *registry.API) error {
	return a.Channels.Start(ctx)
}

func (c *channelsComponent) Stop(ctx context.Context, a *registry.API) error {
	return a.Channels.Stop(ctx)
}

type oauthComponent struct {
	registry.Base
}

func (c *oauthComponent) Name() string      { return "oauth" }
func (c *oauthComponent) LoadPriority() int { return 400 }

func (c *oauthComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	if !a.Config.Server.OAuth.Enabled {
		return nil, nil
	}
	a.OAuth = oauth.NewServer(a.Redis.Commands(), a.Config.Server.OAuth.TokenTTL,
		a.Config.Server.OAuth.Issuer, a.Config.Process.Name,
		a.Actions, a.Dispatcher, a.Sessions, a.Logger)
	return nil, nil
}

type mcpComponent struct {
	registry.Base
}

func (c *mcpComponent) Name() string      { return "mcp" }
func (c *mcpComponent) LoadPriority() int { return 410 }

func (c *mcpComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	if !a.Config.Server.MCP.Enabled || a.OAuth == nil {
		return nil, nil
	}
	a.MCP = mcp.NewServer(a.Actions, a.Dispatcher, a.Sessions, a.OAuth,
		a.Config.Process.Name, Version, a.Logger)
	return nil, nil
}

type webComponent struct {
	registry.Base

	server *api.Server
}

func (c *webComponent) Name() string        { return "web" }
func (c *webComponent) StartPriority() int  { return 500 }
func (c *webComponent) StopPriority() int   { return 50 } // first to stop
func (c *webComponent) RunModes() []registry.RunMode {
	return []registry.RunMode{registry.ModeServer}
}

func (c *webComponent) Start(ctx context.Context, a *registry.API) error {
	if !a.Config.Server.Web.Enabled {
		return nil
	}
	c.server = api.NewServer(a)
	return c.server.Start(ctx)
}

func (c *webComponent) Stop(ctx context.Context, a *registry.API) error {
	if c.server == nil {
		return nil
	}
	return c.server.Stop(ctx)
}

type tasksComponent struct {
	registry.Base
}

func (c *tasksComponent) Name() string       { return "tasks" }
func (c *tasksComponent) LoadPriority() int  { return 420 }
func (c *tasksComponent) StartPriority() int { return 600 }
func (c *tasksComponent) StopPriority() int  { return 60 }
func (c *tasksComponent) RunModes() []registry.RunMode {
	return []registry.RunMode{registry.ModeServer}
}

func (c *tasksComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	a.Scheduler = tasks.New(a.Actions, a.Dispatcher, a.Sessions, nil, a.Logger)
	return nil, nil
}

func (c *tasksComponent) Start(ctx context.Context, a *registry.API) error {
	if !a.Config.Tasks.Enabled {
		return nil
	}
	return a.Scheduler.Start(ctx)
}

func (c *tasksComponent) Stop(ctx context.Context, a *registry.API) error {
	if a.Scheduler == nil {
		return nil
	}
	return a.Scheduler.Stop(ctx)
}
