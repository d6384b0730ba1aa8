package components

import (
	"context"
	"time"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/registry"
)

// Version is reported by the status action and the MCP server info.
const Version = "0.1.0"

type coreActionsComponent struct {
	registry.Base
}

func (c *coreActionsComponent) Name() string      { return "core-actions" }
func (c *coreActionsComponent) LoadPriority() int { return 150 }

func (c *coreActionsComponent) Initialize(ctx context.Context, a *registry.API) (any, error) {
	return nil, a.Actions.Register(statusAction(a))
}

// statusAction reports process health: name, env, uptime, and the live
// connection count.
func statusAction(a *registry.API) *actions.Action {
	return &actions.Action{
		Name:        "status",
		Description: "Report process name, uptime, and connection counts",
		Web:         &actions.WebConfig{Method: actions.MethodGet, Route: "/status"},
		MCP:         actions.MCPOptions{Enabled: true},
		Run: func(ctx context.Context, params map[string]any, conn *connection.Connection) (any, error) {
			return map[string]any{
				"name":        a.Config.Process.Name,
				"env":         a.Config.Process.Env,
				"version":     Version,
				"uptimeMs":    a.Uptime().Milliseconds(),
				"connections": a.Connections.Count(),
				"bootedAt":    a.BootedAt.UnixMilli(),
				"now":         time.Now().UnixMilli(),
			}, nil
		},
	}
}
