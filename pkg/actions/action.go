// Package actions defines the Action type, its input schema, and the
// process-wide action registry. An action is one named unit of work with a
// declared input schema, optional middleware, an optional HTTP route, an
// optional scheduled frequency, and an implementation function — invocable
// identically over HTTP, WebSocket, CLI, tasks, and MCP.
package actions

import (
	"context"
	"time"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
)

// HTTPMethod is the verb an action's web route answers to.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodPatch   HTTPMethod = "PATCH"
	MethodDelete  HTTPMethod = "DELETE"
	MethodOptions HTTPMethod = "OPTIONS"
	MethodHead    HTTPMethod = "HEAD"
)

// WebConfig binds an action to an HTTP route. Route may be a literal path
// or a pattern with :name captures ("/user/:id").
type WebConfig struct {
	Method HTTPMethod
	Route  string
}

// TaskConfig schedules an action to run periodically in SERVER mode. Queue
// names the destination for the external queue collaborator.
type TaskConfig struct {
	Frequency time.Duration
	Queue     string
}

// MCPOptions controls how an action is exposed over the MCP endpoint.
type MCPOptions struct {
	Enabled        bool
	IsLoginAction  bool
	IsSignupAction bool
}

// RunFunc is an action implementation. The context is the cancellation
// token: it is cancelled when the action's timeout fires, and long-running
// I/O must respect it.
type RunFunc func(ctx context.Context, params map[string]any, conn *connection.Connection) (any, error)

// Action is a named, schema-validated unit of work. Actions are registered
// during initialize and immutable thereafter.
type Action struct {
	Name        string
	Description string
	Inputs      Inputs
	Middleware  []Middleware
	Web         *WebConfig
	Task        *TaskConfig
	Timeout     time.Duration // 0 disables the per-call timeout
	MCP         MCPOptions
	Run         RunFunc
}
