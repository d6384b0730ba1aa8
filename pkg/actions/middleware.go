package actions

import (
	"context"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
)

// Middleware brackets an action's run. RunBefore hooks execute strictly in
// registration order, then the action runs, then RunAfter hooks execute in
// the same order. Returning the params or response unchanged is the no-op.
type Middleware interface {
	Name() string
	RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (map[string]any, error)
	RunAfter(ctx context.Context, response any, params map[string]any, conn *connection.Connection) (any, error)
}

// MiddlewareFuncs builds a Middleware from optional functions.
type MiddlewareFuncs struct {
	MiddlewareName string
	Before         func(ctx context.Context, params map[string]any, conn *connection.Connection) (map[string]any, error)
	After          func(ctx context.Context, response any, params map[string]any, conn *connection.Connection) (any, error)
}

func (m MiddlewareFuncs) Name() string { return m.MiddlewareName }

func (m MiddlewareFuncs) RunBefore(ctx context.Context, params map[string]any, conn *connection.Connection) (map[string]any, error) {
	if m.Before == nil {
		return params, nil
	}
	return m.Before(ctx, params, conn)
}

func (m MiddlewareFuncs) RunAfter(ctx context.Context, response any, params map[string]any, conn *connection.Connection) (any, error) {
	if m.After == nil {
		return response, nil
	}
	return m.After(ctx, response, params, conn)
}
