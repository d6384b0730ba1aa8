// Package dispatch implements the universal action invocation pipeline.
// Every transport — HTTP, WebSocket, CLI, scheduled tasks, MCP — funnels
// through Dispatch, so validation, session loading, middleware, timeouts,
// and logging behave identically everywhere.
package dispatch

import (
	"context"
	"time"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/params"
)

// Result is the outcome of one dispatch.
type Result struct {
	Response any
	Error    *errors.TypedError
}

// Dispatcher runs the pipeline.
type Dispatcher struct {
	actions *actions.Registry
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a dispatcher.
func New(registry *actions.Registry, logger observability.Logger, metrics observability.MetricsClient) *Dispatcher {
	return &Dispatcher{
		actions: registry,
		logger:  logger.WithPrefix("dispatch"),
		metrics: metrics,
	}
}

// Dispatch invokes actionName for conn with the raw multimap params.
// Pipeline order: lookup, session, validate, before-middleware, run (raced
// against the timeout), after-middleware, classify, log. Exactly one log
// record is written per call.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *connection.Connection, actionName string, raw *params.Params, method, url string) Result {
	start := time.Now()

	response, validated, err := d.run(ctx, conn, actionName, raw)

	typed := classify(err)
	d.record(conn, actionName, validated, typed, method, url, time.Since(start))

	if typed != nil {
		return Result{Error: typed}
	}
	return Result{Response: response}
}

// run executes the pipeline through after-middleware, returning the
// response, the validated-and-sanitized params for logging, and any error.
func (d *Dispatcher) run(ctx context.Context, conn *connection.Connection, actionName string, raw *params.Params) (any, map[string]any, error) {
	if raw == nil {
		raw = params.New()
	}

	action := d.actions.Find(actionName)
	if actionName == "" || action == nil {
		return nil, raw.Map(), errors.Newf(errors.KindConnectionActionNotFound,
			"action %q not found", actionName)
	}

	if !conn.SessionLoaded() {
		if err := conn.LoadSession(ctx); err != nil {
			return nil, nil, errors.Wrap(err, errors.KindConnectionServerError)
		}
	}

	validated, err := action.Inputs.Validate(raw.Map())
	if err != nil {
		return nil, action.Inputs.Sanitize(raw.Map()), err
	}

	for _, mw := range action.Middleware {
		updated, err := mw.RunBefore(ctx, validated, conn)
		if err != nil {
			return nil, action.Inputs.Sanitize(validated), err
		}
		if updated != nil {
			validated = updated
		}
	}

	response, err := d.invoke(ctx, action, validated, conn)
	if err != nil {
		return nil, action.Inputs.Sanitize(validated), err
	}

	for _, mw := range action.Middleware {
		updated, err := mw.RunAfter(ctx, response, validated, conn)
		if err != nil {
			return nil, action.Inputs.Sanitize(validated), err
		}
		response = updated
	}

	return response, action.Inputs.Sanitize(validated), nil
}

// invoke runs the action, racing it against its timeout. On timeout the
// run's context is cancelled before CONNECTION_ACTION_TIMEOUT is raised.
func (d *Dispatcher) invoke(ctx context.Context, action *actions.Action, validated map[string]any, conn *connection.Connection) (any, error) {
	if action.Timeout <= 0 {
		return action.Run(ctx, validated, conn)
	}

	runCtx, cancel := context.WithTimeout(ctx, action.Timeout)
	defer cancel()

	type outcome struct {
		response any
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		response, err := action.Run(runCtx, validated, conn)
		done <- outcome{response, err}
	}()

	select {
	case result := <-done:
		return result.response, result.err
	case <-runCtx.Done():
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errors.Newf(errors.KindConnectionActionTimeout,
				"action %s timed out after %s", action.Name, action.Timeout)
		}
		return nil, errors.Wrap(runCtx.Err(), errors.KindConnectionActionRun)
	}
}

// classify wraps non-typed failures as CONNECTION_ACTION_RUN.
func classify(err error) *errors.TypedError {
	if err == nil {
		return nil
	}
	if typed := errors.AsTyped(err); typed != nil {
		return typed
	}
	return errors.Wrap(err, errors.KindConnectionActionRun)
}

func (d *Dispatcher) record(conn *connection.Connection, actionName string, sanitized map[string]any, typed *errors.TypedError, method, url string, duration time.Duration) {
	status := "OK"
	if typed != nil {
		status = "ERROR"
	}

	fields := map[string]interface{}{
		"action":     actionName,
		"type":       string(conn.Type),
		"status":     status,
		"durationMs": duration.Milliseconds(),
		"identifier": conn.Identifier,
		"params":     sanitized,
	}
	if method != "" {
		fields["method"] = method
	}
	if url != "" {
		fields["url"] = url
	}
	if conn.CorrelationID != "" {
		fields["correlationId"] = conn.CorrelationID
	}
	if typed != nil {
		fields["error"] = typed.Error()
	}

	d.logger.Info("action", fields)
	d.metrics.IncrementCounterWithLabels("action_dispatches_total", 1, map[string]string{
		"action": actionName,
		"status": status,
	})
	d.metrics.RecordDuration("action_duration_seconds", duration.Seconds())
}
