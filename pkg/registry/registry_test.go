package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
)

type stubComponent struct {
	Base
	name          string
	loadPriority  int
	startPriority int
	stopPriority  int
	modes         []RunMode
	namespace     any

	events        *[]string
	initializeErr error
	startErr      error
	stopErr       error
}

func (c *stubComponent) Name() string { return c.name }

func (c *stubComponent) LoadPriority() int {
	if c.loadPriority != 0 {
		return c.loadPriority
	}
	return c.Base.LoadPriority()
}

func (c *stubComponent) StartPriority() int {
	if c.startPriority != 0 {
		return c.startPriority
	}
	return c.Base.StartPriority()
}

func (c *stubComponent) StopPriority() int {
	if c.stopPriority != 0 {
		return c.stopPriority
	}
	return c.Base.StopPriority()
}

func (c *stubComponent) RunModes() []RunMode {
	if c.modes != nil {
		return c.modes
	}
	return c.Base.RunModes()
}

func (c *stubComponent) Initialize(ctx context.Context, api *API) (any, error) {
	*c.events = append(*c.events, "init:"+c.name)
	return c.namespace, c.initializeErr
}

func (c *stubComponent) Start(ctx context.Context, api *API) error {
	*c.events = append(*c.events, "start:"+c.name)
	return c.startErr
}

func (c *stubComponent) Stop(ctx context.Context, api *API) error {
	*c.events = append(*c.events, "stop:"+c.name)
	return c.stopErr
}

func newTestProcess(t *testing.T) (*Process, *[]string) {
	t.Helper()
	api := NewAPI(&config.Config{}, observability.NewNoopLogger(), observability.NewNoopMetrics())
	events := &[]string{}
	return NewProcess(api), events
}

func TestPhasesRunInPriorityOrder(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(
		&stubComponent{name: "web", loadPriority: 300, startPriority: 500, stopPriority: 50, events: events},
		&stubComponent{name: "redis", loadPriority: 100, startPriority: 100, stopPriority: 900, events: events},
		&stubComponent{name: "sessions", loadPriority: 200, startPriority: 200, stopPriority: 400, events: events},
	))
	ctx := context.Background()

	require.NoError(t, process.Start(ctx, ModeServer))
	require.NoError(t, process.Stop(ctx))

	assert.Equal(t, []string{
		"init:redis", "init:sessions", "init:web",
		"start:redis", "start:sessions", "start:web",
		"stop:web", "stop:sessions", "stop:redis",
	}, *events)
}

func TestStartSkipsComponentsOutsideRunMode(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(
		&stubComponent{name: "web", modes: []RunMode{ModeServer}, events: events},
		&stubComponent{name: "shared", events: events},
	))

	require.NoError(t, process.Start(context.Background(), ModeCLI))

	assert.Contains(t, *events, "init:web") // initialize always runs
	assert.Contains(t, *events, "start:shared")
	assert.NotContains(t, *events, "start:web")
}

func TestInitializeRunsOncePerComponent(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(&stubComponent{name: "redis", events: events}))
	ctx := context.Background()

	require.NoError(t, process.Initialize(ctx))
	require.NoError(t, process.Initialize(ctx))
	require.NoError(t, process.Start(ctx, ModeServer))

	var inits int
	for _, event := range *events {
		if event == "init:redis" {
			inits++
		}
	}
	assert.Equal(t, 1, inits)
}

func TestInitializePublishesNamespace(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(
		&stubComponent{name: "cache", namespace: map[string]any{"size": 10}, events: events},
		&stubComponent{name: "silent", events: events},
	))

	require.NoError(t, process.Initialize(context.Background()))

	value, ok := process.API().Namespace("cache")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"size": 10}, value)

	_, ok = process.API().Namespace("silent")
	assert.False(t, ok, "nil initialize results are not published")
}

func TestRegisterRejectsDuplicateAndUnnamed(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(&stubComponent{name: "redis", events: events}))

	err := process.Register(&stubComponent{name: "redis", events: events})
	require.Error(t, err)
	assert.Equal(t, errors.KindInitializerValidation, errors.AsTyped(err).Kind)

	err = process.Register(&stubComponent{events: events})
	require.Error(t, err)
	assert.Equal(t, errors.KindInitializerValidation, errors.AsTyped(err).Kind)
}

func TestInitializeAbortsPhaseOnFailure(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(
		&stubComponent{name: "first", loadPriority: 10, events: events},
		&stubComponent{name: "broken", loadPriority: 20, events: events,
			initializeErr: errors.New(errors.KindConfigError, "bad config")},
		&stubComponent{name: "last", loadPriority: 30, events: events},
	))

	err := process.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindConfigError, errors.AsTyped(err).Kind, "the cause's kind survives wrapping")
	assert.NotContains(t, *events, "init:last")
}

func TestStartAbortsPhaseOnFailure(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(
		&stubComponent{name: "broken", startPriority: 10, events: events,
			startErr: assertableError("listen failed")},
		&stubComponent{name: "last", startPriority: 20, events: events},
	))

	err := process.Start(context.Background(), ModeServer)
	require.Error(t, err)
	assert.Equal(t, errors.KindServerStart, errors.AsTyped(err).Kind)
	assert.Contains(t, err.Error(), "broken")
	assert.NotContains(t, *events, "start:last")
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(&stubComponent{name: "redis", events: events}))

	require.NoError(t, process.Stop(context.Background()))
	assert.Empty(t, *events)
}

func TestStopIsIdempotent(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(&stubComponent{name: "redis", events: events}))
	ctx := context.Background()

	require.NoError(t, process.Start(ctx, ModeServer))
	require.NoError(t, process.Stop(ctx))
	require.NoError(t, process.Stop(ctx))

	var stops int
	for _, event := range *events {
		if event == "stop:redis" {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestStopFailureWrapsWithServerStop(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(&stubComponent{name: "redis", events: events,
		stopErr: assertableError("close failed")}))
	ctx := context.Background()

	require.NoError(t, process.Start(ctx, ModeServer))
	err := process.Stop(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.KindServerStop, errors.AsTyped(err).Kind)
}

func TestRestartCyclesComponents(t *testing.T) {
	process, events := newTestProcess(t)
	require.NoError(t, process.Register(&stubComponent{name: "redis", events: events}))
	ctx := context.Background()

	require.NoError(t, process.Start(ctx, ModeServer))
	before := process.API().BootedAt
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, process.Restart(ctx, ModeServer))
	assert.Equal(t, []string{"init:redis", "start:redis", "stop:redis", "start:redis"}, *events)
	assert.True(t, process.API().BootedAt.After(before))
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
