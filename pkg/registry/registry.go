// Package registry is the lifecycle kernel: components register with
// numeric priorities and the process runs them through initialize, start,
// and stop phases in order. A failed component aborts its phase; nothing
// after it is advanced.
package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
)

// swapped in tests
var nowFunc = time.Now

// RunMode selects which components participate in start.
type RunMode string

const (
	ModeServer RunMode = "server"
	ModeCLI    RunMode = "cli"
)

// Component is a lifecycle participant. Initialize may return a value to
// publish under the component's name in the API namespace map.
type Component interface {
	Name() string
	LoadPriority() int
	StartPriority() int
	StopPriority() int
	RunModes() []RunMode
	Initialize(ctx context.Context, api *API) (any, error)
	Start(ctx context.Context, api *API) error
	Stop(ctx context.Context, api *API) error
}

// Base provides default priorities and no-op phases; embed it and override
// what the component needs.
type Base struct{}

func (Base) LoadPriority() int  { return 100 }
func (Base) StartPriority() int { return 100 }
func (Base) StopPriority() int  { return 100 }
func (Base) RunModes() []RunMode {
	return []RunMode{ModeServer, ModeCLI}
}
func (Base) Initialize(ctx context.Context, api *API) (any, error) { return nil, nil }
func (Base) Start(ctx context.Context, api *API) error             { return nil }
func (Base) Stop(ctx context.Context, api *API) error              { return nil }

// Process orchestrates the component lifecycle.
type Process struct {
	api        *API
	components []Component

	mu          sync.Mutex
	initialized map[string]bool
	started     bool
	restarting  atomic.Bool
}

// NewProcess creates a process around a seeded API.
func NewProcess(api *API) *Process {
	return &Process{
		api:         api,
		initialized: map[string]bool{},
	}
}

// API exposes the shared surface.
func (p *Process) API() *API {
	return p.api
}

// Register adds components. Registration happens before Initialize;
// ordering here is irrelevant, priorities decide.
func (p *Process) Register(components ...Component) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := map[string]bool{}
	for _, existing := range p.components {
		seen[existing.Name()] = true
	}
	for _, component := range components {
		if component.Name() == "" {
			return errors.New(errors.KindInitializerValidation, "component name is required")
		}
		if seen[component.Name()] {
			return errors.Newf(errors.KindInitializerValidation, "duplicate component name %q", component.Name())
		}
		seen[component.Name()] = true
		p.components = append(p.components, component)
	}
	return nil
}

// Initialize runs every component's Initialize in ascending load priority,
// once each, publishing any returned namespace value.
func (p *Process) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initializeLocked(ctx)
}

func (p *Process) initializeLocked(ctx context.Context) error {
	ordered := p.sorted(func(c Component) int { return c.LoadPriority() })
	for _, component := range ordered {
		if p.initialized[component.Name()] {
			continue
		}
		value, err := component.Initialize(ctx, p.api)
		if err != nil {
			return errors.Wrapf(err, errors.KindServerInitialization, "failed to initialize %s", component.Name())
		}
		if value != nil {
			p.api.SetNamespace(component.Name(), value)
		}
		p.initialized[component.Name()] = true
		p.api.Logger.Debug("initialized component", map[string]interface{}{"component": component.Name()})
	}
	return nil
}

// Start runs components in ascending start priority, skipping those whose
// run modes exclude mode. Initialize is implied if it has not run yet.
func (p *Process) Start(ctx context.Context, mode RunMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.initializeLocked(ctx); err != nil {
		return err
	}

	ordered := p.sorted(func(c Component) int { return c.StartPriority() })
	for _, component := range ordered {
		if !runsIn(component, mode) {
			continue
		}
		if err := component.Start(ctx, p.api); err != nil {
			return errors.Wrapf(err, errors.KindServerStart, "failed to start %s", component.Name())
		}
		p.api.Logger.Debug("started component", map[string]interface{}{"component": component.Name()})
	}

	p.started = true
	p.api.BootedAt = nowFunc()
	p.api.Logger.Info("process started", map[string]interface{}{
		"name": p.api.Config.Process.Name,
		"env":  p.api.Config.Process.Env,
		"mode": string(mode),
	})
	return nil
}

// Stop runs components in ascending stop priority. Stopping an already
// stopped process is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	ordered := p.sorted(func(c Component) int { return c.StopPriority() })
	for _, component := range ordered {
		if err := component.Stop(ctx, p.api); err != nil {
			return errors.Wrapf(err, errors.KindServerStop, "failed to stop %s", component.Name())
		}
		p.api.Logger.Debug("stopped component", map[string]interface{}{"component": component.Name()})
	}

	p.started = false
	p.api.Logger.Info("process stopped", map[string]interface{}{"name": p.api.Config.Process.Name})
	return nil
}

// Restart stops and starts the process. Overlapping calls collapse: the
// second caller returns immediately while the first restart is running.
func (p *Process) Restart(ctx context.Context, mode RunMode) error {
	if !p.restarting.CompareAndSwap(false, true) {
		return nil
	}
	defer p.restarting.Store(false)

	if err := p.Stop(ctx); err != nil {
		return err
	}
	return p.Start(ctx, mode)
}

func (p *Process) sorted(priority func(Component) int) []Component {
	ordered := make([]Component, len(p.components))
	copy(ordered, p.components)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priority(ordered[i]) < priority(ordered[j])
	})
	return ordered
}

func runsIn(component Component, mode RunMode) bool {
	for _, m := range component.RunModes() {
		if m == mode {
			return true
		}
	}
	return false
}
