package actions

import (
	"sort"
	"sync"

	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
)

var validMethods = map[HTTPMethod]struct{}{
	MethodGet: {}, MethodPost: {}, MethodPut: {}, MethodPatch: {},
	MethodDelete: {}, MethodOptions: {}, MethodHead: {},
}

// Registry holds every registered action. Names are globally unique within
// a process; registration happens during initialize and the set is
// immutable afterwards.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Register validates and adds an action.
func (r *Registry) Register(action *Action) error {
	if err := validate(action); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[action.Name]; exists {
		return errors.Newf(errors.KindActionValidation, "action %s is already registered", action.Name)
	}
	r.actions[action.Name] = action
	return nil
}

func validate(action *Action) error {
	if action == nil || action.Name == "" {
		return errors.New(errors.KindActionValidation, "actions require a name")
	}
	if action.Run == nil {
		return errors.Newf(errors.KindActionValidation, "action %s requires a run function", action.Name)
	}
	if action.Timeout < 0 {
		return errors.Newf(errors.KindActionValidation, "action %s has a negative timeout", action.Name)
	}
	if action.Web != nil {
		if _, ok := validMethods[action.Web.Method]; !ok {
			return errors.Newf(errors.KindActionValidation,
				"action %s declares unknown HTTP method %q", action.Name, action.Web.Method)
		}
		if action.Web.Route == "" {
			return errors.Newf(errors.KindActionValidation, "action %s declares a web config without a route", action.Name)
		}
	}
	if action.Task != nil && action.Task.Frequency <= 0 {
		return errors.Newf(errors.KindTaskValidation,
			"action %s declares a task without a positive frequency", action.Name)
	}
	return nil
}

// Find returns the action for name, or nil.
func (r *Registry) Find(name string) *Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[name]
}

// All returns every action sorted by name.
func (r *Registry) All() []*Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Action, 0, len(r.actions))
	for _, action := range r.actions {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WebActions returns actions with an HTTP route.
func (r *Registry) WebActions() []*Action {
	var out []*Action
	for _, action := range r.All() {
		if action.Web != nil {
			out = append(out, action)
		}
	}
	return out
}

// TaskActions returns actions with a scheduled frequency.
func (r *Registry) TaskActions() []*Action {
	var out []*Action
	for _, action := range r.All() {
		if action.Task != nil {
			out = append(out, action)
		}
	}
	return out
}

// MCPActions returns actions exposed as MCP tools.
func (r *Registry) MCPActions() []*Action {
	var out []*Action
	for _, action := range r.All() {
		if action.MCP.Enabled {
			out = append(out, action)
		}
	}
	return out
}

// LoginAction returns the action OAuth dispatches to authenticate a user.
func (r *Registry) LoginAction() *Action {
	for _, action := range r.All() {
		if action.MCP.IsLoginAction {
			return action
		}
	}
	return nil
}

// SignupAction returns the action OAuth dispatches to create a user.
func (r *Registry) SignupAction() *Action {
	for _, action := range r.All() {
		if action.MCP.IsSignupAction {
			return action
		}
	}
	return nil
}
