package executor

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"taskscheduler/internal/shared"
)

// Func is an in-process unit of work. params is the raw JSON payload from the
// task config (nil when none was given).
type Func func(ctx context.Context, params json.RawMessage) ([]byte, error)

// FunctionRegistry maps function ids to implementations. It is populated at
// startup by domain code and injected into Function executors.
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: make(map[string]Func)}
}

// Register adds fn under id. Registering an id twice is a conflict.
func (r *FunctionRegistry) Register(id string, fn Func) error {
	id = strings.TrimSpace(id)
	if id == "" || fn == nil {
		return shared.Errorf(shared.KindValidation, "function id and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[id]; exists {
		return shared.Errorf(shared.KindConflict, "function %q already registered", id)
	}
	r.funcs[id] = fn
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *FunctionRegistry) MustRegister(id string, fn Func) {
	if err := r.Register(id, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under id.
func (r *FunctionRegistry) Lookup(id string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[id]
	return fn, ok
}

// IDs returns registered ids in sorted order.
func (r *FunctionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.funcs))
	for id := range r.funcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FunctionConfig configures an in-process function executor.
type FunctionConfig struct {
	Function string
	Params   json.RawMessage
}

// Function invokes a registry entry by id. The lookup happens on every
// execution, so a function registered after the task still resolves.
type Function struct {
	cfg      FunctionConfig
	registry *FunctionRegistry
}

// NewFunction validates cfg and builds the executor.
func NewFunction(registry *FunctionRegistry, cfg FunctionConfig) (*Function, error) {
	if registry == nil {
		return nil, shared.Errorf(shared.KindValidation, "function registry is required")
	}
	cfg.Function = strings.TrimSpace(cfg.Function)
	if cfg.Function == "" {
		return nil, shared.Errorf(shared.KindValidation, "function id cannot be empty")
	}
	if len(cfg.Params) > 0 && !json.Valid(cfg.Params) {
		return nil, shared.Errorf(shared.KindValidation, "params for %q are not valid JSON", cfg.Function)
	}
	return &Function{cfg: cfg, registry: registry}, nil
}

// Kind implements Executor.
func (f *Function) Kind() Kind { return KindFunction }

// Config returns a copy of the validated config.
func (f *Function) Config() FunctionConfig { return f.cfg }

// Execute implements Executor.
func (f *Function) Execute(ctx context.Context) Outcome {
	if o, ok := Interrupted(ctx, nil); ok {
		return o
	}
	fn, ok := f.registry.Lookup(f.cfg.Function)
	if !ok {
		return Outcome{Status: StatusFailure, Err: shared.Errorf(shared.KindFunctionNotRegistered, "%s", f.cfg.Function)}
	}
	out, err := fn(ctx, f.cfg.Params)
	return FromError(ctx, err, truncate(out, DefaultMaxOutput))
}
