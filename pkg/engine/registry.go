package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry maps the names recipes use onto module and hook factories.
// Registration happens at startup; lookups happen during plan compilation.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]ModuleFactory
	hooks   map[string]HookFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: map[string]ModuleFactory{},
		hooks:   map[string]HookFactory{},
	}
}

// RegisterModule adds a module factory under name. Re-registering a name
// replaces the previous factory.
func (r *Registry) RegisterModule(name string, f ModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = f
}

// RegisterHook adds a hook factory under name. Re-registering a name
// replaces the previous factory.
func (r *Registry) RegisterHook(name string, f HookFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = f
}

// Module instantiates the named module with args.
func (r *Registry) Module(name string, args map[string]interface{}) (Module, error) {
	r.mu.RLock()
	f, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewPermanentError(
			fmt.Sprintf("module %q is not registered", name), nil).
			WithCode(ErrCodeNotFound).WithOperation("module_lookup")
	}
	m, err := f(args)
	if err != nil {
		return nil, classifyFactoryErr(err, fmt.Sprintf("constructing module %q", name))
	}
	return m, nil
}

// Hook instantiates the named hook with args.
func (r *Registry) Hook(name string, args map[string]interface{}) (Hook, error) {
	r.mu.RLock()
	f, ok := r.hooks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewPermanentError(
			fmt.Sprintf("hook %q is not registered", name), nil).
			WithCode(ErrCodeNotFound).WithOperation("hook_lookup")
	}
	h, err := f(args)
	if err != nil {
		return nil, classifyFactoryErr(err, fmt.Sprintf("constructing hook %q", name))
	}
	return h, nil
}

// ModuleNames returns the registered module names, sorted.
func (r *Registry) ModuleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.modules)
}

// HookNames returns the registered hook names, sorted.
func (r *Registry) HookNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.hooks)
}

func classifyFactoryErr(err error, msg string) error {
	var e *EngineError
	if errors.As(err, &e) {
		return err
	}
	return NewPermanentError(msg, err).WithCode(ErrCodeConfig)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
