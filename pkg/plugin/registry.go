package plugin

import (
	"fmt"
	"sync"

	"github.com/oraclade/predictmarket/pkg/core"
	"github.com/oraclade/predictmarket/pkg/security"
)

// Factory builds a plugin instance on resolution. The returned value must
// implement the interface matching the kind it was registered under.
type Factory func() any

// Registry resolves named capability providers. It is explicitly
// constructed and populated at startup; there is no ambient global table
// and no runtime discovery.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Kind]map[string]Factory),
	}
}

// Register adds a factory under (kind, name). Registering twice under the
// same pair replaces the previous factory. Plugin names follow the same
// rules everywhere: alphanumeric with dots, dashes, underscores.
func (r *Registry) Register(kind Kind, name string, factory Factory) {
	if !security.ValidPluginName(name) {
		panic(fmt.Sprintf("plugin: invalid name %q for kind %q", name, kind))
	}
	if factory == nil {
		panic(fmt.Sprintf("plugin: nil factory for %s/%s", kind, name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[kind] == nil {
		r.factories[kind] = make(map[string]Factory)
	}
	r.factories[kind][name] = factory
}

// Has reports whether (kind, name) is registered.
func (r *Registry) Has(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind][name]
	return ok
}

// Names returns the registered names for a kind, for diagnostics.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[kind]))
	for name := range r.factories[kind] {
		names = append(names, name)
	}
	return names
}

func (r *Registry) resolve(kind Kind, name string) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind][name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrUnknownPlugin, kind, name)
	}
	return factory(), nil
}

// Feeder resolves a feeder by name.
func (r *Registry) Feeder(name string) (Feeder, error) {
	v, err := r.resolve(KindFeeder, name)
	if err != nil {
		return nil, err
	}
	f, ok := v.(Feeder)
	if !ok {
		return nil, fmt.Errorf("plugin: %s/%s does not implement Feeder", KindFeeder, name)
	}
	return f, nil
}

// Predictor resolves a predictor by name.
func (r *Registry) Predictor(name string) (Predictor, error) {
	v, err := r.resolve(KindPredictor, name)
	if err != nil {
		return nil, err
	}
	p, ok := v.(Predictor)
	if !ok {
		return nil, fmt.Errorf("plugin: %s/%s does not implement Predictor", KindPredictor, name)
	}
	return p, nil
}

// Pipeline resolves a pipeline by name.
func (r *Registry) Pipeline(name string) (Pipeline, error) {
	v, err := r.resolve(KindPipeline, name)
	if err != nil {
		return nil, err
	}
	p, ok := v.(Pipeline)
	if !ok {
		return nil, fmt.Errorf("plugin: %s/%s does not implement Pipeline", KindPipeline, name)
	}
	return p, nil
}
