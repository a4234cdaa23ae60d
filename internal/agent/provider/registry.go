package provider

import "sync"

var _ Adapter = (*Plain)(nil)

// Plain treats every line as a token. It serves custom CLIs configured in
// the settings that have no structured output.
type Plain struct {
	name string
}

func NewPlain(name string) *Plain { return &Plain{name: name} }

func (p *Plain) Name() string { return p.name }

func (p *Plain) ParseLine(line string) *Event {
	if line == "" {
		return nil
	}
	return &Event{Kind: EventToken, Text: line, Raw: line}
}

// Registry resolves adapters by the provider name used in the settings.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry preloaded with the bundled adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(NewGemini())
	r.Register(NewMock())
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Resolve returns the adapter registered under name, falling back to a
// plain-text adapter for providers without one.
func (r *Registry) Resolve(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[name]; ok {
		return a
	}
	return NewPlain(name)
}

// Names lists the registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
