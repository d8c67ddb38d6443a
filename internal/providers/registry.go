package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds named provider instances and routes model names to them.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name(). The first registered provider
// becomes the fallback for models no routing rule matches.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.fallback == "" {
		r.fallback = p.Name()
	}
}

// SetFallback overrides which provider handles unrecognized model names.
func (r *Registry) SetFallback(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.fallback = name
	return nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// ForModel routes a model name to its provider. Claude models go to
// anthropic, Gemini models to gemini; everything else (GPT, GLM, Deepseek
// and other OpenAI-compatible gateways) goes to the fallback.
func (r *Registry) ForModel(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := r.fallback
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		name = "anthropic"
	case strings.Contains(lower, "gemini"):
		name = "gemini"
	}

	p, ok := r.providers[name]
	if !ok {
		if name != r.fallback {
			if p, ok = r.providers[r.fallback]; ok {
				return p, nil
			}
		}
		return nil, fmt.Errorf("no provider registered for model %q", model)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
