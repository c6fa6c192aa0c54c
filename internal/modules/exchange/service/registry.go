package service

import (
	"fmt"
	"sync"
)

// Factory builds a gateway for one resolved key set. The factory validates
// the credentials it needs; returning ErrNoCredentials marks the bot as
// waiting for configuration rather than broken.
type Factory func(creds Credentials) (Gateway, error)

// Registry maps exchange ids to gateway factories. Exchanges register once
// at startup; Resolve is the only place an exchange name is interpreted.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Known returns the registered exchange ids, for logs and validation.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

func (r *Registry) Resolve(name string, creds Credentials) (Gateway, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", name)
	}
	gw, err := f(creds)
	if err != nil {
		return nil, fmt.Errorf("resolve %s gateway: %w", name, err)
	}
	return gw, nil
}
