package auditfetch

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry holds named audited clients, one per backend.
type Registry struct {
	clients     map[string]*Client
	mu          sync.RWMutex
	defaultOpts []Option
}

func NewRegistry(defaultOpts ...Option) *Registry {
	return &Registry{
		clients:     make(map[string]*Client),
		mu:          sync.RWMutex{},
		defaultOpts: defaultOpts,
	}
}

// Register builds a client for baseURL with the registry defaults followed by
// opts, replacing any client already registered under name.
func (r *Registry) Register(name, baseURL string, opts ...Option) *Registry {
	all := make([]Option, 0, len(r.defaultOpts)+len(opts))
	all = append(all, r.defaultOpts...)
	all = append(all, opts...)

	client := New(baseURL, all...)

	r.mu.Lock()
	r.clients[name] = client
	r.mu.Unlock()

	return r
}

// MustClient panics when name is unknown.
func (r *Registry) MustClient(name string) *Client {
	client, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("auditfetch: backend %q not registered", name))
	}

	return client
}

func (r *Registry) Lookup(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[name]

	return client, ok
}

func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.clients[name]
	delete(r.clients, name)

	return ok
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.clients))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}
