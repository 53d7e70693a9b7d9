package worker

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
)

// Handler runs the work of one job. Return a domain.RetryableError to ask
// for a delayed retry; any other error fails the job permanently.
type Handler interface {
	Handle(ctx context.Context, j job.Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, j job.Job) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, j job.Job) error {
	return f(ctx, j)
}

// Registry maps handler names used in job definitions to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler under name
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler registered under name
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}
