package workflow

import (
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oklog/ulid/v2"
)

// ErrWorkflowNotFound is returned for unknown or evicted workflows
var ErrWorkflowNotFound = errors.New("workflow not found")

// Factory builds the controller of a new workflow
type Factory func(id string) *Controller

// Registry keeps the live workflows. Idle workflows expire after the session
// TTL; an evicted controller is closed so its polling stops.
type Registry struct {
	cache   *expirable.LRU[string, *Controller]
	factory Factory
}

func NewRegistry(size int, ttl time.Duration, factory Factory) *Registry {
	onEvict := func(_ string, c *Controller) {
		c.Close()
	}
	return &Registry{
		cache:   expirable.NewLRU[string, *Controller](size, onEvict, ttl),
		factory: factory,
	}
}

// Create starts a new workflow
func (r *Registry) Create() *Controller {
	id := ulid.Make().String()
	c := r.factory(id)
	r.cache.Add(id, c)
	return c
}

// Get returns a live workflow and refreshes its TTL
func (r *Registry) Get(id string) (*Controller, error) {
	c, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	r.cache.Add(id, c)
	return c, nil
}

// Remove closes and forgets a workflow
func (r *Registry) Remove(id string) {
	r.cache.Remove(id)
}

// Len returns the number of live workflows
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every workflow
func (r *Registry) Close() {
	r.cache.Purge()
}
