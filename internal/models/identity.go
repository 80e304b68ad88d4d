package models

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownModel is returned when a model name has no registered identity
var ErrUnknownModel = errors.New("unknown model")

// Identifiable is the identity contract of a domain resource: the ordered
// list of path parameters that identify one instance
type Identifiable interface {
	IDFields() []string
}

// Registry maps model names to their identity contract
type Registry struct {
	mu     sync.RWMutex
	models map[string][]string
}

// NewRegistry creates an empty model registry
func NewRegistry() *Registry {
	return &Registry{models: make(map[string][]string)}
}

// DefaultRegistry returns a registry holding the resources this module ships with
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ModelOrder, Order{})
	r.Register(ModelItem, Item{})
	return r
}

// Register binds a model name to the id fields of m
func (r *Registry) Register(name string, m Identifiable) {
	fields := append([]string(nil), m.IDFields()...)
	r.mu.Lock()
	r.models[name] = fields
	r.mu.Unlock()
}

// IDFields returns the ordered id fields declared for the named model
func (r *Registry) IDFields(name string) ([]string, error) {
	r.mu.RLock()
	fields, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return append([]string(nil), fields...), nil
}

// Has reports whether the named model is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[name]
	return ok
}
