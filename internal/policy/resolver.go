package policy

import (
	"fmt"
	"sync"

	"github.com/ashendes/transactional-rest/internal/models"
)

// ModelLookup reports whether a model name has an identity contract
type ModelLookup interface {
	Has(name string) bool
}

// Resolver maps handlers to participation decisions
type Resolver struct {
	models ModelLookup

	mu          sync.RWMutex
	controllers map[string]Controller
	cache       map[Target]Decision
}

// NewResolver creates a resolver validating models against lookup
func NewResolver(lookup ModelLookup) *Resolver {
	if lookup == nil {
		lookup = models.DefaultRegistry()
	}
	return &Resolver{
		models:      lookup,
		controllers: make(map[string]Controller),
		cache:       make(map[Target]Decision),
	}
}

// Register adds the metadata of one controller
func (r *Resolver) Register(c Controller) error {
	if c.Name == "" {
		return fmt.Errorf("%w: controller without name", ErrConfig)
	}
	if t := c.Transactional; t != nil {
		if t.Model == "" {
			return &ConfigError{Target: Target{Controller: c.Name}, Reason: "transactional controller without model"}
		}
		if !r.models.Has(t.Model) {
			return &ConfigError{Target: Target{Controller: c.Name}, Reason: fmt.Sprintf("unknown model %q", t.Model)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.controllers[c.Name]; exists {
		return fmt.Errorf("%w: controller %q registered twice", ErrConfig, c.Name)
	}
	actions := make(map[string]Action, len(c.Actions))
	for name, a := range c.Actions {
		actions[name] = a
	}
	c.Actions = actions
	r.controllers[c.Name] = c
	return nil
}

// Resolve decides whether target participates in transaction tracking
func (r *Resolver) Resolve(target Target) (Decision, error) {
	r.mu.RLock()
	d, cached := r.cache[target]
	c, known := r.controllers[target.Controller]
	r.mu.RUnlock()
	if cached {
		return d, nil
	}

	d, err := resolve(c, known, target)
	if err != nil {
		return Decision{}, err
	}

	r.mu.Lock()
	r.cache[target] = d
	r.mu.Unlock()
	return d, nil
}

// Transactional returns the class level metadata of a controller, if any
func (r *Resolver) Transactional(controller string) (*Transactional, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[controller]
	if !ok || c.Transactional == nil {
		return nil, false
	}
	t := *c.Transactional
	return &t, true
}

func resolve(c Controller, known bool, target Target) (Decision, error) {
	if !known || c.Transactional == nil {
		return Decision{}, nil
	}

	action, ok := c.Actions[target.Action]
	if !ok {
		return Decision{}, &ConfigError{Target: target, Reason: "action is not declared on controller"}
	}
	if action.Avoid {
		return Decision{}, nil
	}

	route := c.Transactional.RelatedRoute
	if action.RelatedRoute != "" {
		route = action.RelatedRoute
	}
	return Decision{
		Participate:      true,
		Model:            c.Transactional.Model,
		RelatedRoute:     route,
		WriteStatusCodes: c.Transactional.WriteStatusCodes,
	}, nil
}
