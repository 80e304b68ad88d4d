// Package policy decides whether a handler takes part in transaction
// tracking and which related route the transaction is filed under.
//
// Metadata is registered once at startup, either from code or from a YAML
// file, and resolved decisions are cached per handler.
package policy

import (
	"errors"
	"fmt"
)

// ErrConfig is wrapped by every metadata error
var ErrConfig = errors.New("transaction policy misconfigured")

// Target identifies a handler: the controller type and the action on it
type Target struct {
	Controller string
	Action     string
}

func (t Target) String() string {
	return t.Controller + "::" + t.Action
}

// Transactional is the class level opt-in
type Transactional struct {
	Model            string `yaml:"model"`
	RelatedRoute     string `yaml:"relatedRoute"`
	WriteStatusCodes bool   `yaml:"writeStatusCodes"`
}

// Action is the per-action metadata. Avoid opts the action out of a
// transactional controller, RelatedRoute overrides the class default.
type Action struct {
	Avoid        bool   `yaml:"avoid"`
	RelatedRoute string `yaml:"relatedRoute"`
}

// Controller is the static registration of a handler type
type Controller struct {
	Name          string            `yaml:"-"`
	Transactional *Transactional    `yaml:"transactional"`
	Actions       map[string]Action `yaml:"actions"`
}

// Decision is the outcome of resolving a Target
type Decision struct {
	Participate      bool
	Model            string
	RelatedRoute     string
	WriteStatusCodes bool
}

// ConfigError describes metadata that cannot be resolved
type ConfigError struct {
	Target Target
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Target, e.Reason)
}

// Unwrap lets errors.Is match ErrConfig
func (e *ConfigError) Unwrap() error {
	return ErrConfig
}
