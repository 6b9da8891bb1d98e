// Package btreg builds behavior trees from flat declarative node
// definitions through an explicit type registry. The registry is a
// plain instance passed to the builder, not hidden global state, so
// tests can construct isolated registries.
package btreg

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arborbt/arbor/bt"
)

var (
	// ErrUnknownType is returned when a definition references a node
	// type that is not registered.
	ErrUnknownType = errors.New("btreg: unknown node type")
	// ErrDuplicateType is returned when a type name is registered twice.
	ErrDuplicateType = errors.New("btreg: node type already registered")
)

// NodeDef is one flat record in a declarative tree definition.
type NodeDef struct {
	Type     string            `mapstructure:"type"`
	Name     string            `mapstructure:"name"`
	Params   map[string]string `mapstructure:"params"`
	Repeat   int               `mapstructure:"repeat"`
	Policy   string            `mapstructure:"policy"`
	Duration time.Duration     `mapstructure:"duration"`
	Children []NodeDef         `mapstructure:"children"`
}

// Constructor creates a childless node from a definition. The builder
// attaches children afterwards.
type Constructor func(def NodeDef) (bt.Node, error)

// Registry maps node type names to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates a Registry with the built-in node kinds
// pre-registered. Action and condition kinds are supplied by the
// caller via Register.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.registerBuiltins()
	return r
}

// Register adds a constructor under typeName.
func (r *Registry) Register(typeName string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.constructors[typeName]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, typeName)
	}
	r.constructors[typeName] = ctor
	return nil
}

// Unregister removes the constructor under typeName.
func (r *Registry) Unregister(typeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.constructors, typeName)
}

// Registered reports whether typeName has a constructor.
func (r *Registry) Registered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[typeName]
	return ok
}

// Create constructs a single childless node from def.
func (r *Registry) Create(def NodeDef) (bt.Node, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[def.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, def.Type)
	}
	return ctor(def)
}

func (r *Registry) registerBuiltins() {
	r.constructors["sequence"] = func(def NodeDef) (bt.Node, error) {
		return bt.NewSequence(def.Name), nil
	}
	r.constructors["selector"] = func(def NodeDef) (bt.Node, error) {
		return bt.NewSelector(def.Name), nil
	}
	r.constructors["parallel"] = func(def NodeDef) (bt.Node, error) {
		policy, err := parsePolicy(def.Policy)
		if err != nil {
			return nil, err
		}
		return bt.NewParallel(def.Name, policy), nil
	}
	r.constructors["inverter"] = func(def NodeDef) (bt.Node, error) {
		return bt.NewInverter(def.Name, nil), nil
	}
	r.constructors["repeater"] = func(def NodeDef) (bt.Node, error) {
		return bt.NewRepeater(def.Name, def.Repeat, nil), nil
	}
	r.constructors["until_success"] = func(def NodeDef) (bt.Node, error) {
		return bt.NewUntilSuccess(def.Name, nil), nil
	}
	r.constructors["until_failure"] = func(def NodeDef) (bt.Node, error) {
		return bt.NewUntilFailure(def.Name, nil), nil
	}
	r.constructors["wait"] = func(def NodeDef) (bt.Node, error) {
		return bt.NewWait(def.Name, def.Duration), nil
	}
}

func parsePolicy(s string) (bt.Policy, error) {
	switch s {
	case "", "succeed_on_all":
		return bt.SucceedOnAll, nil
	case "succeed_on_one":
		return bt.SucceedOnOne, nil
	case "fail_on_all":
		return bt.FailOnAll, nil
	case "fail_on_one":
		return bt.FailOnOne, nil
	default:
		return bt.SucceedOnAll, fmt.Errorf("btreg: unknown parallel policy %q", s)
	}
}

// Build validates that every type referenced by def is registered, then
// constructs the tree depth-first, applying parameter bindings and
// wiring children. Structural violations (a child under a leaf kind)
// surface as errors from AddChild.
func Build(reg *Registry, def NodeDef) (bt.Node, error) {
	if err := validateTypes(reg, def); err != nil {
		return nil, err
	}
	return build(reg, def)
}

func validateTypes(reg *Registry, def NodeDef) error {
	if !reg.Registered(def.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, def.Type)
	}
	for _, child := range def.Children {
		if err := validateTypes(reg, child); err != nil {
			return err
		}
	}
	return nil
}

func build(reg *Registry, def NodeDef) (bt.Node, error) {
	node, err := reg.Create(def)
	if err != nil {
		return nil, err
	}
	for attr, key := range def.Params {
		if base, ok := node.(interface{ SetParam(attr, key string) }); ok {
			base.SetParam(attr, key)
		}
	}
	for _, childDef := range def.Children {
		child, err := build(reg, childDef)
		if err != nil {
			return nil, err
		}
		if err := node.AddChild(child); err != nil {
			return nil, fmt.Errorf("btreg: attach %q to %q: %w", childDef.Name, def.Name, err)
		}
	}
	return node, nil
}
