// Package plan computes the ordered deployment plan for lab modules
package plan

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jrgochan/labctl/internal/registry"
)

var (
	// ErrUnknownModule is returned when a requested module is not registered
	ErrUnknownModule = errors.New("unknown module")
	// ErrCyclicDependency is returned when module dependencies form a cycle
	ErrCyclicDependency = errors.New("circular dependency detected")
)

// CycleError reports the module names forming a dependency cycle
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// Plan is the immutable ordered module list for one operation.
// Dependencies always precede their dependents.
type Plan struct {
	Modules []*registry.Module
}

// Names returns the module names in plan order
func (p *Plan) Names() []string {
	names := make([]string, len(p.Modules))
	for i, m := range p.Modules {
		names[i] = m.Name
	}
	return names
}

// Reverse returns the plan modules in reverse order (for teardown)
func (p *Plan) Reverse() []*registry.Module {
	out := slices.Clone(p.Modules)
	slices.Reverse(out)
	return out
}

// Contains reports whether the plan includes the named module
func (p *Plan) Contains(name string) bool {
	for _, m := range p.Modules {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Resolver handles module dependency resolution
type Resolver struct {
	registry *registry.Registry
}

// NewResolver creates a new resolver with the given registry
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{registry: reg}
}

// DFS colors
const (
	white = iota // not visited
	gray         // on the current path
	black        // done
)

// Resolve returns the plan covering the requested modules and their
// transitive dependencies, dependencies first. An empty request means all
// registered modules. The order is deterministic: the request is deduplicated
// and visited in ascending name order, as is each module's dependency list,
// so permutations of the same request produce the same plan.
func (r *Resolver) Resolve(names []string) (*Plan, error) {
	if len(names) == 0 {
		names = r.registry.Names()
	} else {
		names = normalize(names)
	}

	color := make(map[string]int)
	var order []*registry.Module
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			// Back edge: the cycle runs from the first occurrence on the path
			i := slices.Index(path, name)
			return &CycleError{Path: append(slices.Clone(path[i:]), name)}
		}

		m, ok := r.registry.Get(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModule, name)
		}

		color[name] = gray
		path = append(path, name)
		deps := slices.Clone(m.DependsOn)
		slices.Sort(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		order = append(order, m)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return &Plan{Modules: order}, nil
}

// OrderForRemoval returns exactly the named modules in reverse dependency
// order (dependents before dependencies). Unlike Resolve it does not pull in
// dependencies: removal touches only what was asked for. An empty request
// means all registered modules.
func (r *Resolver) OrderForRemoval(names []string) ([]*registry.Module, error) {
	if len(names) == 0 {
		names = r.registry.Names()
	}

	targets := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.registry.Get(n); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, n)
		}
		targets[n] = true
	}

	full, err := r.Resolve(nil)
	if err != nil {
		return nil, err
	}

	var out []*registry.Module
	for _, m := range full.Modules {
		if targets[m.Name] {
			out = append(out, m)
		}
	}
	slices.Reverse(out)
	return out, nil
}

// Dependents returns modules that directly depend on the given module
func (r *Resolver) Dependents(name string) []*registry.Module {
	var dependents []*registry.Module
	for _, m := range r.registry.All() {
		for _, dep := range m.DependsOn {
			if dep == name {
				dependents = append(dependents, m)
				break
			}
		}
	}
	return dependents
}

// WithDependents expands the given module names with every module that
// transitively depends on one of them
func (r *Resolver) WithDependents(names []string) []string {
	expanded := make(map[string]bool, len(names))
	for _, n := range names {
		expanded[n] = true
	}

	changed := true
	for changed {
		changed = false
		for _, m := range r.registry.All() {
			if expanded[m.Name] {
				continue
			}
			for _, dep := range m.DependsOn {
				if expanded[dep] {
					expanded[m.Name] = true
					changed = true
					break
				}
			}
		}
	}

	out := make([]string, 0, len(expanded))
	for n := range expanded {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// normalize deduplicates and sorts a requested module set
func normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
