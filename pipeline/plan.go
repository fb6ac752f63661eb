package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks the declared dependencies of every registered step: each
// must name a registered step and the dependency graph must be acyclic.
// Call it once after registration, before running anything.
func (r *Runner) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)

	state := make(map[string]visit, len(r.steps))
	for _, name := range names {
		if _, err := r.visit(name, state, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// Plan returns the declared dependencies of name in execution order,
// followed by name itself.
func (r *Runner) Plan(name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.steps[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	return r.visit(name, make(map[string]visit), nil, []string{})
}

type visit int

const (
	unvisited visit = iota
	visiting
	visited
)

// visit performs a depth-first walk appending finished steps to order.
// Caller holds r.mu.
func (r *Runner) visit(name string, state map[string]visit, path []string, order []string) ([]string, error) {
	switch state[name] {
	case visited:
		return order, nil
	case visiting:
		return nil, fmt.Errorf("%w: %s -> %s", ErrCycle, strings.Join(path, " -> "), name)
	}

	step, ok := r.steps[name]
	if !ok {
		parent := "<root>"
		if len(path) > 0 {
			parent = path[len(path)-1]
		}
		return nil, fmt.Errorf("%w: %s (required by %s)", ErrUnknownStep, name, parent)
	}

	state[name] = visiting
	path = append(path, name)
	var err error
	for _, dep := range step.Deps {
		if order, err = r.visit(dep, state, path, order); err != nil {
			return nil, err
		}
	}
	state[name] = visited
	if order != nil {
		order = append(order, name)
	}
	return order, nil
}
