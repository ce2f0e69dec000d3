// Package registry implements the dispatch registry: a tag taxonomy with
// behavior inheritance used to look up expand, init, suspend, resume and
// halt functions for component keys.
//
// Tags form a directed acyclic graph via Derive edges. Derivation is pure
// behavior inheritance: a child tag resolves any operation its ancestors
// register, nearest ancestor first. When two unrelated ancestors register
// different functions at the same resolution depth, resolution fails with
// an ambiguous dispatch error rather than silently picking one.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/keelframework/keel/pkg/system"
)

// Registry holds tag derivation edges, per-(tag, op) behavior functions and
// the process-wide binding table used by the var family of built-in tags.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// parents maps a tag to its parent tags, in declaration order.
	parents map[string][]string

	// behaviors maps an operation to its per-tag function table.
	behaviors map[system.Op]map[string]any

	// bindings is the named binding table behind var, var-make and
	// prepped-var.
	bindings map[string]any
}

// New creates a registry with the built-in base tags registered. Built-ins
// can be overridden by registering over them.
func New() *Registry {
	r := &Registry{
		parents: make(map[string][]string),
		behaviors: map[system.Op]map[string]any{
			system.OpExpand:  {},
			system.OpInit:    {},
			system.OpSuspend: {},
			system.OpResume:  {},
			system.OpHalt:    {},
		},
		bindings: make(map[string]any),
	}
	r.registerBuiltins()
	return r
}

// Register installs fn as the op behavior for tag, replacing any previous
// registration. fn must match the function type of op: system.ExpandFunc,
// InitFunc, SuspendFunc, ResumeFunc or HaltFunc.
func (r *Registry) Register(tag string, op system.Op, fn any) error {
	if tag == "" {
		return fmt.Errorf("register: empty tag")
	}
	typed, err := coerceBehavior(op, fn)
	if err != nil {
		return fmt.Errorf("register %s for tag %s: %w", op, tag, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.behaviors[op]
	if !ok {
		return fmt.Errorf("register: unknown operation %q", op)
	}
	table[tag] = typed
	return nil
}

// Derive declares that child inherits behavior from parent. A tag may have
// any number of parents; they are searched in the order they were declared.
// An edge that would make the taxonomy cyclic is rejected.
func (r *Registry) Derive(child, parent string) error {
	if child == "" || parent == "" {
		return fmt.Errorf("derive: empty tag")
	}
	if child == parent {
		return fmt.Errorf("derive: %s cannot derive from itself", child)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isaLocked(parent, child) {
		return fmt.Errorf("derive: %s -> %s would create a cycle", child, parent)
	}
	for _, p := range r.parents[child] {
		if p == parent {
			return nil
		}
	}
	r.parents[child] = append(r.parents[child], parent)
	return nil
}

// Resolve returns the behavior for (tag, op). The tag's own registration
// wins; otherwise ancestors are searched outward, one derivation step at a
// time, parents in declaration order. Two distinct functions found at the
// same depth fail with an ambiguous dispatch error; no registration
// anywhere fails with an unregistered tag error.
func (r *Registry) Resolve(tag string, op system.Op) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table, ok := r.behaviors[op]
	if !ok {
		return nil, fmt.Errorf("resolve: unknown operation %q", op)
	}

	frontier := []string{tag}
	visited := map[string]bool{tag: true}

	for len(frontier) > 0 {
		var found []any
		var foundTags []string
		for _, t := range frontier {
			if fn, ok := table[t]; ok && !containsFunc(found, fn) {
				found = append(found, fn)
				foundTags = append(foundTags, t)
			}
		}
		if len(found) == 1 {
			return found[0], nil
		}
		if len(found) > 1 {
			sort.Strings(foundTags)
			return nil, system.NewAmbiguousDispatchError(tag, op, foundTags)
		}

		var next []string
		for _, t := range frontier {
			for _, parent := range r.parents[t] {
				if !visited[parent] {
					visited[parent] = true
					next = append(next, parent)
				}
			}
		}
		frontier = next
	}

	return nil, system.NewUnregisteredTagError(tag, op)
}

// Isa reports whether tag equals ancestor or transitively derives from it.
func (r *Registry) Isa(tag, ancestor string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isaLocked(tag, ancestor)
}

func (r *Registry) isaLocked(tag, ancestor string) bool {
	if tag == ancestor {
		return true
	}
	for _, parent := range r.parents[tag] {
		if r.isaLocked(parent, ancestor) {
			return true
		}
	}
	return false
}

// Parents returns the declared parents of tag, in declaration order.
func (r *Registry) Parents(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.parents[tag]...)
}

// Bind creates or overwrites the named process-wide binding.
func (r *Registry) Bind(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[name] = value
}

// Unbind resets the named binding to empty.
func (r *Registry) Unbind(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, name)
}

// Lookup returns the value of the named binding.
func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.bindings[name]
	return v, ok
}

// coerceBehavior checks fn against the function type op requires.
func coerceBehavior(op system.Op, fn any) (any, error) {
	switch op {
	case system.OpExpand:
		if f, ok := fn.(system.ExpandFunc); ok {
			return f, nil
		}
		if f, ok := fn.(func(string, any) (any, error)); ok {
			return system.ExpandFunc(f), nil
		}
	case system.OpInit:
		if f, ok := fn.(system.InitFunc); ok {
			return f, nil
		}
		if f, ok := fn.(func(string, any) (any, error)); ok {
			return system.InitFunc(f), nil
		}
	case system.OpSuspend:
		if f, ok := fn.(system.SuspendFunc); ok {
			return f, nil
		}
		if f, ok := fn.(func(string, any) (any, error)); ok {
			return system.SuspendFunc(f), nil
		}
	case system.OpResume:
		if f, ok := fn.(system.ResumeFunc); ok {
			return f, nil
		}
		if f, ok := fn.(func(string, any, any) (any, error)); ok {
			return system.ResumeFunc(f), nil
		}
	case system.OpHalt:
		if f, ok := fn.(system.HaltFunc); ok {
			return f, nil
		}
		if f, ok := fn.(func(string, any) error); ok {
			return system.HaltFunc(f), nil
		}
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	return nil, fmt.Errorf("function type %T does not match operation %s", fn, op)
}

// containsFunc reports whether fns already holds fn, by function identity.
func containsFunc(fns []any, fn any) bool {
	p := reflect.ValueOf(fn).Pointer()
	for _, existing := range fns {
		if reflect.ValueOf(existing).Pointer() == p {
			return true
		}
	}
	return false
}
