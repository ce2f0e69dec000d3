package system

import (
	"fmt"
	"sort"
	"strings"
)

// graphBuilder builds the dependency graph implied by in-config references.
// An edge from key A to key B exists whenever A's config value embeds a Ref
// or RefSet pointing at B. It performs cycle detection and produces a
// deterministic topological order for instantiation.
type graphBuilder struct {
	// cfg is the expanded configuration the graph is derived from.
	cfg Config

	// resolver matches RefSet selectors through the taxonomy.
	resolver Resolver

	// deps maps each key to the keys it depends on.
	deps map[string][]string

	// dependents maps each key to the keys depending on it.
	dependents map[string][]string

	// inDegree tracks the number of unresolved dependencies per key.
	inDegree map[string]int

	// keys is the closure of requested keys plus transitive dependencies.
	keys map[string]bool
}

// newGraphBuilder derives the dependency graph for the requested keys and
// their transitive dependencies. It validates every reference target before
// computing any ordering.
func newGraphBuilder(cfg Config, resolver Resolver, requested []string) (*graphBuilder, error) {
	b := &graphBuilder{
		cfg:        cfg,
		resolver:   resolver,
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
		keys:       make(map[string]bool),
	}

	// Closure pass: requested keys plus everything they transitively
	// reference.
	queue := append([]string(nil), requested...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if b.keys[key] {
			continue
		}
		b.keys[key] = true

		deps, err := b.dependenciesOf(key)
		if err != nil {
			return nil, err
		}
		b.deps[key] = deps
		queue = append(queue, deps...)
	}

	for key, deps := range b.deps {
		b.inDegree[key] = len(deps)
		for _, dep := range deps {
			b.dependents[dep] = append(b.dependents[dep], key)
		}
	}

	return b, nil
}

// dependenciesOf collects the direct dependencies of key: the target of
// every embedded Ref, and every config key matching an embedded RefSet
// selector. Ref targets absent from the config fail; an empty RefSet match
// is legal and yields no edges.
func (b *graphBuilder) dependenciesOf(key string) ([]string, error) {
	refs, selectors := refTargets(b.cfg[key])

	seen := make(map[string]bool)
	deps := make([]string, 0, len(refs))

	for _, target := range refs {
		if _, ok := b.cfg[target]; !ok {
			return nil, NewInvalidReferenceError(key, target)
		}
		if !seen[target] {
			seen[target] = true
			deps = append(deps, target)
		}
	}

	for _, selector := range selectors {
		for _, candidate := range b.cfg.Keys() {
			if candidate == key {
				continue
			}
			if matchesSelector(candidate, selector, b.resolver) && !seen[candidate] {
				seen[candidate] = true
				deps = append(deps, candidate)
			}
		}
	}

	sort.Strings(deps)
	return deps, nil
}

// order returns the keys in dependency order, dependencies first. Keys with
// no ordering relation are sorted by name so the order is deterministic.
// A cycle fails with a cyclic dependency error naming the cycle.
func (b *graphBuilder) order() ([]string, error) {
	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	// Kahn's algorithm, level by level, sorted within each level.
	inDegree := make(map[string]int, len(b.inDegree))
	for k, d := range b.inDegree {
		inDegree[k] = d
	}

	current := make([]string, 0)
	for key := range b.keys {
		if inDegree[key] == 0 {
			current = append(current, key)
		}
	}
	sort.Strings(current)

	order := make([]string, 0, len(b.keys))
	for len(current) > 0 {
		order = append(order, current...)

		next := make([]string, 0)
		for _, key := range current {
			for _, dependent := range b.dependents[key] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if len(order) != len(b.keys) {
		return nil, NewCyclicDependencyError(nil)
	}

	return order, nil
}

// detectCycles runs a depth-first search over the dependency edges and
// fails with the offending cycle path when one is found.
func (b *graphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	// Deterministic traversal root order keeps the reported cycle stable.
	roots := make([]string, 0, len(b.keys))
	for key := range b.keys {
		roots = append(roots, key)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if visited[root] {
			continue
		}
		if cycle := b.findCycle(root, visited, inStack, nil); cycle != nil {
			return NewCyclicDependencyError(cycle)
		}
	}
	return nil
}

// findCycle performs the DFS step, returning the cycle path when the
// current path revisits a key already on the stack.
func (b *graphBuilder) findCycle(key string, visited, inStack map[string]bool, path []string) []string {
	visited[key] = true
	inStack[key] = true
	path = append(path, key)

	for _, dep := range b.deps[key] {
		if !visited[dep] {
			if cycle := b.findCycle(dep, visited, inStack, path); cycle != nil {
				return cycle
			}
		} else if inStack[dep] {
			start := 0
			for i, k := range path {
				if k == dep {
					start = i
					break
				}
			}
			return append(append([]string(nil), path[start:]...), dep)
		}
	}

	inStack[key] = false
	return nil
}

// DOT renders the dependency graph of cfg in Graphviz DOT format, one node
// per key with edges from each dependency to its dependents.
func DOT(cfg Config, resolver Resolver, keys ...string) (string, error) {
	b, err := newGraphBuilder(cfg, resolver, selectKeys(cfg, keys))
	if err != nil {
		return "", err
	}
	order, err := b.order()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph system {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")
	for _, key := range order {
		fmt.Fprintf(&sb, "  %q;\n", key)
	}
	for _, key := range order {
		for _, dep := range b.deps[key] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, key)
		}
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}
