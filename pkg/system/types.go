// Package system implements the core of the component lifecycle framework:
// reference resolution, dependency-ordered instantiation, and the symmetric
// halt, suspend, and resume operations over the resulting system state.
//
// A system is described by a Config: a map from qualified component keys to
// arbitrary values. Values may embed references to other keys; those
// references imply a dependency graph that Init walks in topological order.
// Behavior for each key is resolved through a Resolver (see pkg/registry),
// using the key itself as the dispatch tag.
package system

import "strings"

// Config maps qualified component keys to their raw or expanded
// configuration values. Key order is irrelevant. Keys under the reserved
// "keel/" namespace carry orchestrator metadata, never component config.
type Config map[string]any

// State maps component keys to their opaque instantiated values. It carries
// the same reserved metadata entries as Config, plus the init order used to
// build it.
type State map[string]any

// Reserved metadata keys. They travel inside Config and State maps and are
// skipped by every per-key operation.
const (
	// MetaKeys records the originally requested key set.
	MetaKeys = "keel/keys"

	// MetaSource records the provenance of a merged config: local file,
	// resource directories, and the resolved resource file list.
	MetaSource = "keel/source"

	// MetaOrder records, on a State, the exact order keys were
	// instantiated in. Halt and suspend iterate it in reverse.
	MetaOrder = "keel/order"

	// MetaSystemID records, on a State, a unique identifier for this
	// instantiation.
	MetaSystemID = "keel/system-id"
)

// reservedPrefix marks orchestrator metadata keys.
const reservedPrefix = "keel/"

// IsReserved reports whether key is orchestrator metadata rather than a
// component key.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, reservedPrefix)
}

// Op names one of the five behavior operations a tag can implement.
type Op string

const (
	OpExpand  Op = "expand"
	OpInit    Op = "init"
	OpSuspend Op = "suspend"
	OpResume  Op = "resume"
	OpHalt    Op = "halt"
)

// ExpandFunc transforms a component's raw config value into its
// instantiation-ready form. It must be pure: resolving symbolic names into
// handles is fine, creating the resources those handles denote is not.
type ExpandFunc func(tag string, value any) (any, error)

// InitFunc instantiates a component from its expanded config value.
// Side effects are allowed.
type InitFunc func(tag string, value any) (any, error)

// SuspendFunc pauses a live component instance, best-effort. The returned
// value replaces the instance in the system state.
type SuspendFunc func(tag string, instance any) (any, error)

// ResumeFunc resumes a suspended instance, given the fresh expanded config
// value so the component can pick up updated configuration while reusing
// held resources.
type ResumeFunc func(tag string, instance, fresh any) (any, error)

// HaltFunc tears a component instance down.
type HaltFunc func(tag string, instance any) error

// Resolver resolves behavior functions for dispatch tags. pkg/registry
// provides the canonical implementation; the operations in this package
// only depend on this interface.
type Resolver interface {
	// Resolve returns the behavior registered for (tag, op), searching the
	// tag's ancestors depth-first in declaration order. The returned value
	// is an ExpandFunc, InitFunc, SuspendFunc, ResumeFunc or HaltFunc
	// matching op. It fails with an unregistered tag error when nothing is
	// registered anywhere in the taxonomy, and with an ambiguous dispatch
	// error when unrelated ancestors conflict at equal depth.
	Resolve(tag string, op Op) (any, error)

	// Isa reports whether tag is derived from (or equal to) ancestor.
	Isa(tag, ancestor string) bool
}

// Keys returns the non-reserved keys of a Config, unordered.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		if !IsReserved(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Keys returns the non-reserved keys of a State, unordered.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		if !IsReserved(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Order returns the init order recorded on the state, or nil if absent.
func (s State) Order() []string {
	order, _ := s[MetaOrder].([]string)
	return order
}

// selectKeys narrows requested to the keys actually present in cfg,
// defaulting to all non-reserved keys when none are requested.
func selectKeys(cfg Config, requested []string) []string {
	if len(requested) == 0 {
		return cfg.Keys()
	}
	keys := make([]string, 0, len(requested))
	for _, k := range requested {
		if _, ok := cfg[k]; ok && !IsReserved(k) {
			keys = append(keys, k)
		}
	}
	return keys
}
