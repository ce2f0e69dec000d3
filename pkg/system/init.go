package system

import (
	"github.com/google/uuid"
)

// Init instantiates the selected keys (default: all) of an expanded config
// in dependency order and returns the resulting system state.
//
// The dependency graph is implied by Refs and RefSets embedded in config
// values: every reference target is instantiated strictly before the keys
// referencing it. Structural problems (an invalid reference target, a
// dependency cycle, a key with no resolvable init behavior) fail before any
// component is instantiated. A failing component behavior aborts the walk
// and returns a component error carrying the offending key and the partial
// state built so far; no rollback of that partial state is attempted.
func Init(resolver Resolver, cfg Config, keys ...string) (State, error) {
	return InitInto(resolver, cfg, nil, keys...)
}

// InitInto is Init merging into an existing base state. Keys already
// present in base are reused as-is unless explicitly requested, in which
// case they are re-instantiated and overwritten. The returned state is a
// new map; base is not mutated.
func InitInto(resolver Resolver, cfg Config, base State, keys ...string) (State, error) {
	requested := selectKeys(cfg, keys)
	explicit := make(map[string]bool, len(requested))
	if len(keys) > 0 {
		for _, key := range requested {
			explicit[key] = true
		}
	}

	builder, err := newGraphBuilder(cfg, resolver, requested)
	if err != nil {
		return nil, err
	}
	order, err := builder.order()
	if err != nil {
		return nil, err
	}

	// Resolve every init behavior up front so dispatch problems surface
	// before any side effect.
	inits := make(map[string]InitFunc, len(order))
	for _, key := range order {
		if base != nil {
			if _, ok := base[key]; ok && !explicit[key] {
				continue
			}
		}
		fn, err := resolver.Resolve(key, OpInit)
		if err != nil {
			return nil, err
		}
		initFn, ok := fn.(InitFunc)
		if !ok {
			return nil, NewUnregisteredTagError(key, OpInit)
		}
		inits[key] = initFn
	}

	state := newState(cfg, base)
	for _, key := range order {
		initFn, build := inits[key]
		if !build {
			// Reused from base.
			continue
		}

		resolved := substituteRefs(cfg[key], resolver, state)
		instance, err := initFn(key, resolved)
		if err != nil {
			return nil, NewComponentError(key, OpInit, state, err)
		}

		if _, exists := state[key]; !exists {
			state[MetaOrder] = append(state.Order(), key)
		}
		state[key] = instance
	}

	return state, nil
}

// newState seeds a fresh State from base (when merging) or from the
// config's metadata (when starting clean).
func newState(cfg Config, base State) State {
	state := make(State, len(base)+8)
	for k, v := range base {
		state[k] = v
	}
	if base != nil {
		state[MetaOrder] = append([]string(nil), base.Order()...)
		return state
	}

	if keys, ok := cfg[MetaKeys]; ok {
		state[MetaKeys] = keys
	}
	if source, ok := cfg[MetaSource]; ok {
		state[MetaSource] = source
	}
	state[MetaOrder] = []string(nil)
	state[MetaSystemID] = uuid.New().String()
	return state
}
