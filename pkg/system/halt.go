package system

import "sort"

// Halt tears down the selected keys (default: all) of a system state.
// Keys are processed in the exact reverse of the order they were
// instantiated in, so dependents are halted before their dependencies.
//
// The default halt behavior is a no-op: a key with no halt registered
// anywhere in its taxonomy is simply skipped. Dispatch ambiguities surface
// before any component is touched. A failing halt behavior aborts the walk
// with a component error naming the key; the state map itself is never
// mutated, callers decide what to discard.
func Halt(resolver Resolver, state State, keys ...string) error {
	order := haltOrder(state, keys)

	halts := make(map[string]HaltFunc, len(order))
	for _, key := range order {
		fn, err := resolveOptional(resolver, key, OpHalt)
		if err != nil {
			return err
		}
		if fn != nil {
			halts[key] = fn.(HaltFunc)
		}
	}

	for _, key := range order {
		haltFn, ok := halts[key]
		if !ok {
			continue
		}
		if err := haltFn(key, state[key]); err != nil {
			return NewComponentError(key, OpHalt, state, err)
		}
	}
	return nil
}

// Suspend pauses the selected keys (default: all) of a system state,
// best-effort, in reverse init order. Only keys that explicitly register a
// suspend behavior are touched; everything else stays fully live and keeps
// its identity in the returned state.
func Suspend(resolver Resolver, state State, keys ...string) (State, error) {
	order := haltOrder(state, keys)

	suspends := make(map[string]SuspendFunc, len(order))
	for _, key := range order {
		fn, err := resolveOptional(resolver, key, OpSuspend)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			suspends[key] = fn.(SuspendFunc)
		}
	}

	out := cloneState(state)
	for _, key := range order {
		suspendFn, ok := suspends[key]
		if !ok {
			continue
		}
		suspended, err := suspendFn(key, out[key])
		if err != nil {
			return nil, NewComponentError(key, OpSuspend, out, err)
		}
		out[key] = suspended
	}
	return out, nil
}

// Resume brings the selected keys (default: all) of a suspended state back
// to live, in init order so dependencies are available before their
// dependents. Each resume behavior receives the prior instance and the
// fresh expanded config value for its key, letting a component pick up
// updated configuration while reusing held resources. Keys with no resume
// behavior keep their prior instance untouched.
func Resume(resolver Resolver, cfg Config, state State, keys ...string) (State, error) {
	order := resumeOrder(state, keys)

	resumes := make(map[string]ResumeFunc, len(order))
	for _, key := range order {
		fn, err := resolveOptional(resolver, key, OpResume)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			resumes[key] = fn.(ResumeFunc)
		}
	}

	out := cloneState(state)
	for _, key := range order {
		resumeFn, ok := resumes[key]
		if !ok {
			continue
		}
		fresh := substituteRefs(cfg[key], resolver, out)
		resumed, err := resumeFn(key, out[key], fresh)
		if err != nil {
			return nil, NewComponentError(key, OpResume, out, err)
		}
		out[key] = resumed
	}
	return out, nil
}

// resolveOptional resolves (tag, op) treating an unregistered tag as the
// framework default rather than an error.
func resolveOptional(resolver Resolver, tag string, op Op) (any, error) {
	fn, err := resolver.Resolve(tag, op)
	if err != nil {
		if IsUnregisteredTag(err) {
			return nil, nil
		}
		return nil, err
	}
	return fn, nil
}

// resumeOrder returns the selected keys in recorded init order, falling
// back to sorted order for keys the state never recorded.
func resumeOrder(state State, keys []string) []string {
	selected := make(map[string]bool)
	if len(keys) == 0 {
		for _, key := range state.Keys() {
			selected[key] = true
		}
	} else {
		for _, key := range keys {
			if _, ok := state[key]; ok && !IsReserved(key) {
				selected[key] = true
			}
		}
	}

	order := make([]string, 0, len(selected))
	for _, key := range state.Order() {
		if selected[key] {
			order = append(order, key)
			delete(selected, key)
		}
	}

	rest := make([]string, 0, len(selected))
	for key := range selected {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// haltOrder is resumeOrder reversed: dependents before dependencies.
func haltOrder(state State, keys []string) []string {
	forward := resumeOrder(state, keys)
	reversed := make([]string, len(forward))
	for i, key := range forward {
		reversed[len(forward)-1-i] = key
	}
	return reversed
}

// cloneState shallow-copies a state map, metadata included.
func cloneState(state State) State {
	out := make(State, len(state))
	for k, v := range state {
		out[k] = v
	}
	out[MetaOrder] = append([]string(nil), state.Order()...)
	return out
}
