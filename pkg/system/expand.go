package system

// Expand rewrites the raw configuration of the selected keys (default: all)
// into its instantiation-ready form by invoking each key's expand behavior.
// Keys with no registered expand behavior anywhere in their taxonomy pass
// through unchanged.
//
// Expansion is pure and idempotent: behaviors may resolve symbolic names
// into handles but must not create the resources those handles denote, and
// re-expanding an already-expanded config returns an equivalent result.
// Reserved metadata entries are preserved verbatim.
func Expand(resolver Resolver, cfg Config, keys ...string) (Config, error) {
	selected := make(map[string]bool)
	for _, key := range selectKeys(cfg, keys) {
		selected[key] = true
	}

	out := make(Config, len(cfg))
	for key, value := range cfg {
		if IsReserved(key) || !selected[key] {
			out[key] = value
			continue
		}

		fn, err := resolveExpand(resolver, key)
		if err != nil {
			return nil, err
		}
		if fn == nil {
			out[key] = value
			continue
		}

		expanded, err := fn(key, value)
		if err != nil {
			return nil, NewComponentError(key, OpExpand, nil, err)
		}
		out[key] = expanded
	}
	return out, nil
}

// resolveExpand resolves the expand behavior for tag. An unregistered tag
// is not an error here: the default expand behavior is identity, signalled
// by a nil function.
func resolveExpand(resolver Resolver, tag string) (ExpandFunc, error) {
	fn, err := resolver.Resolve(tag, OpExpand)
	if err != nil {
		if IsUnregisteredTag(err) {
			return nil, nil
		}
		return nil, err
	}
	expand, ok := fn.(ExpandFunc)
	if !ok {
		return nil, NewUnregisteredTagError(tag, OpExpand)
	}
	return expand, nil
}
