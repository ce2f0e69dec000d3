package system

// Ref is a placeholder embedded in a component's config denoting "the
// instantiated value of key Key". Refs are resolved strictly at init time;
// expansion leaves them untouched.
type Ref struct {
	Key string
}

// RefSet is a placeholder denoting "the mapping of instantiated values
// whose key matches Selector". A key matches when it is derived from (or
// equal to) the selector tag in the dispatch taxonomy.
type RefSet struct {
	Selector string
}

// NewRef creates a reference to the instantiated value of key.
func NewRef(key string) *Ref {
	return &Ref{Key: key}
}

// NewRefSet creates a reference to all instantiated values whose key
// matches selector.
func NewRefSet(selector string) *RefSet {
	return &RefSet{Selector: selector}
}

// refTargets walks value collecting every Ref key and RefSet selector
// embedded in nested maps and slices.
func refTargets(value any) (refs []string, selectors []string) {
	switch v := value.(type) {
	case *Ref:
		refs = append(refs, v.Key)
	case *RefSet:
		selectors = append(selectors, v.Selector)
	case Ref:
		refs = append(refs, v.Key)
	case RefSet:
		selectors = append(selectors, v.Selector)
	case map[string]any:
		for _, nested := range v {
			r, s := refTargets(nested)
			refs = append(refs, r...)
			selectors = append(selectors, s...)
		}
	case Config:
		for _, nested := range v {
			r, s := refTargets(nested)
			refs = append(refs, r...)
			selectors = append(selectors, s...)
		}
	case []any:
		for _, nested := range v {
			r, s := refTargets(nested)
			refs = append(refs, r...)
			selectors = append(selectors, s...)
		}
	}
	return refs, selectors
}

// substituteRefs returns a copy of value with every Ref replaced by the
// built value for its key and every RefSet replaced by the collected map of
// built values matching its selector. built must already contain every
// target; Init guarantees that by walking keys in dependency order.
func substituteRefs(value any, resolver Resolver, built State) any {
	switch v := value.(type) {
	case *Ref:
		return built[v.Key]
	case Ref:
		return built[v.Key]
	case *RefSet:
		return collectSelector(v.Selector, resolver, built)
	case RefSet:
		return collectSelector(v.Selector, resolver, built)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			out[k] = substituteRefs(nested, resolver, built)
		}
		return out
	case Config:
		out := make(Config, len(v))
		for k, nested := range v {
			out[k] = substituteRefs(nested, resolver, built)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			out[i] = substituteRefs(nested, resolver, built)
		}
		return out
	default:
		return value
	}
}

// collectSelector gathers every already-built instance whose key matches
// the selector through the taxonomy.
func collectSelector(selector string, resolver Resolver, built State) map[string]any {
	out := make(map[string]any)
	for key, instance := range built {
		if IsReserved(key) {
			continue
		}
		if matchesSelector(key, selector, resolver) {
			out[key] = instance
		}
	}
	return out
}

// matchesSelector reports whether key matches selector, consulting the
// taxonomy when a resolver is available.
func matchesSelector(key, selector string, resolver Resolver) bool {
	if key == selector {
		return true
	}
	if resolver != nil {
		return resolver.Isa(key, selector)
	}
	return false
}
