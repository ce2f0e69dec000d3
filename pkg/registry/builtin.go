package registry

import (
	"fmt"

	"github.com/keelframework/keel/pkg/system"
)

// Built-in base tags. They are always available and can be overridden or
// derived from like any user tag.
const (
	// TagKey inits to the tag itself.
	TagKey = "key"

	// TagFunction inits by invoking the config value as a callable,
	// passing the tag.
	TagFunction = "function"

	// TagNil always inits to nothing.
	TagNil = "nil"

	// TagValue inits to the stored value unchanged; halt is equally a
	// no-op, the value needs no teardown and is retained.
	TagValue = "value"

	// TagVar inits by dereferencing a named process-wide binding.
	TagVar = "var"

	// TagVarMake inits by creating or overwriting a named binding; halt
	// resets that binding to empty.
	TagVarMake = "var-make"

	// TagPreppedVar expands a symbolic name into a bound-but-
	// undereferenced handle; init dereferences the handle.
	TagPreppedVar = "prepped-var"
)

// Binding is the instance produced by the var-make tag: the binding it
// created, so halt knows what to reset.
type Binding struct {
	Name  string
	Value any
}

// VarHandle is a handle to a named binding produced by prepped-var
// expansion. It is bound to the registry's binding table but not yet
// dereferenced; Deref reads the current value.
type VarHandle struct {
	name string
	reg  *Registry
}

// Name returns the name of the bound binding.
func (h *VarHandle) Name() string { return h.name }

// Deref returns the current value of the binding.
func (h *VarHandle) Deref() (any, error) {
	v, ok := h.reg.Lookup(h.name)
	if !ok {
		return nil, fmt.Errorf("var %s is unbound", h.name)
	}
	return v, nil
}

// Default returns the framework default behavior for op: identity expand,
// no-op suspend and halt, identity resume. Init has no default. Component
// authors wrap these when they only want to decorate the default.
func Default(op system.Op) any {
	switch op {
	case system.OpExpand:
		return system.ExpandFunc(func(_ string, value any) (any, error) {
			return value, nil
		})
	case system.OpSuspend:
		return system.SuspendFunc(func(_ string, instance any) (any, error) {
			return instance, nil
		})
	case system.OpResume:
		return system.ResumeFunc(func(_ string, instance, _ any) (any, error) {
			return instance, nil
		})
	case system.OpHalt:
		return system.HaltFunc(func(string, any) error {
			return nil
		})
	default:
		return nil
	}
}

// registerBuiltins installs the base tags. Registration cannot fail here:
// every function matches its operation type.
func (r *Registry) registerBuiltins() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register(TagKey, system.OpInit, system.InitFunc(
		func(tag string, _ any) (any, error) {
			return tag, nil
		})))

	must(r.Register(TagFunction, system.OpInit, system.InitFunc(
		func(tag string, value any) (any, error) {
			switch f := value.(type) {
			case func(string) (any, error):
				return f(tag)
			case func(string) any:
				return f(tag), nil
			case func() (any, error):
				return f()
			case func() any:
				return f(), nil
			default:
				return nil, fmt.Errorf("function tag %s: value %T is not callable", tag, value)
			}
		})))

	must(r.Register(TagNil, system.OpInit, system.InitFunc(
		func(string, any) (any, error) {
			return nil, nil
		})))

	must(r.Register(TagValue, system.OpInit, system.InitFunc(
		func(_ string, value any) (any, error) {
			return value, nil
		})))
	must(r.Register(TagValue, system.OpHalt, system.HaltFunc(
		func(string, any) error {
			return nil
		})))

	must(r.Register(TagVar, system.OpInit, system.InitFunc(
		func(tag string, value any) (any, error) {
			name, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("var tag %s: value %T is not a binding name", tag, value)
			}
			v, bound := r.Lookup(name)
			if !bound {
				return nil, fmt.Errorf("var tag %s: %s is unbound", tag, name)
			}
			return v, nil
		})))

	must(r.Register(TagVarMake, system.OpInit, system.InitFunc(
		func(tag string, value any) (any, error) {
			m, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("var-make tag %s: value %T is not a {name, value} map", tag, value)
			}
			name, ok := m["name"].(string)
			if !ok {
				return nil, fmt.Errorf("var-make tag %s: missing binding name", tag)
			}
			b := &Binding{Name: name, Value: m["value"]}
			r.Bind(b.Name, b.Value)
			return b, nil
		})))
	must(r.Register(TagVarMake, system.OpHalt, system.HaltFunc(
		func(tag string, instance any) error {
			b, ok := instance.(*Binding)
			if !ok {
				return fmt.Errorf("var-make tag %s: instance %T is not a binding", tag, instance)
			}
			r.Unbind(b.Name)
			return nil
		})))

	must(r.Register(TagPreppedVar, system.OpExpand, system.ExpandFunc(
		func(tag string, value any) (any, error) {
			if h, ok := value.(*VarHandle); ok {
				// Already expanded; expansion stays idempotent.
				return h, nil
			}
			name, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("prepped-var tag %s: value %T is not a binding name", tag, value)
			}
			return &VarHandle{name: name, reg: r}, nil
		})))
	must(r.Register(TagPreppedVar, system.OpInit, system.InitFunc(
		func(tag string, value any) (any, error) {
			h, ok := value.(*VarHandle)
			if !ok {
				return nil, fmt.Errorf("prepped-var tag %s: value %T is not a var handle", tag, value)
			}
			return h.Deref()
		})))
}
