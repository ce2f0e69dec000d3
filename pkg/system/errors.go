package system

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an orchestration error for recovery decisions.
type ErrorKind string

const (
	// KindConfigLoad indicates a missing or unparseable config source, or a
	// top-level key with no resolvable owning implementation.
	KindConfigLoad ErrorKind = "config_load"

	// KindCyclicDependency indicates a reference cycle detected while
	// ordering keys for instantiation.
	KindCyclicDependency ErrorKind = "cyclic_dependency"

	// KindAmbiguousDispatch indicates two unrelated ancestor tags register
	// conflicting behavior at the same resolution depth.
	KindAmbiguousDispatch ErrorKind = "ambiguous_dispatch"

	// KindUnregisteredTag indicates no behavior and no applicable default
	// exists for a required operation.
	KindUnregisteredTag ErrorKind = "unregistered_tag"

	// KindInvalidReference indicates a Ref or RefSet points at a key absent
	// from the configuration.
	KindInvalidReference ErrorKind = "invalid_reference"

	// KindComponent wraps a failure raised by a component's own behavior,
	// annotated with the offending key and the partial state built so far.
	KindComponent ErrorKind = "component"
)

// Error is the classified error type used throughout the framework.
//
// Structural errors (cyclic, ambiguous, unregistered, invalid reference)
// abort an operation before any side effect. Component errors abort after
// some side effects have happened; PartialState carries whatever had been
// built so the caller can decide to stop explicitly. No compensating
// teardown is attempted.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the human-readable error message.
	Message string

	// Key is the component key that caused the error, if applicable.
	Key string

	// Op is the operation being resolved or executed when the error
	// occurred (expand, init, suspend, resume, halt).
	Op Op

	// Cycle holds the offending key cycle for cyclic dependency errors.
	Cycle []string

	// PartialState holds the state built before a component failure.
	PartialState State

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Key != "" {
		fmt.Fprintf(&b, " (key=%s", e.Key)
		if e.Op != "" {
			fmt.Fprintf(&b, ", op=%s", e.Op)
		}
		b.WriteString(")")
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Cycle, " -> "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithKey annotates the error with the component key it concerns.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithOp annotates the error with the operation being performed.
func (e *Error) WithOp(op Op) *Error {
	e.Op = op
	return e
}

// NewConfigLoadError creates a config load error.
func NewConfigLoadError(message string, err error) *Error {
	return &Error{Kind: KindConfigLoad, Message: message, Err: err}
}

// NewCyclicDependencyError creates a cyclic dependency error naming the
// cycle that was detected.
func NewCyclicDependencyError(cycle []string) *Error {
	return &Error{
		Kind:    KindCyclicDependency,
		Message: "reference cycle detected",
		Cycle:   cycle,
	}
}

// NewAmbiguousDispatchError creates an ambiguous dispatch error.
func NewAmbiguousDispatchError(tag string, op Op, candidates []string) *Error {
	return &Error{
		Kind: KindAmbiguousDispatch,
		Message: fmt.Sprintf("tag %s resolves %s through unrelated ancestors %s",
			tag, op, strings.Join(candidates, ", ")),
		Key: tag,
		Op:  op,
	}
}

// NewUnregisteredTagError creates an unregistered tag error.
func NewUnregisteredTagError(tag string, op Op) *Error {
	return &Error{
		Kind:    KindUnregisteredTag,
		Message: fmt.Sprintf("no %s behavior registered for tag %s", op, tag),
		Key:     tag,
		Op:      op,
	}
}

// NewInvalidReferenceError creates an invalid reference error.
func NewInvalidReferenceError(from, target string) *Error {
	return &Error{
		Kind:    KindInvalidReference,
		Message: fmt.Sprintf("key %s references %s, which is not in the configuration", from, target),
		Key:     from,
	}
}

// NewComponentError wraps a failure from a component behavior with the
// offending key and the partial state built before the failure.
func NewComponentError(key string, op Op, partial State, err error) *Error {
	return &Error{
		Kind:         KindComponent,
		Message:      "component operation failed",
		Key:          key,
		Op:           op,
		PartialState: partial,
		Err:          err,
	}
}

// KindOf extracts the classified kind of err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// KeyOf extracts the component key named by err, or "" if none is set.
func KeyOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Key
	}
	return ""
}

// IsConfigLoad returns true if the error is a config load error.
func IsConfigLoad(err error) bool { return KindOf(err) == KindConfigLoad }

// IsCyclicDependency returns true if the error is a cyclic dependency error.
func IsCyclicDependency(err error) bool { return KindOf(err) == KindCyclicDependency }

// IsAmbiguousDispatch returns true if the error is an ambiguous dispatch error.
func IsAmbiguousDispatch(err error) bool { return KindOf(err) == KindAmbiguousDispatch }

// IsUnregisteredTag returns true if the error is an unregistered tag error.
func IsUnregisteredTag(err error) bool { return KindOf(err) == KindUnregisteredTag }

// IsInvalidReference returns true if the error is an invalid reference error.
func IsInvalidReference(err error) bool { return KindOf(err) == KindInvalidReference }

// IsComponent returns true if the error wraps a component behavior failure.
func IsComponent(err error) bool { return KindOf(err) == KindComponent }

// PartialStateOf returns the partial state carried by a component error,
// or nil if err carries none.
func PartialStateOf(err error) State {
	var e *Error
	if errors.As(err, &e) {
		return e.PartialState
	}
	return nil
}
