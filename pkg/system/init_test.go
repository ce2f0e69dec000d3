package system_test

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/keelframework/keel/pkg/registry"
	"github.com/keelframework/keel/pkg/system"
)

var errTest = errors.New("boom")

// recordingRegistry builds a registry whose init behavior appends each key
// to order and returns "built:<key>".
func recordingRegistry(t *testing.T, order *[]string, keys ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, key := range keys {
		if err := reg.Register(key, system.OpInit, func(tag string, value any) (any, error) {
			*order = append(*order, tag)
			return "built:" + tag, nil
		}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return reg
}

func TestInit_TopologicalOrder(t *testing.T) {
	var order []string
	reg := recordingRegistry(t, &order, "app/db", "app/handler", "app/server")

	cfg := system.Config{
		"app/db":      map[string]any{"dsn": "postgres://"},
		"app/handler": map[string]any{"db": system.NewRef("app/db")},
		"app/server":  map[string]any{"handler": system.NewRef("app/handler")},
	}

	state, err := system.Init(reg, cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	want := []string{"app/db", "app/handler", "app/server"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("Expected init order %v, got %v", want, order)
	}
	if !reflect.DeepEqual(state.Order(), want) {
		t.Errorf("Expected recorded order %v, got %v", want, state.Order())
	}
	if state[system.MetaSystemID] == "" {
		t.Error("Expected a system id on the state")
	}
}

func TestInit_RefSubstitution(t *testing.T) {
	reg := registry.New()
	var seen any
	if err := reg.Register("app/db", system.OpInit, func(tag string, value any) (any, error) {
		return "conn", nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register("app/handler", system.OpInit, func(tag string, value any) (any, error) {
		seen = value
		return "handler", nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cfg := system.Config{
		"app/db": map[string]any{"dsn": "postgres://"},
		"app/handler": map[string]any{
			"db":    system.NewRef("app/db"),
			"paths": []any{"/health", system.NewRef("app/db")},
		},
	}

	if _, err := system.Init(reg, cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	want := map[string]any{
		"db":    "conn",
		"paths": []any{"/health", "conn"},
	}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("Expected refs substituted to %v, got %v", want, seen)
	}
}

func TestInit_RefSetCollectsMatchingKeys(t *testing.T) {
	reg := registry.New()
	if err := reg.Derive("worker/a", "worker"); err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if err := reg.Derive("worker/b", "worker"); err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if err := reg.Register("worker", system.OpInit, func(tag string, value any) (any, error) {
		return "up:" + tag, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var seen any
	if err := reg.Register("app/pool", system.OpInit, func(tag string, value any) (any, error) {
		seen = value
		return "pool", nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cfg := system.Config{
		"worker/a": 1,
		"worker/b": 2,
		"app/pool": system.NewRefSet("worker"),
	}

	if _, err := system.Init(reg, cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	want := map[string]any{"worker/a": "up:worker/a", "worker/b": "up:worker/b"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("Expected refset collection %v, got %v", want, seen)
	}
}

func TestInit_TransitiveDependenciesIncluded(t *testing.T) {
	var order []string
	reg := recordingRegistry(t, &order, "a", "b", "c")

	cfg := system.Config{
		"a": 1,
		"b": system.NewRef("a"),
		"c": system.NewRef("b"),
	}

	state, err := system.Init(reg, cfg, "c")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	keys := state.Keys()
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Errorf("Expected transitive deps instantiated, got %v", keys)
	}
}

func TestInit_CycleRejectedWithoutPartialState(t *testing.T) {
	var order []string
	reg := recordingRegistry(t, &order, "a", "b")

	cfg := system.Config{
		"a": system.NewRef("b"),
		"b": system.NewRef("a"),
	}

	state, err := system.Init(reg, cfg)
	if !system.IsCyclicDependency(err) {
		t.Fatalf("Expected cyclic dependency error, got %v", err)
	}
	if state != nil {
		t.Errorf("Expected no state on cycle, got %v", state)
	}
	if len(order) != 0 {
		t.Errorf("Expected no component side effects, got inits for %v", order)
	}

	var serr *system.Error
	if !errors.As(err, &serr) {
		t.Fatalf("Expected *system.Error, got %T", err)
	}
	if len(serr.Cycle) == 0 {
		t.Error("Expected the cycle to be named in the error")
	}
}

func TestInit_InvalidReference(t *testing.T) {
	var order []string
	reg := recordingRegistry(t, &order, "a")

	cfg := system.Config{"a": system.NewRef("ghost")}
	_, err := system.Init(reg, cfg)
	if !system.IsInvalidReference(err) {
		t.Fatalf("Expected invalid reference error, got %v", err)
	}
	if len(order) != 0 {
		t.Error("Expected structural failure before any side effect")
	}
}

func TestInit_UnregisteredTagFailsBeforeSideEffects(t *testing.T) {
	var order []string
	reg := recordingRegistry(t, &order, "a")

	cfg := system.Config{
		"a":       1,
		"unknown": 2,
	}

	_, err := system.Init(reg, cfg)
	if !system.IsUnregisteredTag(err) {
		t.Fatalf("Expected unregistered tag error, got %v", err)
	}
	if len(order) != 0 {
		t.Errorf("Expected no inits before structural failure, got %v", order)
	}
}

func TestInit_ComponentFailureCarriesPartialState(t *testing.T) {
	reg := registry.New()
	if err := reg.Register("a", system.OpInit, func(tag string, value any) (any, error) {
		return "built:a", nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register("b", system.OpInit, func(tag string, value any) (any, error) {
		return nil, errTest
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cfg := system.Config{
		"a": 1,
		"b": system.NewRef("a"),
	}

	_, err := system.Init(reg, cfg)
	if !system.IsComponent(err) {
		t.Fatalf("Expected component error, got %v", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("Expected cause preserved, got %v", err)
	}

	var serr *system.Error
	errors.As(err, &serr)
	if serr.Key != "b" {
		t.Errorf("Expected offending key b, got %q", serr.Key)
	}
	partial := system.PartialStateOf(err)
	if partial == nil || partial["a"] != "built:a" {
		t.Errorf("Expected partial state with a built, got %v", partial)
	}
}

func TestInitInto_MergesAndReusesBase(t *testing.T) {
	inits := make(map[string]int)
	reg := registry.New()
	for _, key := range []string{"a", "b"} {
		if err := reg.Register(key, system.OpInit, func(tag string, value any) (any, error) {
			inits[tag]++
			return "built:" + tag, nil
		}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	cfg := system.Config{
		"a": 1,
		"b": system.NewRef("a"),
	}

	base, err := system.Init(reg, cfg, "a")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if inits["a"] != 1 || inits["b"] != 0 {
		t.Fatalf("Expected only a built, got %v", inits)
	}

	merged, err := system.InitInto(reg, cfg, base, "b")
	if err != nil {
		t.Fatalf("InitInto failed: %v", err)
	}
	if inits["a"] != 1 {
		t.Errorf("Expected a reused from base, got %d inits", inits["a"])
	}
	if inits["b"] != 1 {
		t.Errorf("Expected b built once, got %d inits", inits["b"])
	}
	if !reflect.DeepEqual(merged.Order(), []string{"a", "b"}) {
		t.Errorf("Expected merged order [a b], got %v", merged.Order())
	}
	if _, still := base["b"]; still {
		t.Error("Expected base state to be left unmutated")
	}
}
