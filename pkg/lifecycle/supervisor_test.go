package lifecycle_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/keelframework/keel/pkg/config"
	"github.com/keelframework/keel/pkg/lifecycle"
	"github.com/keelframework/keel/pkg/registry"
	"github.com/keelframework/keel/pkg/system"
)

// configDir writes a single YAML source file and returns its directory.
func configDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "system.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return dir
}

func passthroughRegistry(t *testing.T, keys ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, key := range keys {
		if err := reg.Register(key, system.OpInit, func(tag string, value any) (any, error) {
			return value, nil
		}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return reg
}

func TestSupervisor_StartStop(t *testing.T) {
	reg := passthroughRegistry(t, "svc/a", "svc/b")
	sup := lifecycle.New(reg)

	dir := configDir(t, "svc/a: 1\nsvc/b: 2\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if !sup.IsStopped() {
		t.Error("Expected configure to leave the phase stopped")
	}

	if err := sup.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !sup.IsRunning() {
		t.Errorf("Expected running, got %s", sup.Phase())
	}
	st := sup.Status()
	if len(st.Keys) != 2 {
		t.Errorf("Expected 2 instantiated keys, got %v", st.Keys)
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !sup.IsStopped() {
		t.Errorf("Expected stopped, got %s", sup.Phase())
	}
	if st := sup.Status(); len(st.Keys) != 0 || st.Err != nil {
		t.Errorf("Expected a clean stopped snapshot, got %+v", st)
	}

	// Stopping again is a no-op.
	if err := sup.Stop(); err != nil {
		t.Errorf("Expected repeated stop to succeed, got %v", err)
	}
}

func TestSupervisor_StartWithoutConfig(t *testing.T) {
	sup := lifecycle.New(registry.New())
	if err := sup.Start(); !system.IsConfigLoad(err) {
		t.Errorf("Expected config load error, got %v", err)
	}
}

func TestSupervisor_StartWhileRunning(t *testing.T) {
	reg := passthroughRegistry(t, "svc/a")
	sup := lifecycle.New(reg)
	dir := configDir(t, "svc/a: 1\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sup.Start(); err == nil {
		t.Error("Expected full start while running to be rejected")
	}
	if !sup.IsRunning() {
		t.Errorf("Expected rejected start to leave the phase running, got %s", sup.Phase())
	}
}

func TestSupervisor_FailureRetainsPartialState(t *testing.T) {
	boom := errors.New("boom")
	reg := passthroughRegistry(t, "app/first")
	if err := reg.Register("app/second", system.OpInit, func(tag string, value any) (any, error) {
		return nil, boom
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	sup := lifecycle.New(reg)
	dir := configDir(t, "app/first: 1\napp/second: 2\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	err := sup.Start()
	if !system.IsComponent(err) {
		t.Fatalf("Expected component error, got %v", err)
	}
	if !sup.IsFailed() {
		t.Errorf("Expected failed, got %s", sup.Phase())
	}
	if !errors.Is(sup.Err(), boom) {
		t.Errorf("Expected failure record to wrap the cause, got %v", sup.Err())
	}

	st := sup.Status()
	if len(st.Keys) != 1 || st.Keys[0] != "app/first" {
		t.Errorf("Expected the partial state to hold app/first, got %v", st.Keys)
	}

	// Stop is the recovery path: it tears down the partial state.
	var halted []string
	if err := reg.Register("app/first", system.OpHalt, func(tag string, instance any) error {
		halted = append(halted, tag)
		return nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !sup.IsStopped() || sup.Err() != nil {
		t.Errorf("Expected stop to clear the failure, phase %s err %v", sup.Phase(), sup.Err())
	}
	if len(halted) != 1 || halted[0] != "app/first" {
		t.Errorf("Expected the partial state halted, got %v", halted)
	}
}

func TestSupervisor_SuspendResume(t *testing.T) {
	reg := passthroughRegistry(t, "svc/a")
	var events []string
	if err := reg.Register("svc/a", system.OpSuspend, func(tag string, instance any) (any, error) {
		events = append(events, "suspend")
		return instance, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register("svc/a", system.OpResume, func(tag string, instance, fresh any) (any, error) {
		events = append(events, "resume")
		return instance, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	sup := lifecycle.New(reg)
	dir := configDir(t, "svc/a: 1\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := sup.Suspend(); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if !sup.IsSuspended() {
		t.Errorf("Expected suspended, got %s", sup.Phase())
	}
	if err := sup.Suspend(); err == nil {
		t.Error("Expected suspend while suspended to be rejected")
	}

	// Start on a suspended system resumes it.
	if err := sup.Start(); err != nil {
		t.Fatalf("Start-as-resume failed: %v", err)
	}
	if !sup.IsRunning() {
		t.Errorf("Expected running after resume, got %s", sup.Phase())
	}
	if len(events) != 2 || events[0] != "suspend" || events[1] != "resume" {
		t.Errorf("Expected [suspend resume], got %v", events)
	}
}

func TestSupervisor_ResumeWhileStoppedStarts(t *testing.T) {
	reg := passthroughRegistry(t, "svc/a")
	sup := lifecycle.New(reg)
	dir := configDir(t, "svc/a: 1\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := sup.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !sup.IsRunning() {
		t.Errorf("Expected resume on a stopped system to start it, got %s", sup.Phase())
	}
}

func TestSupervisor_PartialStartStop(t *testing.T) {
	reg := passthroughRegistry(t, "svc/a", "svc/b")
	sup := lifecycle.New(reg)
	dir := configDir(t, "svc/a: 1\nsvc/b: 2\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if err := sup.Start("svc/a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	st := sup.Status()
	if len(st.Keys) != 1 || st.Keys[0] != "svc/a" {
		t.Errorf("Expected only svc/a instantiated, got %v", st.Keys)
	}

	// Merge in the second key without touching the first.
	if err := sup.Start("svc/b"); err != nil {
		t.Fatalf("Partial start failed: %v", err)
	}
	if st := sup.Status(); len(st.Keys) != 2 {
		t.Errorf("Expected both keys after the merge, got %v", st.Keys)
	}

	// Stop one key; the system keeps running with the rest.
	if err := sup.Stop("svc/b"); err != nil {
		t.Fatalf("Partial stop failed: %v", err)
	}
	if !sup.IsRunning() {
		t.Errorf("Expected partial stop to leave the system running, got %s", sup.Phase())
	}
	if st := sup.Status(); len(st.Keys) != 1 || st.Keys[0] != "svc/a" {
		t.Errorf("Expected only svc/a left, got %v", st.Keys)
	}
}

func TestSupervisor_Restart(t *testing.T) {
	reg := registry.New()
	builds := 0
	if err := reg.Register("svc/a", system.OpInit, func(tag string, value any) (any, error) {
		builds++
		return value, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	sup := lifecycle.New(reg)
	dir := configDir(t, "svc/a: 1\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sup.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if builds != 2 {
		t.Errorf("Expected a fresh instantiation per restart, got %d", builds)
	}
	if !sup.IsRunning() {
		t.Errorf("Expected running after restart, got %s", sup.Phase())
	}
}

type stubDetector struct {
	changed []string
}

func (d *stubDetector) Changed() ([]string, error) {
	out := d.changed
	d.changed = nil
	return out, nil
}

func TestSupervisor_Reload(t *testing.T) {
	reg := registry.New()
	var seen []any
	if err := reg.Register("svc/a", system.OpInit, func(tag string, value any) (any, error) {
		seen = append(seen, value)
		return value, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	dir := configDir(t, "svc/a: 1\n")
	detector := &stubDetector{}
	sup := lifecycle.New(reg, lifecycle.WithDetector(detector))
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "system.yaml"), []byte("svc/a: 42\n"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
	detector.changed = []string{filepath.Join(dir, "system.yaml")}

	if err := sup.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !sup.IsRunning() {
		t.Errorf("Expected running after reload, got %s", sup.Phase())
	}
	if len(seen) != 2 || seen[1] != 42 {
		t.Errorf("Expected the rewritten value to reach init, got %v", seen)
	}
}

func TestSupervisor_ReloadWhileStoppedOnlyDrains(t *testing.T) {
	detector := &stubDetector{changed: []string{"x"}}
	sup := lifecycle.New(registry.New(), lifecycle.WithDetector(detector))
	if err := sup.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !sup.IsStopped() {
		t.Errorf("Expected reload on a stopped system to stay stopped, got %s", sup.Phase())
	}
	if detector.changed != nil {
		t.Error("Expected the detector to be drained")
	}
}

// Two goroutines hammer Start and Stop; no snapshot may ever show a
// stopped phase together with live component state.
func TestSupervisor_ConcurrentStartStop(t *testing.T) {
	reg := passthroughRegistry(t, "svc/a", "svc/b")
	sup := lifecycle.New(reg)
	dir := configDir(t, "svc/a: 1\nsvc/b: 2\n")
	if err := sup.Configure(config.Options{ResourceDirs: []string{dir}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			sup.Start()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			sup.Stop()
		}
	}()

	for i := 0; i < rounds; i++ {
		st := sup.Status()
		if st.Phase == lifecycle.PhaseStopped && len(st.Keys) > 0 {
			t.Fatalf("Observed a stopped phase with live state: %v", st.Keys)
		}
	}
	wg.Wait()

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if st := sup.Status(); st.Phase != lifecycle.PhaseStopped || len(st.Keys) != 0 {
		t.Errorf("Expected a clean final stop, got %+v", st)
	}
}
