package reload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keelframework/keel/pkg/telemetry"
)

func TestWatcher_DetectsWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(telemetry.Nop(), dir)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "system.yaml")
	if err := os.WriteFile(path, []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		changed, err := w.Changed()
		if err != nil {
			t.Fatalf("Changed failed: %v", err)
		}
		if len(changed) > 0 {
			if changed[0] != path {
				t.Errorf("Expected %s, got %v", path, changed)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the change to be observed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The set drains on read.
	if changed, _ := w.Changed(); len(changed) != 0 {
		t.Errorf("Expected an empty set after draining, got %v", changed)
	}
}

func TestWatcher_MissingPath(t *testing.T) {
	if _, err := NewWatcher(telemetry.Nop(), filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("Expected an error for a missing path")
	}
}
