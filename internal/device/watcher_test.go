package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_FiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(path, []byte("devices: []\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	changed := make(chan struct{}, 4)
	w, err := NewWatcher(path, 50*time.Millisecond, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// A burst of writes collapses into one callback.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("devices: []\n# edit\n"), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange not called after write")
	}

	select {
	case <-changed:
		t.Error("burst produced more than one callback")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(path, []byte("devices: []\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(path, 20*time.Millisecond, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start(context.Background())
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case <-changed:
		t.Error("onChange called for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	w, err := NewWatcher(path, 0, func() {})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
