package xray

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"selfray/internal/storage"
)

func testStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeEngine writes a shell script that ignores its arguments and blocks
// until signaled, standing in for the real binary.
func fakeEngine(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xray")
	script := "#!/bin/sh\nexec sleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func TestSupervisorBinaryMissing(t *testing.T) {
	store := testStore(t)
	dir := t.TempDir()
	sup := NewSupervisor(store, filepath.Join(dir, "no-such-binary"), filepath.Join(dir, "config.json"), time.Second)

	err := sup.Start(context.Background())
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("expected ErrBinaryMissing, got %v", err)
	}
	if running, _ := sup.Status(); running {
		t.Fatal("supervisor must stay stopped when the binary is absent")
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); !os.IsNotExist(err) {
		t.Fatal("no config must be written when the binary is absent")
	}
}

func TestSupervisorStartStopRestart(t *testing.T) {
	store := testStore(t)
	configPath := filepath.Join(t.TempDir(), "config.json")
	sup := NewSupervisor(store, fakeEngine(t), configPath, time.Second)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	running, pid := sup.Status()
	if !running || pid <= 0 {
		t.Fatalf("expected a live child, got running=%v pid=%d", running, pid)
	}

	// The config file on disk is the full synthesized document.
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("config not valid JSON: %v", err)
	}
	inbounds := doc["inbounds"].([]any)
	if len(inbounds) != 1 || inbounds[0].(map[string]any)["tag"] != "api-in" {
		t.Fatalf("unexpected inbound list: %v", inbounds)
	}

	if err := sup.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	running, newPid := sup.Status()
	if !running {
		t.Fatal("expected a live child after restart")
	}
	if newPid == pid {
		t.Fatal("restart must replace the child process")
	}

	sup.Stop()
	if running, _ := sup.Status(); running {
		t.Fatal("expected no child after stop")
	}
	sup.Stop() // idempotent
}

// shortLivedEngine exits on its own shortly after starting, standing in
// for a crashing binary.
func shortLivedEngine(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xray")
	script := "#!/bin/sh\nexec sleep 0.2\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func TestSupervisorRestartsCrashedChild(t *testing.T) {
	store := testStore(t)
	configPath := filepath.Join(t.TempDir(), "config.json")
	sup := NewSupervisor(store, shortLivedEngine(t), configPath, time.Second)
	sup.restartDelay = 50 * time.Millisecond

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, pid := sup.Status()

	deadline := time.Now().Add(5 * time.Second)
	replaced := false
	for time.Now().Before(deadline) {
		if running, newPid := sup.Status(); running && newPid != pid {
			replaced = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !replaced {
		t.Fatal("crashed child was never replaced")
	}

	sup.Stop()
	time.Sleep(500 * time.Millisecond)
	if running, _ := sup.Status(); running {
		t.Fatal("child restarted after a planned stop")
	}
}

func TestSupervisorStreamLogs(t *testing.T) {
	store := testStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "xray")
	script := "#!/bin/sh\necho engine ready\nexec sleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	sup := NewSupervisor(store, path, filepath.Join(dir, "config.json"), time.Second)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for line := range sup.StreamLogs(ctx, true) {
		if line == "engine ready" {
			return
		}
	}
	t.Fatal("never observed the child's output line")
}
