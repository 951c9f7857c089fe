package agent

import (
	"os"
	"path/filepath"
	"testing"

	"serialportd/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	drivers := filepath.Join(dir, "drivers")
	if err := os.WriteFile(drivers, []byte("/dev/tty             /dev/tty        5       0 system:/dev/tty\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		AgentID:     "test",
		DriversFile: drivers,
		SysfsRoot:   dir,
		DevDir:      dir,
		SocketPath:  filepath.Join(dir, "agent.sock"),
	}
}

func TestStartStop(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Skipf("uevent socket unavailable: %v", err)
	}

	if a.IsRunning() {
		t.Fatal("running before Start")
	}
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.IsRunning() {
		t.Fatal("not running after Start")
	}
	if err := a.Start(); err == nil {
		t.Fatal("second Start should fail")
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.IsRunning() {
		t.Fatal("still running after Stop")
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopAfterFailedStart(t *testing.T) {
	cfg := testConfig(t)

	// A socket path under a regular file makes the IPC listener fail to
	// bind, so Start errors after the watcher is already created.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.SocketPath = filepath.Join(blocker, "agent.sock")

	a, err := New(cfg)
	if err != nil {
		t.Skipf("uevent socket unavailable: %v", err)
	}

	if err := a.Start(); err == nil {
		t.Fatal("expected Start to fail")
	}
	if a.IsRunning() {
		t.Fatal("running reported true after failed Start")
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop after failed Start: %v", err)
	}
}
