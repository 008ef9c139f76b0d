package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ning0612/peersync/internal/daemon"
)

// deadPID is far above any real pid_max
const deadPID = 2147483000

func TestPIDFile_WriteAndRead(t *testing.T) {
	pidFile := daemon.NewPIDFile(filepath.Join(t.TempDir(), "node.pid"))

	if err := pidFile.Write(8001, "/srv/share"); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	defer pidFile.Remove()

	info, err := pidFile.Read()
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), info.PID)
	}
	if info.Port != 8001 || info.Root != "/srv/share" {
		t.Errorf("Unexpected node info: %+v", info)
	}
	if info.Started.IsZero() {
		t.Error("Start time not recorded")
	}
}

func TestPIDFile_ReadPlainPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.pid")
	if err := os.WriteFile(path, []byte("1234\n"), 0644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}

	info, err := daemon.NewPIDFile(path).Read()
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}
	if info.PID != 1234 {
		t.Errorf("Expected PID 1234, got %d", info.PID)
	}
}

func TestPIDFile_ReadMissing(t *testing.T) {
	_, err := daemon.NewPIDFile(filepath.Join(t.TempDir(), "absent.pid")).Read()
	if !errors.Is(err, daemon.ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

func TestPIDFile_ReadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.pid")
	os.WriteFile(path, []byte("not a pid"), 0644)

	if _, err := daemon.NewPIDFile(path).Read(); err == nil {
		t.Error("Expected error for invalid PID file")
	}
}

func TestPIDFile_IsRunning(t *testing.T) {
	pidFile := daemon.NewPIDFile(filepath.Join(t.TempDir(), "node.pid"))

	if err := pidFile.Write(8000, "."); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	defer pidFile.Remove()

	running, err := pidFile.IsRunning()
	if err != nil {
		t.Fatalf("Failed to check if running: %v", err)
	}
	if !running {
		t.Error("Expected process to be running")
	}
}

func TestPIDFile_WriteExisting(t *testing.T) {
	pidFile := daemon.NewPIDFile(filepath.Join(t.TempDir(), "node.pid"))

	if err := pidFile.Write(8000, "."); err != nil {
		t.Fatalf("Failed to write PID file first time: %v", err)
	}
	defer pidFile.Remove()

	if err := pidFile.Write(8000, "."); err == nil {
		t.Error("Expected error when writing PID file for running process")
	}
}

func TestPIDFile_StalePIDReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.pid")
	pidFile := daemon.NewPIDFile(path)

	if err := os.WriteFile(path, []byte("2147483000\n"), 0644); err != nil {
		t.Fatalf("Failed to write fake PID: %v", err)
	}

	if err := pidFile.Write(8000, "."); err != nil {
		t.Fatalf("Failed to write after stale PID: %v", err)
	}
	defer pidFile.Remove()

	info, err := pidFile.Read()
	if err != nil {
		t.Fatalf("Failed to read PID: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("Expected current PID %d, got %d", os.Getpid(), info.PID)
	}
}

func TestPIDFile_StopStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.pid")
	os.WriteFile(path, []byte("2147483000\n"), 0644)

	err := daemon.NewPIDFile(path).Stop()
	if !errors.Is(err, daemon.ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Stale PID file should be removed")
	}
}

func TestProcessExists(t *testing.T) {
	if !daemon.ProcessExists(os.Getpid()) {
		t.Error("Current process should exist")
	}
	if daemon.ProcessExists(deadPID) {
		t.Error("Bogus PID should not exist")
	}
	if daemon.ProcessExists(0) || daemon.ProcessExists(-1) {
		t.Error("Non-positive PIDs should not exist")
	}
}

func TestDefaultPIDPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("AppData", filepath.Join(home, "AppData"))

	path, err := daemon.DefaultPIDPath()
	if err != nil {
		t.Fatalf("Failed to get default PID path: %v", err)
	}
	if filepath.Base(path) != "node.pid" {
		t.Errorf("Unexpected PID path %s", path)
	}
	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		t.Errorf("PID directory was not created: %s", filepath.Dir(path))
	}
}

func TestPIDFile_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.pid")
	pidFile := daemon.NewPIDFile(path)

	if err := pidFile.Write(8000, "."); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	if err := pidFile.Remove(); err != nil {
		t.Fatalf("Failed to remove PID file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file should not exist after removal")
	}
	if err := pidFile.Remove(); err != nil {
		t.Errorf("Removing a missing PID file should succeed, got %v", err)
	}
}
