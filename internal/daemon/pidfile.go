package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNotRunning is returned when no PID file exists
var ErrNotRunning = errors.New("node is not running")

// NodeInfo is what a running node records in its PID file
type NodeInfo struct {
	PID     int       `json:"pid"`
	Port    int       `json:"port"`
	Root    string    `json:"root"`
	Started time.Time `json:"started"`
}

// PIDFile manages the node's process ID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PID file manager
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location
func (p *PIDFile) Path() string {
	return p.path
}

// DefaultPIDPath returns the PID file location used when none is configured
func DefaultPIDPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}

	pidDir := filepath.Join(configDir, "peersync")
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create PID directory: %w", err)
	}

	return filepath.Join(pidDir, "node.pid"), nil
}

// Write records the current process with its port and root.
// A PID file left by a dead process is replaced.
func (p *PIDFile) Write(port int, root string) error {
	if running, _ := p.IsRunning(); running {
		return fmt.Errorf("node is already running (PID file exists: %s)", p.path)
	}

	info := NodeInfo{PID: os.Getpid(), Port: port, Root: root, Started: time.Now()}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode PID file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded node. A bare integer PID is also accepted.
func (p *PIDFile) Read() (*NodeInfo, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	trimmed := strings.TrimSpace(string(content))
	if pid, err := strconv.Atoi(trimmed); err == nil {
		return &NodeInfo{PID: pid}, nil
	}

	var info NodeInfo
	if err := json.Unmarshal(content, &info); err != nil || info.PID <= 0 {
		return nil, fmt.Errorf("invalid PID file %s", p.path)
	}
	return &info, nil
}

// Remove removes the PID file
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks if the recorded process is alive
func (p *PIDFile) IsRunning() (bool, error) {
	info, err := p.Read()
	if err != nil {
		return false, err
	}
	return ProcessExists(info.PID), nil
}

// Stop asks the recorded process to terminate
func (p *PIDFile) Stop() error {
	info, err := p.Read()
	if err != nil {
		return err
	}
	if !ProcessExists(info.PID) {
		p.Remove()
		return fmt.Errorf("%w: stale PID file for %d removed", ErrNotRunning, info.PID)
	}
	return terminate(info.PID)
}
