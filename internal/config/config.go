package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
)

// Config is the complete node configuration
type Config struct {
	Node    NodeConfig    `mapstructure:"node"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Peer    PeerConfig    `mapstructure:"peer"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// NodeConfig describes the local node
type NodeConfig struct {
	// Root is the synchronized directory; every file operation is relative to it
	Root string `mapstructure:"root"`

	// Host is the interface the peer server binds to
	Host string `mapstructure:"host"`

	// BasePort is the first port tried when binding the peer server
	BasePort int `mapstructure:"base_port"`

	// StateDir holds the cycle history database
	StateDir string `mapstructure:"state_dir"`

	// PIDFile is written by `peersync run` when set
	PIDFile string `mapstructure:"pid_file"`

	// HistoryRetention bounds the age of recorded cycles; 0 keeps everything
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// TrackerConfig describes the tracker and the session policy
type TrackerConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`

	// ReregisterEveryCycle sends the full file list on every cycle instead
	// of a heartbeat after the first registration
	ReregisterEveryCycle bool `mapstructure:"reregister_every_cycle"`

	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig controls tracker reconnect backoff
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	InitialWait time.Duration `mapstructure:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
}

// PeerConfig controls the peer transfer channel
type PeerConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxFileSize    int64         `mapstructure:"max_file_size"`
	MaxConnections int           `mapstructure:"max_connections"`
	Framing        string        `mapstructure:"framing"`
}

// SyncConfig controls the sync cadence
type SyncConfig struct {
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	Interval         time.Duration `mapstructure:"interval"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	Ignore           []string      `mapstructure:"ignore"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Framing modes for the peer channel
const (
	FramingFramed = "framed"
	FramingRaw    = "raw"
)

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Node.Root == "" {
		return fmt.Errorf("%w: node.root cannot be empty", domain.ErrConfigInvalid)
	}
	if c.Node.BasePort < 1 || c.Node.BasePort > 65535 {
		return fmt.Errorf("%w: node.base_port out of range: %d", domain.ErrConfigInvalid, c.Node.BasePort)
	}
	if c.Node.StateDir == "" {
		return fmt.Errorf("%w: node.state_dir cannot be empty", domain.ErrConfigInvalid)
	}

	if c.Node.HistoryRetention < 0 {
		return fmt.Errorf("%w: node.history_retention cannot be negative", domain.ErrConfigInvalid)
	}

	if !ValidateIPv4(c.Tracker.Host) {
		return fmt.Errorf("%w: tracker.host must be a dotted-decimal IPv4 address: %q",
			domain.ErrConfigInvalid, c.Tracker.Host)
	}
	if !ValidatePort(c.Tracker.Port) {
		return fmt.Errorf("%w: tracker.port out of range: %d", domain.ErrConfigInvalid, c.Tracker.Port)
	}
	if c.Tracker.Timeout <= 0 {
		return fmt.Errorf("%w: tracker.timeout must be positive", domain.ErrConfigInvalid)
	}
	if c.Tracker.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: tracker.retry.max_attempts must be at least 1", domain.ErrConfigInvalid)
	}
	if c.Tracker.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: tracker.retry.multiplier must be >= 1", domain.ErrConfigInvalid)
	}
	if c.Tracker.Retry.Jitter < 0 || c.Tracker.Retry.Jitter > 1 {
		return fmt.Errorf("%w: tracker.retry.jitter must be within [0, 1]", domain.ErrConfigInvalid)
	}

	if c.Peer.Timeout <= 0 {
		return fmt.Errorf("%w: peer.timeout must be positive", domain.ErrConfigInvalid)
	}
	if c.Peer.MaxFileSize <= 0 {
		return fmt.Errorf("%w: peer.max_file_size must be positive", domain.ErrConfigInvalid)
	}
	if c.Peer.MaxConnections <= 0 {
		return fmt.Errorf("%w: peer.max_connections must be positive", domain.ErrConfigInvalid)
	}
	if c.Peer.Framing != FramingFramed && c.Peer.Framing != FramingRaw {
		return fmt.Errorf("%w: peer.framing must be %q or %q", domain.ErrConfigInvalid, FramingFramed, FramingRaw)
	}

	if c.Sync.StartupDelay < 0 {
		return fmt.Errorf("%w: sync.startup_delay cannot be negative", domain.ErrConfigInvalid)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("%w: sync.interval must be positive", domain.ErrConfigInvalid)
	}
	if c.Sync.FetchConcurrency <= 0 {
		return fmt.Errorf("%w: sync.fetch_concurrency must be positive", domain.ErrConfigInvalid)
	}
	for _, pattern := range c.Sync.Ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: bad ignore pattern %q", domain.ErrConfigInvalid, pattern)
		}
	}

	return nil
}

// TrackerAddr returns host:port of the tracker
func (c *Config) TrackerAddr() string {
	return net.JoinHostPort(c.Tracker.Host, fmt.Sprint(c.Tracker.Port))
}

// ValidateIPv4 accepts exactly four dot-separated decimal octets
func ValidateIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n := 0
		for _, ch := range p {
			if ch < '0' || ch > '9' {
				return false
			}
			n = n*10 + int(ch-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// ValidatePort accepts ports in [0, 65535]
func ValidatePort(port int) bool {
	return port >= 0 && port <= 65535
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			if len(path) == 1 {
				path = home
			} else if path[1] == '/' || path[1] == filepath.Separator {
				path = filepath.Join(home, path[2:])
			}
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
