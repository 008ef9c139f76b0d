package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Ning0612/peersync/internal/domain"
)

// EnvPrefix is the prefix for environment overrides, e.g. PEERSYNC_TRACKER_HOST
const EnvPrefix = "PEERSYNC"

// DefaultConfigPaths returns the directories searched for peersync.yaml
func DefaultConfigPaths() []string {
	paths := []string{".", "./configs"}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "peersync"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".peersync"))
	}

	return paths
}

// DefaultStateDir is where the cycle history lives when node.state_dir is unset
func DefaultStateDir() string {
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "peersync")
	}
	return ".peersync-state"
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node.root", ".")
	v.SetDefault("node.host", "0.0.0.0")
	v.SetDefault("node.base_port", 8000)
	v.SetDefault("node.state_dir", DefaultStateDir())
	v.SetDefault("node.pid_file", "")
	v.SetDefault("node.history_retention", 7*24*time.Hour)

	v.SetDefault("tracker.host", "")
	v.SetDefault("tracker.port", 0)
	v.SetDefault("tracker.timeout", 180*time.Second)
	v.SetDefault("tracker.reregister_every_cycle", false)
	v.SetDefault("tracker.retry.max_attempts", 3)
	v.SetDefault("tracker.retry.initial_wait", 500*time.Millisecond)
	v.SetDefault("tracker.retry.max_wait", 10*time.Second)
	v.SetDefault("tracker.retry.multiplier", 2.0)
	v.SetDefault("tracker.retry.jitter", 0.1)

	v.SetDefault("peer.timeout", 180*time.Second)
	v.SetDefault("peer.max_file_size", int64(64<<20))
	v.SetDefault("peer.max_connections", 64)
	v.SetDefault("peer.framing", FramingFramed)

	v.SetDefault("sync.startup_delay", 2*time.Second)
	v.SetDefault("sync.interval", 5*time.Second)
	v.SetDefault("sync.fetch_concurrency", 4)
	v.SetDefault("sync.ignore", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.listen", "")
}

// New returns a viper instance with defaults and environment binding.
// Callers may bind command-line flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and validates the configuration.
// With an explicit path the file must exist; otherwise the default
// locations are searched and a missing file just means defaults+env+flags.
func Load(v *viper.Viper, path string) (*Config, error) {
	cfg, err := Read(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only inspect local
// state and never reach the tracker.
func Read(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConfigNotFound
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("peersync")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// defaults, env and flags only
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string on top of defaults
func LoadFromString(yamlContent string) (*Config, error) {
	v := New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.Node.Root = ExpandPath(cfg.Node.Root)
	cfg.Node.StateDir = ExpandPath(cfg.Node.StateDir)
	cfg.Node.PIDFile = ExpandPath(cfg.Node.PIDFile)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	cfg.Peer.Framing = strings.ToLower(cfg.Peer.Framing)
	return &cfg, nil
}
