package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Ning0612/peersync/internal/config"
	"github.com/Ning0612/peersync/internal/daemon"
	"github.com/Ning0612/peersync/internal/logger"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "peersync",
	Short: "Tracker-coordinated peer-to-peer directory sync",
	Long: `peersync keeps a flat directory in step with other nodes.

Every node registers its files with a tracker, receives the network-wide
manifest and pulls newer copies directly from the peers that hold them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints the error, if any
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: peersync.yaml in ., ./configs or the user config dir)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("root", "", "directory to synchronize")
	flags.String("state-dir", "", "directory holding the cycle history")
	flags.String("pid-file", "", "PID file location")

	bindFlag(flags, "log-level", "log.level")
	bindFlag(flags, "root", "node.root")
	bindFlag(flags, "state-dir", "node.state_dir")
	bindFlag(flags, "pid-file", "node.pid_file")

	rootCmd.AddCommand(runCmd, stopCmd, statusCmd, historyCmd, lsCmd, trackerCmd)
}

// bindFlag makes a changed flag override file and env values for key
func bindFlag(flags *pflag.FlagSet, name, key string) {
	if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

// loadConfig reads the configuration; validate is false for commands that
// never talk to the tracker.
func loadConfig(validate bool) (*config.Config, error) {
	if validate {
		return config.Load(v, cfgFile)
	}
	return config.Read(v, cfgFile)
}

// setupLogging initializes the global logger from cfg and returns its cleanup
func setupLogging(cfg *config.Config) (func(), error) {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return func() { logger.Shutdown() }, nil
}

// pidFile returns the configured PID file, falling back to the default location
func pidFile(cfg *config.Config) (*daemon.PIDFile, error) {
	if cfg.Node.PIDFile != "" {
		return daemon.NewPIDFile(cfg.Node.PIDFile), nil
	}
	path, err := daemon.DefaultPIDPath()
	if err != nil {
		return nil, err
	}
	return daemon.NewPIDFile(path), nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
