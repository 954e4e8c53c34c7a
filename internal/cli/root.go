package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vvka-141/atomdeploy/internal/backend"
	"github.com/vvka-141/atomdeploy/internal/config"
	"github.com/vvka-141/atomdeploy/internal/logging"
	"github.com/vvka-141/atomdeploy/internal/tasks"
	"github.com/vvka-141/atomdeploy/internal/ui"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

var rootCmd = &cobra.Command{
	Use:   "atomdeploy",
	Short: "Atomic zero-downtime deployments over SFTP, FTP or local disk",
	Long: `atomdeploy copies a project into a fresh, timestamped deployment directory
on the destination, runs your build commands there and then switches a
"current" symlink to it in one atomic step. Old deployments are removed
according to the retention policy.

The live site never sees a half-copied tree: a failed transfer or command
leaves the previous deployment in place.

Configuration is read from atomdeploy.yaml in the working directory, or from
the files given with --config. Environment variables prefixed ATOMDEPLOY_
override individual keys.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Connection to a remote target failed
  12 - User denied deployment approval
  13 - Local or remote command failed
  14 - Filesystem operation failed
  15 - Task not found`,
	SilenceUsage: true,
}

type rootFlagValues struct {
	configFiles []string
	envFile     string
	verbose     bool
	quiet       bool
	timeout     time.Duration
}

var rootFlags rootFlagValues

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo(os.Stdout)
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&rootFlags.configFiles, "config", "c", nil,
		"Configuration file (can be specified multiple times)\n"+
			"Later files override earlier ones (default: ./atomdeploy.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.envFile, "env-file", "",
		"Load environment variables from this file before reading the configuration\n"+
			"(default: .env next to the first config file, if present)")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable verbose output for all commands")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.quiet, "quiet", "q", false, "Suppress log and progress output")
	rootCmd.PersistentFlags().DurationVar(&rootFlags.timeout, "timeout", 0,
		"Abort the command after this long (default: no limit)\n"+
			"Examples: 30s, 5m, 1h30m")
}

// newLogger builds the logger selected by --verbose and --quiet.
func newLogger() atomdeploy.Logger {
	if rootFlags.quiet {
		return logging.NewNullLogger()
	}
	return logging.NewConsoleLogger(rootFlags.verbose)
}

// loadConfig reads the configuration selected by --config and --env-file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Files:   rootFlags.configFiles,
		EnvFile: rootFlags.envFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newEnv loads the configuration and assembles the task environment.
// The returned close function releases every opened backend.
func newEnv(cmd *cobra.Command) (*tasks.Env, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger()
	logger.Verbose("Configuration loaded from %v", cfg.Files)

	env := &tasks.Env{
		Config:   cfg,
		Backends: backend.NewSet(cfg.Targets, logger),
		Logger:   logger,
		Out:      cmd.OutOrStdout(),
	}
	if !rootFlags.quiet {
		env.Progress = ui.NewProgressPrinter(cmd.ErrOrStderr(), ui.IsInteractive())
	}

	closeFn := func() {
		if err := env.Backends.Close(); err != nil {
			logger.Error("Failed to close connections: %v", err)
		}
	}
	return env, closeFn, nil
}

// selectApprover picks how deployments to protected destinations are
// confirmed. Without --force and without a terminal nothing can confirm,
// and such deployments fail with a configuration error.
func selectApprover(force bool) atomdeploy.Approver {
	if force {
		return ui.NewForcedApprover(rootFlags.verbose)
	}
	if ui.IsInteractive() {
		return ui.NewInteractiveApprover(rootFlags.verbose)
	}
	return nil
}

// commandContext returns a context cancelled by Ctrl+C, SIGTERM or --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if rootFlags.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), rootFlags.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\n[INTERRUPT] Received interrupt signal, cancelling...")
			cancel()
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}
