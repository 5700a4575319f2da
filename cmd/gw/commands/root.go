package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Exit codes returned by the gw binary.
const (
	ExitSuccess   = 0
	ExitPlanError = 1
	ExitPartial   = 2
	ExitCancelled = 3
)

var (
	// Global flags
	logLevel   string
	logFormat  string
	jsonOutput bool
	statePath  string
	pluginsDir string
	agentPath  string
)

// exitError wraps an error with a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode maps a command error to the process exit code. Cancellation
// maps to 3, partial failures carry their own code, everything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	return ExitPlanError
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && ctx.Err() != nil {
		return exitWith(ExitCancelled, err)
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gw",
		Short: "GroundWork - declarative infrastructure and task orchestration",
		Long: `GroundWork reconciles declared infrastructure topologies against
observed state and runs ordered task lists on the resulting hosts.

Features:
  - Typed topologies via CUE
  - YAML task lists with Starlark guard conditions
  - Providers loadable as WASM plugins
  - Agent-based task execution over SSH
  - Drift detection, policy gating, and state management`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results in JSON format")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "groundwork.db", "state database path")
	rootCmd.PersistentFlags().StringVar(&pluginsDir, "plugins-dir", "", "directory of WASM provider plugins")
	rootCmd.PersistentFlags().StringVar(&agentPath, "agent", "gw-agent", "local path of the gw-agent binary")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())

	return rootCmd
}

// setupLogging configures the process-wide zerolog logger. Commands pull
// component loggers off this root.
func setupLogging() {
	if logFormat == "console" {
		rootLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		rootLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level := logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	switch level {
	case "debug":
		rootLogger = rootLogger.Level(zerolog.DebugLevel)
	case "warn":
		rootLogger = rootLogger.Level(zerolog.WarnLevel)
	case "error":
		rootLogger = rootLogger.Level(zerolog.ErrorLevel)
	default:
		rootLogger = rootLogger.Level(zerolog.InfoLevel)
	}
}

var rootLogger zerolog.Logger
