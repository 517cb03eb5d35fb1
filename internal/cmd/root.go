// Package cmd implements the jobsync command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobsync/internal/config"
	"github.com/3leaps/jobsync/internal/observability"
	"github.com/3leaps/jobsync/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile     string
	verbose     bool
	sessionFlag string
	dataDirFlag string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "jobsync",
	Short: "Track submitted batch jobs and synchronize their data",
	Long: `jobsync remembers batch jobs whose output still has to be retrieved,
pulls task output from remote data spaces and exposes the awaited-job
registry over a small status server.

Configuration is read from $XDG_CONFIG_HOME/jobsync/config.yaml, the file
named by --config or JOBSYNC_CONFIG, and JOBSYNC_* environment variables.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/jobsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "Registry session name")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Registry directory")
}

// SetVersionInfo records build metadata. Called from main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity resolved by the config loader, or nil
// before any command ran.
func GetAppIdentity() *config.AppIdentity {
	return config.Identity()
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return exitCode(err)
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("jobsync", verbose)

	if cfgFile != "" {
		if err := os.Setenv("JOBSYNC_CONFIG", cfgFile); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --config value", err)
		}
	}

	overrides := map[string]any{}
	if sessionFlag != "" {
		overrides["session_name"] = sessionFlag
	}
	if dataDirFlag != "" {
		overrides["data_dir"] = dataDirFlag
	}

	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("session", cfg.SessionName),
		zap.String("registry_dir", cfg.RegistryDir()))
	return nil
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

func exitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
