package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobsync/internal/observability"
	"github.com/3leaps/jobsync/internal/server"
	"github.com/3leaps/jobsync/internal/server/handlers"
	"github.com/3leaps/jobsync/pkg/jobregistry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the awaited-job registry over HTTP",
	Long: `Start the read-only status server.

Routes:
  /health, /health/live, /health/ready, /health/startup
  /version
  /v1/jobs, /v1/jobs/{jobID}
  /metrics (when metrics.enabled)

The server stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().Int("port", -1, "Listen port (overrides server.port)")
}

// signalHealthChecker reports the process as able to handle signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

// registryHealthChecker pings the registry database.
type registryHealthChecker struct {
	registry *jobregistry.Registry
}

func (c registryHealthChecker) CheckHealth(ctx context.Context) error {
	if c.registry == nil {
		return errors.New("registry not initialized")
	}
	if err := c.registry.Ping(ctx); err != nil {
		return fmt.Errorf("registry unavailable: %w", err)
	}
	return nil
}

// identityHealthChecker verifies the resolved application identity.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	host := cfg.Server.Host
	if h, _ := cmd.Flags().GetString("host"); h != "" {
		host = h
	}
	port := cfg.Server.Port
	if p, _ := cmd.Flags().GetInt("port"); p >= 0 {
		port = p
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	s, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Warn("Session close failed", zap.Error(err))
		}
	}()

	health := handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		health.RegisterChecker("signal", signalHealthChecker{})
		health.RegisterChecker("registry", registryHealthChecker{registry: s.proxy.Registry()})
		if id := GetAppIdentity(); id != nil {
			health.RegisterChecker("identity", identityHealthChecker{
				binaryName: id.BinaryName,
				envPrefix:  id.EnvPrefix,
				configName: id.ConfigName,
			})
		}
	}

	srv := server.New(host, port,
		server.WithLogger(logger.Named("http")),
		server.WithJobs(s.proxy.Registry()),
		server.WithMetrics(cfg.Metrics.Enabled),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
	)

	logger.Info("Starting jobsync status server",
		zap.String("addr", srv.Addr()),
		zap.String("session", s.proxy.SessionName()),
		zap.Int("awaited_jobs", len(s.proxy.AwaitedJobIDs())),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Status server failed", err)
	}
	return nil
}
