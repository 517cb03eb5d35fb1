package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/jobsync/internal/config"
	"github.com/3leaps/jobsync/internal/observability"
	"github.com/3leaps/jobsync/pkg/dataspace"
	"github.com/3leaps/jobsync/pkg/proxy"
)

// session is an offline proxy over the configured registry. The CLI never
// holds a scheduler connection.
type session struct {
	proxy *proxy.Proxy
	space *dataspace.ProviderClient
}

func newDataSpace(cfg *config.Config, logger *zap.Logger) *dataspace.ProviderClient {
	return dataspace.NewClient(dataspace.Config{
		S3: dataspace.S3Config{
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			Profile:        cfg.S3.Profile,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			DetectRegion:   cfg.S3.DetectRegion,
		},
		Concurrency:               cfg.Transfer.Concurrency,
		RetryBufferMaxMemoryBytes: cfg.Transfer.RetryBufferMaxMemoryBytes,
		Excludes:                  cfg.Transfer.Exclude,
		Logger:                    logger.Named("dataspace"),
	})
}

func proxyOptions(cfg *config.Config, space dataspace.Client, logger *zap.Logger) proxy.Options {
	return proxy.Options{
		DataSpace:          space,
		Dir:                cfg.RegistryDir(),
		SessionName:        cfg.SessionName,
		Identity:           cfg.Identity,
		PushURL:            cfg.PushURL,
		PullURL:            cfg.PullURL,
		Workers:            cfg.Transfer.Workers,
		ReconcileRateLimit: cfg.Reconcile.RateLimit,
		ReconcileTimeout:   cfg.Reconcile.Timeout,
		Logger:             logger,
	}
}

func openSession(ctx context.Context, logger *zap.Logger) (*session, error) {
	if appConfig == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Configuration not loaded", errors.New("no config"))
	}
	if logger == nil {
		logger = observability.CLILogger
	}
	space := newDataSpace(appConfig, logger)
	p, err := proxy.New(proxyOptions(appConfig, space, logger))
	if err != nil {
		_ = space.Close()
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid session", err)
	}
	if _, err := p.Init(ctx); err != nil {
		_ = p.Terminate(context.WithoutCancel(ctx))
		_ = space.Close()
		return nil, exitError(foundry.ExitFileReadError, "Failed to open awaited job registry", err)
	}
	return &session{proxy: p, space: space}, nil
}

func (s *session) Close(ctx context.Context) error {
	err := s.proxy.Terminate(context.WithoutCancel(ctx))
	_ = s.space.Close()
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
