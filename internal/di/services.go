package di

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/jobs"
	"github.com/aristath/layerwise/internal/modules/profile"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/reliability"
)

// InitializeServices loads the layer-target profile and creates the engine,
// the job pool and, when configured, the run archiver
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	p, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	container.Profile = p
	container.RebalancingService = rebalancing.NewService(p.Resolve(), log)
	log.Info().Str("profile", p.Name).Str("path", cfg.ProfilePath).Msg("Layer-target profile loaded")

	container.Registry = prometheus.NewRegistry()
	container.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	container.JobPool = jobs.NewPool(jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		TTL:           cfg.Jobs.TTL,
		SweepSchedule: cfg.Jobs.SweepSchedule,
	}, jobs.NewMetrics(container.Registry), log)

	if cfg.Archive.Enabled() {
		archiver, err := reliability.NewS3RunArchiver(ctx, reliability.ArchiveConfig{
			Bucket:          cfg.Archive.Bucket,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize run archive: %w", err)
		}
		container.RunArchiver = archiver
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Run archive enabled")
	}

	return nil
}
