package di

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/layerwise/internal/database"
	"github.com/aristath/layerwise/internal/jobs"
	"github.com/aristath/layerwise/internal/modules/portfolio"
	"github.com/aristath/layerwise/internal/modules/profile"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/runs"
	"github.com/aristath/layerwise/internal/reliability"
)

// Container holds every long-lived dependency of the server
type Container struct {
	// Databases
	PortfolioDB *database.DB // Holdings snapshots, saving plan, instrument facts
	RunsDB      *database.DB // Persisted proposals (msgpack payloads)

	// Repositories
	PortfolioRepo *portfolio.Repository
	RunRepo       *runs.Repository

	// Services
	Profile            *profile.Profile
	RebalancingService *rebalancing.Service
	JobPool            *jobs.Pool
	RunArchiver        *reliability.RunArchiver // nil when no bucket is configured

	// Metrics registry served at /metrics
	Registry *prometheus.Registry
}

// Databases returns the open databases in a stable order
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.PortfolioDB, c.RunsDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every database
func (c *Container) Close() error {
	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
