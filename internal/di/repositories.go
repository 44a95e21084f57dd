package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/modules/portfolio"
	"github.com/aristath/layerwise/internal/modules/runs"
)

// InitializeRepositories creates the repositories on top of the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) {
	container.PortfolioRepo = portfolio.NewRepository(container.PortfolioDB.Conn(), log)
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn(), log)
}
