// Package postgres implements the repository interfaces on PostgreSQL.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.StrategyRepository   = (*Repository)(nil)
	_ repository.ServiceRepository    = (*Repository)(nil)
	_ repository.ServerRepository     = (*Repository)(nil)
	_ repository.ChannelRepository    = (*Repository)(nil)
	_ repository.MetricsRepository    = (*Repository)(nil)
)
