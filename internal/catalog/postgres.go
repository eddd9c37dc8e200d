package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresCatalog reads player reference data from Postgres. The table is
// owned by the catalog seeding tools, not by the auction core.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog connects a pgx pool and verifies the connection.
func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("connected to player catalog database")
	return &PostgresCatalog{pool: pool}, nil
}

func (c *PostgresCatalog) Player(ctx context.Context, id string) (Player, error) {
	const query = `
		SELECT id, full_name, team, position, COALESCE(image_url, ''), base_price
		FROM players
		WHERE id = $1`

	var p Player
	err := c.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Team, &p.Position, &p.ImageURL, &p.BasePrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Player{}, ErrPlayerNotFound
	}
	if err != nil {
		return Player{}, fmt.Errorf("failed to query player %s: %w", id, err)
	}
	return p, nil
}

// Close releases the underlying connection pool.
func (c *PostgresCatalog) Close() {
	c.pool.Close()
}
