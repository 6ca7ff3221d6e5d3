// Package postgres implements the repository interfaces on a pgx connection
// pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aypapol/gamehost/repository"
)

// NewRepository connects to the database and returns the full repository
// bundle.
func NewRepository(ctx context.Context, connString string) (*repository.Repository, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &repository.Repository{
		Servers:       NewServerRepository(pool),
		Runs:          NewRunRepository(pool),
		Backups:       NewBackupRepository(pool),
		PanelSettings: NewSettingsRepository(pool, "panel_settings", true),
		BotSettings:   NewSettingsRepository(pool, "bot_settings", false),
		Sessions:      NewAuthSessionRepository(pool),
	}

	return repo, pool, nil
}
