package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aypapol/gamehost"
)

type ServerRepository struct {
	db *pgxpool.Pool
}

func NewServerRepository(db *pgxpool.Pool) *ServerRepository {
	return &ServerRepository{db: db}
}

const serverColumns = `server_id, name, game_type, image, port, env, volumes, created_at, banner_path, accent_color`

func scanServer(row pgx.Row) (*gamehost.Server, error) {
	server := &gamehost.Server{}
	var env, volumes []byte
	err := row.Scan(
		&server.ID,
		&server.Name,
		&server.GameType,
		&server.Image,
		&server.Port,
		&env,
		&volumes,
		&server.CreatedAt,
		&server.BannerPath,
		&server.AccentColor,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env, &server.Env); err != nil {
		return nil, fmt.Errorf("failed to decode env for server %s: %w", server.ID, err)
	}
	if err := json.Unmarshal(volumes, &server.Volumes); err != nil {
		return nil, fmt.Errorf("failed to decode volumes for server %s: %w", server.ID, err)
	}
	return server, nil
}

func (r *ServerRepository) GetAll(ctx context.Context, search string) ([]*gamehost.Server, error) {
	query := `
		SELECT ` + serverColumns + `
		FROM servers
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR server_id ILIKE '%' || $1 || '%')
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*gamehost.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}

	return servers, rows.Err()
}

func (r *ServerRepository) GetByID(ctx context.Context, id string) (*gamehost.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE server_id = $1`

	server, err := scanServer(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gamehost.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return server, nil
}

func (r *ServerRepository) GetByPort(ctx context.Context, port int) (*gamehost.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE port = $1`

	server, err := scanServer(r.db.QueryRow(ctx, query, port))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gamehost.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return server, nil
}

func (r *ServerRepository) Insert(ctx context.Context, server *gamehost.Server) error {
	env, err := json.Marshal(server.Env)
	if err != nil {
		return fmt.Errorf("failed to encode env: %w", err)
	}
	volumes, err := json.Marshal(server.Volumes)
	if err != nil {
		return fmt.Errorf("failed to encode volumes: %w", err)
	}

	query := `
		INSERT INTO servers (server_id, name, game_type, image, port, env, volumes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Exec(ctx, query,
		server.ID, server.Name, server.GameType, server.Image,
		server.Port, env, volumes, server.CreatedAt,
	)
	return err
}

func (r *ServerRepository) Update(ctx context.Context, server *gamehost.Server) error {
	env, err := json.Marshal(server.Env)
	if err != nil {
		return fmt.Errorf("failed to encode env: %w", err)
	}
	volumes, err := json.Marshal(server.Volumes)
	if err != nil {
		return fmt.Errorf("failed to encode volumes: %w", err)
	}

	query := `
		UPDATE servers
		SET name = $2, game_type = $3, image = $4, port = $5, env = $6, volumes = $7
		WHERE server_id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		server.ID, server.Name, server.GameType, server.Image,
		server.Port, env, volumes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gamehost.ErrNotFound
	}
	return nil
}

func (r *ServerRepository) UpdateTheme(ctx context.Context, id string, bannerPath, accentColor *string) error {
	query := `
		UPDATE servers
		SET banner_path = COALESCE($2, banner_path),
		    accent_color = COALESCE($3, accent_color)
		WHERE server_id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, bannerPath, accentColor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gamehost.ErrNotFound
	}
	return nil
}

func (r *ServerRepository) DeleteByID(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM servers WHERE server_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gamehost.ErrNotFound
	}
	return nil
}
