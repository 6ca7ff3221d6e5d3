package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aypapol/gamehost"
)

type RunRepository struct {
	db *pgxpool.Pool
}

func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Start(ctx context.Context, serverID string, startedAt time.Time) (*gamehost.Run, error) {
	run := &gamehost.Run{
		ServerID:  serverID,
		StartedAt: startedAt,
	}

	query := `
		INSERT INTO server_sessions (server_id, started_at)
		VALUES ($1, $2)
		RETURNING session_id
	`

	err := r.db.QueryRow(ctx, query, serverID, startedAt).Scan(&run.ID)
	if err != nil {
		return nil, err
	}

	return run, nil
}

func (r *RunRepository) Stop(ctx context.Context, serverID string, stoppedAt time.Time, reason string) error {
	query := `
		UPDATE server_sessions
		SET stopped_at = $2, stop_reason = $3
		WHERE server_id = $1 AND stopped_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, serverID, stoppedAt, reason)
	return err
}

func (r *RunRepository) Open(ctx context.Context, serverID string) (*gamehost.Run, error) {
	query := `
		SELECT session_id, server_id, started_at, stopped_at, stop_reason
		FROM server_sessions
		WHERE server_id = $1 AND stopped_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`

	run := &gamehost.Run{}
	err := r.db.QueryRow(ctx, query, serverID).Scan(
		&run.ID, &run.ServerID, &run.StartedAt, &run.StoppedAt, &run.StopReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

func (r *RunRepository) History(ctx context.Context, serverID string) ([]*gamehost.Run, error) {
	query := `
		SELECT session_id, server_id, started_at, stopped_at, stop_reason
		FROM server_sessions
		WHERE server_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.Query(ctx, query, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*gamehost.Run
	for rows.Next() {
		run := &gamehost.Run{}
		err := rows.Scan(&run.ID, &run.ServerID, &run.StartedAt, &run.StoppedAt, &run.StopReason)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *RunRepository) DeleteByServer(ctx context.Context, serverID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM server_sessions WHERE server_id = $1`, serverID)
	return err
}
