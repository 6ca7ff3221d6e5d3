package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aypapol/gamehost"
)

type BackupRepository struct {
	db *pgxpool.Pool
}

func NewBackupRepository(db *pgxpool.Pool) *BackupRepository {
	return &BackupRepository{db: db}
}

const backupColumns = `backup_id, server_id, filename, size_bytes, created_at`

func scanBackup(row pgx.Row) (*gamehost.Backup, error) {
	backup := &gamehost.Backup{}
	err := row.Scan(&backup.ID, &backup.ServerID, &backup.Filename, &backup.SizeBytes, &backup.CreatedAt)
	if err != nil {
		return nil, err
	}
	return backup, nil
}

func (r *BackupRepository) List(ctx context.Context, serverID string) ([]*gamehost.Backup, error) {
	query := `
		SELECT ` + backupColumns + `
		FROM backups
		WHERE server_id = $1
		ORDER BY created_at DESC
	`
	return r.queryBackups(ctx, query, serverID)
}

func (r *BackupRepository) ListAll(ctx context.Context) ([]*gamehost.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups ORDER BY created_at DESC`
	return r.queryBackups(ctx, query)
}

func (r *BackupRepository) queryBackups(ctx context.Context, query string, args ...any) ([]*gamehost.Backup, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []*gamehost.Backup
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, backup)
	}

	return backups, rows.Err()
}

func (r *BackupRepository) Count(ctx context.Context, serverID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM backups WHERE server_id = $1`, serverID).Scan(&count)
	return count, err
}

func (r *BackupRepository) Oldest(ctx context.Context, serverID string) (*gamehost.Backup, error) {
	query := `
		SELECT ` + backupColumns + `
		FROM backups
		WHERE server_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`

	backup, err := scanBackup(r.db.QueryRow(ctx, query, serverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return backup, nil
}

func (r *BackupRepository) Latest(ctx context.Context, serverID string) (*gamehost.Backup, error) {
	query := `
		SELECT ` + backupColumns + `
		FROM backups
		WHERE server_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	backup, err := scanBackup(r.db.QueryRow(ctx, query, serverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return backup, nil
}

func (r *BackupRepository) Insert(ctx context.Context, backup *gamehost.Backup) error {
	query := `
		INSERT INTO backups (server_id, filename, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING backup_id
	`

	return r.db.QueryRow(ctx, query,
		backup.ServerID, backup.Filename, backup.SizeBytes, backup.CreatedAt,
	).Scan(&backup.ID)
}

func (r *BackupRepository) GetByID(ctx context.Context, id int64) (*gamehost.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups WHERE backup_id = $1`

	backup, err := scanBackup(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gamehost.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return backup, nil
}

func (r *BackupRepository) DeleteByID(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM backups WHERE backup_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gamehost.ErrNotFound
	}
	return nil
}
