package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aypapol/gamehost"
)

// SettingsRepository backs one keyed settings table (panel_settings or
// bot_settings). Panel settings fall back to the static defaults.
type SettingsRepository struct {
	db          *pgxpool.Pool
	table       string
	useDefaults bool
}

func NewSettingsRepository(db *pgxpool.Pool, table string, useDefaults bool) *SettingsRepository {
	return &SettingsRepository{db: db, table: table, useDefaults: useDefaults}
}

func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, r.table)

	var value string
	err := r.db.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		if r.useDefaults {
			if def, ok := gamehost.SettingDefaults[key]; ok {
				return def, nil
			}
		}
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return value, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, r.table)

	_, err := r.db.Exec(ctx, query, key, value)
	return err
}

func (r *SettingsRepository) Unset(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, r.table)
	_, err := r.db.Exec(ctx, query, key)
	return err
}

func (r *SettingsRepository) GetAll(ctx context.Context) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT key, value FROM %s`, r.table)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	if r.useDefaults {
		for k, v := range gamehost.SettingDefaults {
			settings[k] = v
		}
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}

	return settings, rows.Err()
}
