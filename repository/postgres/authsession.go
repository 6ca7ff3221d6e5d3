package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aypapol/gamehost"
)

type AuthSessionRepository struct {
	db *pgxpool.Pool
}

func NewAuthSessionRepository(db *pgxpool.Pool) *AuthSessionRepository {
	return &AuthSessionRepository{db: db}
}

func (r *AuthSessionRepository) Create(ctx context.Context, session *gamehost.AuthSession) error {
	query := `
		INSERT INTO sessions (token, principal_id, display_name, avatar_ref, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query,
		session.Token, session.PrincipalID, session.DisplayName,
		session.AvatarRef, session.ExpiresAt,
	)
	return err
}

func (r *AuthSessionRepository) GetByToken(ctx context.Context, token string) (*gamehost.AuthSession, error) {
	query := `
		SELECT token, principal_id, display_name, avatar_ref, expires_at
		FROM sessions
		WHERE token = $1
	`

	session := &gamehost.AuthSession{}
	err := r.db.QueryRow(ctx, query, token).Scan(
		&session.Token, &session.PrincipalID, &session.DisplayName,
		&session.AvatarRef, &session.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gamehost.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *AuthSessionRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func (r *AuthSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
