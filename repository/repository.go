// Package repository defines the storage interfaces consumed by the
// scheduler, backup engine and HTTP handlers. The postgres subpackage
// provides the production implementation.
package repository

import (
	"context"
	"time"

	"github.com/aypapol/gamehost"
)

type ServerRepository interface {
	GetAll(ctx context.Context, search string) ([]*gamehost.Server, error)
	GetByID(ctx context.Context, id string) (*gamehost.Server, error)
	GetByPort(ctx context.Context, port int) (*gamehost.Server, error)
	Insert(ctx context.Context, server *gamehost.Server) error
	Update(ctx context.Context, server *gamehost.Server) error
	UpdateTheme(ctx context.Context, id string, bannerPath, accentColor *string) error
	DeleteByID(ctx context.Context, id string) error
}

type RunRepository interface {
	// Start inserts a new open run for the server and returns it.
	Start(ctx context.Context, serverID string, startedAt time.Time) (*gamehost.Run, error)
	// Stop closes the open run for the server with the given reason.
	// Closing when no run is open is a no-op.
	Stop(ctx context.Context, serverID string, stoppedAt time.Time, reason string) error
	// Open returns the currently open run for the server, or nil.
	Open(ctx context.Context, serverID string) (*gamehost.Run, error)
	History(ctx context.Context, serverID string) ([]*gamehost.Run, error)
	DeleteByServer(ctx context.Context, serverID string) error
}

type BackupRepository interface {
	List(ctx context.Context, serverID string) ([]*gamehost.Backup, error)
	ListAll(ctx context.Context) ([]*gamehost.Backup, error)
	Count(ctx context.Context, serverID string) (int, error)
	Oldest(ctx context.Context, serverID string) (*gamehost.Backup, error)
	Latest(ctx context.Context, serverID string) (*gamehost.Backup, error)
	Insert(ctx context.Context, backup *gamehost.Backup) error
	GetByID(ctx context.Context, id int64) (*gamehost.Backup, error)
	DeleteByID(ctx context.Context, id int64) error
}

// SettingsRepository is a keyed configuration bag. Get falls back to the
// static defaults for recognized keys and returns "" for everything else.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Unset(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

type AuthSessionRepository interface {
	Create(ctx context.Context, session *gamehost.AuthSession) error
	GetByToken(ctx context.Context, token string) (*gamehost.AuthSession, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repository bundles all table repositories behind one handle.
type Repository struct {
	Servers       ServerRepository
	Runs          RunRepository
	Backups       BackupRepository
	PanelSettings SettingsRepository
	BotSettings   SettingsRepository
	Sessions      AuthSessionRepository
}
