// Package gamehost holds the domain model for the single-host game-server
// control plane: servers, run ledger entries, backups, auth sessions and the
// recognized settings keys.
package gamehost

import (
	"errors"
	"regexp"
	"time"
)

// Server lifecycle statuses as derived from the container runtime. They are
// never persisted; the open run row is the authoritative "is running" signal.
const (
	StatusMissing  = "missing"
	StatusStopped  = "stopped"
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopping = "stopping"
)

// Stop reasons recorded on closed runs.
const (
	StopReasonUser     = "user"
	StopReasonCrash    = "crash"
	StopReasonReplaced = "replaced"
)

// Sentinel errors shared across components. Handlers map these to HTTP codes.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrRuntime    = errors.New("runtime operation failed")
)

// ServerIDPattern constrains server identifiers. IDs double as container name
// suffixes and directory names, so the character set stays deliberately small.
var ServerIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Server is a configured game server. Mutated and deleted only while not
// running.
type Server struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	GameType    string            `json:"game_type"`
	Image       string            `json:"docker_image"`
	Port        int               `json:"port"`
	Env         map[string]string `json:"env_vars"`
	Volumes     map[string]string `json:"volumes"` // host path -> container path
	CreatedAt   time.Time         `json:"created_at"`
	BannerPath  *string           `json:"banner_path,omitempty"`
	AccentColor *string           `json:"accent_color,omitempty"`
}

// Run is one interval of a server being live. At most one open run
// (StoppedAt == nil) exists across the whole table at any instant.
type Run struct {
	ID         int64      `json:"id"`
	ServerID   string     `json:"server_id"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason *string    `json:"stop_reason,omitempty"`
}

// Duration returns the run length in seconds, using now for open runs.
func (r *Run) Duration(now time.Time) int64 {
	end := now
	if r.StoppedAt != nil {
		end = *r.StoppedAt
	}
	return int64(end.Sub(r.StartedAt).Seconds())
}

// Backup is a snapshot archive of a server's /data/ volumes. The database row
// is authoritative; orphaned files are tolerated.
type Backup struct {
	ID        int64     `json:"id"`
	ServerID  string    `json:"server_id"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthSession is a verified principal's session. The token indexes the row;
// everything else is display metadata.
type AuthSession struct {
	Token       string
	PrincipalID string
	DisplayName string
	AvatarRef   string
	ExpiresAt   time.Time
}

// Expired reports whether the session is past its expiry.
func (s *AuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Recognized panel settings keys. Writes against the settings bag are
// filtered to this list; unknown keys are dropped silently.
const (
	SettingHostDomain              = "host_domain"
	SettingGameMemoryLimitGB       = "game_memory_limit_gb"
	SettingGameCPULimit            = "game_cpu_limit"
	SettingAutoStopHours           = "auto_stop_hours"
	SettingMaxBackupsPerServer     = "max_backups_per_server"
	SettingAutoBackupIntervalHours = "auto_backup_interval_hours"
)

// PanelSettingKeys is the allow-list for panel settings writes.
var PanelSettingKeys = []string{
	SettingHostDomain,
	SettingGameMemoryLimitGB,
	SettingGameCPULimit,
	SettingAutoStopHours,
	SettingMaxBackupsPerServer,
	SettingAutoBackupIntervalHours,
}

// SettingDefaults are the static fallbacks returned when a key has no stored
// value.
var SettingDefaults = map[string]string{
	SettingHostDomain:              "aypapol.com",
	SettingGameMemoryLimitGB:       "6",
	SettingGameCPULimit:            "3",
	SettingAutoStopHours:           "0",
	SettingMaxBackupsPerServer:     "5",
	SettingAutoBackupIntervalHours: "0",
}

// Recognized bot settings keys. logs_channel_id is stored but not consumed
// anywhere yet.
const (
	BotSettingToken          = "bot_token"
	BotSettingAllowedChannel = "allowed_channel_id"
	BotSettingErrorsChannel  = "errors_channel_id"
	BotSettingCrashesChannel = "crashes_channel_id"
	BotSettingLogsChannel    = "logs_channel_id"
)

// BotSettingKeys is the allow-list for bot settings writes.
var BotSettingKeys = []string{
	BotSettingToken,
	BotSettingAllowedChannel,
	BotSettingErrorsChannel,
	BotSettingCrashesChannel,
	BotSettingLogsChannel,
}
