// Package backup produces consistent on-disk snapshots of game data. The
// create pipeline pauses a running container, archives the server's /data/
// volumes into a gzip-compressed tar, resumes the container and prunes old
// archives down to the retention cap.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/dockerapi"
	"github.com/aypapol/gamehost/events"
	"github.com/aypapol/gamehost/observability/metrics"
	"github.com/aypapol/gamehost/repository"
)

// dataPathPrefix selects which volume mounts count as game data. Only host
// paths under this prefix are archived.
const dataPathPrefix = "/data/"

// ErrNoDataVolumes rejects a backup of a server without any /data/ volumes.
var ErrNoDataVolumes = fmt.Errorf("no /data/ volumes configured: %w", gamehost.ErrValidation)

// ContainerControl is the runtime surface the engine needs to freeze a
// container during the copy.
type ContainerControl interface {
	Inspect(ctx context.Context, name string) (*dockerapi.ContainerDetail, error)
	Pause(ctx context.Context, name string) error
	Unpause(ctx context.Context, name string) error
}

// Engine owns the backup root directory tree. The database rows are
// authoritative; orphaned files are tolerated.
type Engine struct {
	control  ContainerControl
	servers  repository.ServerRepository
	backups  repository.BackupRepository
	settings repository.SettingsRepository
	events   *events.Publisher
	mirror   *Mirror
	created  metric.Int64Counter
	log      *slog.Logger

	prefix     string
	dataDir    string
	backupRoot string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewEngine builds a backup engine. mirror may be nil when no offsite bucket
// is configured.
func NewEngine(control ContainerControl, repo *repository.Repository, publisher *events.Publisher, mirror *Mirror, prefix, dataDir, backupRoot string, logger *slog.Logger) *Engine {
	created, _ := metrics.Meter("gamehost/backup").Int64Counter("gamehost.backups.created",
		metric.WithDescription("Backup archives created"))
	return &Engine{
		control:    control,
		servers:    repo.Servers,
		backups:    repo.Backups,
		settings:   repo.PanelSettings,
		events:     publisher,
		mirror:     mirror,
		created:    created,
		log:        logger,
		prefix:     prefix,
		dataDir:    dataDir,
		backupRoot: backupRoot,
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

// lockFor returns the per-server mutex so two creates for the same server
// cannot interleave.
func (e *Engine) lockFor(serverID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[serverID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[serverID] = lock
	}
	return lock
}

// Create snapshots the server's /data/ volumes into a new archive, records
// it and applies retention. A running container is paused for the duration
// of the copy and resumed on every exit path.
func (e *Engine) Create(ctx context.Context, serverID string) (*gamehost.Backup, error) {
	lock := e.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	server, err := e.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}

	dirs := dataDirs(server.Volumes)
	if len(dirs) == 0 {
		return nil, ErrNoDataVolumes
	}

	serverDir := filepath.Join(e.backupRoot, serverID)
	if err := os.MkdirAll(serverDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	createdAt := e.now()
	filename := fmt.Sprintf("%s_%s.tar.gz", serverID, createdAt.Format("2006-01-02_15-04-05"))
	archivePath := filepath.Join(serverDir, filename)

	containerName := e.prefix + serverID
	paused := false
	if detail, err := e.control.Inspect(ctx, containerName); err == nil && detail.Running {
		if err := e.control.Pause(ctx, containerName); err != nil {
			e.log.Warn("failed to pause container for backup", "server_id", serverID, "error", err)
		} else {
			paused = true
		}
	}

	archiveErr := func() error {
		defer func() {
			if !paused {
				return
			}
			// The container must resume even when the caller's request
			// was cancelled mid-archive.
			if err := e.control.Unpause(context.WithoutCancel(ctx), containerName); err != nil {
				e.log.Error("failed to unpause container after backup", "server_id", serverID, "error", err)
			}
		}()
		return createArchive(archivePath, e.dataDir, dirs)
	}()
	if archiveErr != nil {
		os.Remove(archivePath)
		return nil, fmt.Errorf("failed to archive data: %w", archiveErr)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	backup := &gamehost.Backup{
		ServerID:  serverID,
		Filename:  filename,
		SizeBytes: info.Size(),
		CreatedAt: createdAt,
	}
	if err := e.backups.Insert(ctx, backup); err != nil {
		os.Remove(archivePath)
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}

	if err := e.applyRetention(ctx, serverID); err != nil {
		e.log.Error("backup retention failed", "server_id", serverID, "error", err)
	}

	e.events.BackupCreated(ctx, serverID, filename, backup.SizeBytes)
	e.created.Add(ctx, 1, metric.WithAttributes(attribute.String("server_id", serverID)))
	e.mirrorUpload(serverID, filename, archivePath)
	e.log.Info("backup created", "server_id", serverID, "filename", filename, "size_bytes", backup.SizeBytes)

	return backup, nil
}

// applyRetention deletes oldest backups until the server is at or below the
// configured cap.
func (e *Engine) applyRetention(ctx context.Context, serverID string) error {
	max := e.maxBackups(ctx)

	for {
		count, err := e.backups.Count(ctx, serverID)
		if err != nil {
			return err
		}
		if count <= max {
			return nil
		}

		oldest, err := e.backups.Oldest(ctx, serverID)
		if err != nil {
			return err
		}
		if oldest == nil {
			return nil
		}

		if err := e.removeArchive(oldest); err != nil {
			e.log.Warn("failed to remove pruned archive", "filename", oldest.Filename, "error", err)
		}
		if err := e.backups.DeleteByID(ctx, oldest.ID); err != nil {
			return err
		}
		e.log.Info("backup pruned", "server_id", serverID, "filename", oldest.Filename)
	}
}

// Restore extracts a backup archive back into the data directory. Refused
// while the container is running.
func (e *Engine) Restore(ctx context.Context, serverID string, backupID int64) error {
	lock := e.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	if detail, err := e.control.Inspect(ctx, e.prefix+serverID); err == nil && detail.Running {
		return fmt.Errorf("cannot restore while server is running: %w", gamehost.ErrConflict)
	}

	backup, err := e.resolve(ctx, serverID, backupID)
	if err != nil {
		return err
	}

	archivePath := e.Path(backup)
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("backup file %s: %w", backup.Filename, gamehost.ErrNotFound)
	}

	if err := extractArchive(archivePath, e.dataDir); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}

	e.log.Info("backup restored", "server_id", serverID, "filename", backup.Filename)
	return nil
}

// Delete unlinks the archive best-effort and always deletes the row.
func (e *Engine) Delete(ctx context.Context, serverID string, backupID int64) error {
	backup, err := e.resolve(ctx, serverID, backupID)
	if err != nil {
		return err
	}

	if err := e.removeArchive(backup); err != nil {
		e.log.Warn("failed to remove archive file", "filename", backup.Filename, "error", err)
	}
	e.mirrorDelete(serverID, backup.Filename)

	if err := e.backups.DeleteByID(ctx, backup.ID); err != nil {
		return fmt.Errorf("failed to delete backup row: %w", err)
	}

	e.log.Info("backup deleted", "server_id", serverID, "filename", backup.Filename)
	return nil
}

// Path returns the on-disk location of a backup archive.
func (e *Engine) Path(backup *gamehost.Backup) string {
	return filepath.Join(e.backupRoot, backup.ServerID, backup.Filename)
}

// resolve loads the backup row and verifies it belongs to the server.
func (e *Engine) resolve(ctx context.Context, serverID string, backupID int64) (*gamehost.Backup, error) {
	backup, err := e.backups.GetByID(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if backup.ServerID != serverID {
		return nil, fmt.Errorf("backup %d does not belong to %s: %w", backupID, serverID, gamehost.ErrNotFound)
	}
	return backup, nil
}

func (e *Engine) removeArchive(backup *gamehost.Backup) error {
	err := os.Remove(e.Path(backup))
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (e *Engine) maxBackups(ctx context.Context) int {
	raw, err := e.settings.Get(ctx, gamehost.SettingMaxBackupsPerServer)
	if err != nil {
		return 5
	}
	max, err := strconv.Atoi(raw)
	if err != nil || max < 1 {
		return 5
	}
	return max
}

// dataDirs maps the server's /data/ volume mounts to their relative
// directories under the data root.
func dataDirs(volumes map[string]string) []string {
	var dirs []string
	for hostPath := range volumes {
		if !strings.HasPrefix(hostPath, dataPathPrefix) {
			continue
		}
		rel := strings.TrimPrefix(hostPath, dataPathPrefix)
		rel = strings.Trim(rel, "/")
		if rel != "" {
			dirs = append(dirs, rel)
		}
	}
	return dirs
}
