// Package scheduler enforces the single-game exclusivity policy: at most one
// managed game container runs at a time. It owns every server state
// transition, the run ledger writes that mirror them, and the crash watchers
// that classify unexpected container death.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/dockerapi"
	"github.com/aypapol/gamehost/events"
	"github.com/aypapol/gamehost/notify"
	"github.com/aypapol/gamehost/repository"
)

const (
	// ActiveServerID is the pseudo-id resolving to whatever game container
	// is currently running.
	ActiveServerID = "active"

	stopGraceSeconds     = 10
	defaultWatchInterval = 30 * time.Second
)

// Runtime is the container-engine surface the scheduler depends on.
type Runtime interface {
	ListContainers(ctx context.Context, includeStopped bool) ([]dockerapi.ContainerInfo, error)
	Inspect(ctx context.Context, name string) (*dockerapi.ContainerDetail, error)
	Create(ctx context.Context, spec dockerapi.ContainerSpec) (string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, graceSeconds int) error
	Remove(ctx context.Context, name string, force bool) error
	PullImage(ctx context.Context, ref string) error
}

// ActiveContainer identifies the currently running game container.
type ActiveContainer struct {
	Name     string
	ServerID string
}

// Scheduler serializes all state-changing operations behind one mutex.
// Contention is negligible on a single-host control plane, and a global lock
// makes the exclusivity invariant trivial to maintain.
type Scheduler struct {
	runtime  Runtime
	servers  repository.ServerRepository
	runs     repository.RunRepository
	settings repository.SettingsRepository
	notifier notify.Notifier
	events   *events.Publisher
	metrics  lifecycleCounters
	log      *slog.Logger
	prefix   string

	mu               sync.Mutex
	watchers         map[string]context.CancelFunc
	intentionalStops map[string]struct{}

	transMu     sync.Mutex
	transitions map[string]string

	lookupEnv     func(string) string
	watchInterval time.Duration
	now           func() time.Time
}

// New builds a scheduler over the given runtime and repositories. publisher
// may be nil when no broker is configured.
func New(runtime Runtime, repo *repository.Repository, notifier notify.Notifier, publisher *events.Publisher, prefix string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runtime:          runtime,
		servers:          repo.Servers,
		runs:             repo.Runs,
		settings:         repo.PanelSettings,
		notifier:         notifier,
		events:           publisher,
		metrics:          newLifecycleCounters(),
		log:              logger,
		prefix:           prefix,
		watchers:         make(map[string]context.CancelFunc),
		intentionalStops: make(map[string]struct{}),
		transitions:      make(map[string]string),
		lookupEnv:        os.Getenv,
		watchInterval:    defaultWatchInterval,
		now:              time.Now,
	}
}

// ContainerName returns the managed container name for a server id.
func (s *Scheduler) ContainerName(id string) string {
	return s.prefix + id
}

// Status derives a server's runtime status. Statuses are never persisted;
// the open run row is the authoritative running signal for history.
func (s *Scheduler) Status(ctx context.Context, id string) string {
	if t := s.transition(id); t != "" {
		return t
	}

	detail, err := s.runtime.Inspect(ctx, s.ContainerName(id))
	if err != nil {
		return gamehost.StatusMissing
	}
	if detail.Running {
		return gamehost.StatusRunning
	}
	return gamehost.StatusStopped
}

// ActiveGame returns the running game container, or nil when none is. Game
// containers are recognized by the managed name prefix and the absence of
// the orchestration project label, so the panel's own infrastructure
// containers never count.
func (s *Scheduler) ActiveGame(ctx context.Context) (*ActiveContainer, error) {
	containers, err := s.runtime.ListContainers(ctx, false)
	if err != nil {
		return nil, err
	}

	for _, c := range containers {
		if !strings.HasPrefix(c.Name, s.prefix) {
			continue
		}
		if _, orchestrated := c.Labels[dockerapi.ComposeProjectLabel]; orchestrated {
			continue
		}
		serverID := c.Labels[dockerapi.LabelServerID]
		if serverID == "" {
			serverID = strings.TrimPrefix(c.Name, s.prefix)
		}
		return &ActiveContainer{Name: c.Name, ServerID: serverID}, nil
	}

	return nil, nil
}

// Start starts the server, replacing whichever game container is currently
// running. On any engine failure the transition aborts with no run row
// written and no watcher registered.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, err := s.servers.GetByID(ctx, id)
	if err != nil {
		return err
	}

	s.setTransition(id, gamehost.StatusStarting)
	defer s.clearTransition(id)

	// Whatever is running gets stopped and its run closed first. This
	// covers restarting the same server too; skipping it would leave two
	// open runs for one container.
	active, err := s.ActiveGame(ctx)
	if err != nil {
		return fmt.Errorf("failed to query active container: %w", err)
	}
	if active != nil {
		if err := s.replaceLocked(ctx, active); err != nil {
			return err
		}
	}

	name := s.ContainerName(id)

	// A leftover container under the target name blocks creation. Removal
	// failure for an absent container is expected.
	if err := s.runtime.Remove(ctx, name, true); err != nil && !errors.Is(err, gamehost.ErrNotFound) {
		s.log.Debug("stale container removal", "container", name, "error", err)
	}

	env := make([]string, 0, len(server.Env))
	for key, value := range server.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, resolvePlaceholders(value, s.lookupEnv)))
	}
	sort.Strings(env)

	if err := s.runtime.PullImage(ctx, server.Image); err != nil {
		return runtimeError(err, "failed to pull image %s", server.Image)
	}

	memoryGB := s.settingFloat(ctx, gamehost.SettingGameMemoryLimitGB, 6)
	cpus := s.settingFloat(ctx, gamehost.SettingGameCPULimit, 3)

	spec := dockerapi.ContainerSpec{
		Name:  name,
		Image: server.Image,
		Env:   env,
		Binds: server.Volumes,
		Labels: map[string]string{
			dockerapi.LabelManaged:  "true",
			dockerapi.LabelServerID: id,
		},
		MemoryBytes: int64(memoryGB * (1 << 30)),
		NanoCPUs:    int64(cpus * 1e9),
	}

	if _, err := s.runtime.Create(ctx, spec); err != nil {
		return runtimeError(err, "failed to create container %s", name)
	}
	if err := s.runtime.Start(ctx, name); err != nil {
		return runtimeError(err, "failed to start container %s", name)
	}

	if _, err := s.runs.Start(ctx, id, s.now()); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	delete(s.intentionalStops, id)
	s.registerWatcherLocked(id, server.Name)
	s.events.SessionStarted(ctx, id)
	s.metrics.recordStart(ctx, id)
	s.log.Info("server started", "server_id", id, "image", server.Image)

	return nil
}

// replaceLocked stops the currently running game and closes its run as
// replaced. The old container is fully stopped before the caller proceeds to
// start the new one.
func (s *Scheduler) replaceLocked(ctx context.Context, active *ActiveContainer) error {
	s.intentionalStops[active.ServerID] = struct{}{}

	if err := s.runtime.Stop(ctx, active.Name, stopGraceSeconds); err != nil {
		return runtimeError(err, "failed to stop %s for replacement", active.Name)
	}
	if err := s.runs.Stop(ctx, active.ServerID, s.now(), gamehost.StopReasonReplaced); err != nil {
		return fmt.Errorf("failed to close replaced run: %w", err)
	}

	s.events.SessionStopped(ctx, active.ServerID, gamehost.StopReasonReplaced)
	s.metrics.recordStop(ctx, active.ServerID, gamehost.StopReasonReplaced)
	s.log.Info("server replaced", "server_id", active.ServerID)

	return nil
}

// Stop stops the server and closes its run as a user stop. The pseudo-id
// "active" resolves to the currently running game; with nothing running it
// returns a message instead of an error.
func (s *Scheduler) Stop(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name, serverID string
	if id == ActiveServerID {
		active, err := s.ActiveGame(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to query active container: %w", err)
		}
		if active == nil {
			return "No server running", nil
		}
		name, serverID = active.Name, active.ServerID
	} else {
		if _, err := s.servers.GetByID(ctx, id); err != nil {
			return "", err
		}
		name, serverID = s.ContainerName(id), id
	}

	s.setTransition(serverID, gamehost.StatusStopping)
	defer s.clearTransition(serverID)

	s.intentionalStops[serverID] = struct{}{}

	// A stop failure is logged, not retried; the ledger still closes and
	// the next operator action reconciles.
	if err := s.runtime.Stop(ctx, name, stopGraceSeconds); err != nil {
		s.log.Error("failed to stop container", "container", name, "error", err)
	}

	if err := s.runs.Stop(ctx, serverID, s.now(), gamehost.StopReasonUser); err != nil {
		return "", fmt.Errorf("failed to close run: %w", err)
	}

	s.events.SessionStopped(ctx, serverID, gamehost.StopReasonUser)
	s.metrics.recordStop(ctx, serverID, gamehost.StopReasonUser)
	s.log.Info("server stopped", "server_id", serverID)

	return "Server stopped", nil
}

// Delete removes the server and its run history. Backups are intentionally
// kept so the data can still be restored post-mortem.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.servers.GetByID(ctx, id); err != nil {
		return err
	}

	name := s.ContainerName(id)
	detail, err := s.runtime.Inspect(ctx, name)
	if err == nil && detail.Running {
		return fmt.Errorf("cannot delete while server is running: %w", gamehost.ErrConflict)
	}

	if cancel, ok := s.watchers[id]; ok {
		cancel()
		delete(s.watchers, id)
	}

	if err := s.runtime.Remove(ctx, name, true); err != nil && !errors.Is(err, gamehost.ErrNotFound) {
		s.log.Debug("container removal on delete", "container", name, "error", err)
	}

	if err := s.runs.DeleteByServer(ctx, id); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}
	if err := s.servers.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}

	s.log.Info("server deleted", "server_id", id)
	return nil
}

// Shutdown cancels all crash watchers.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.watchers {
		cancel()
		delete(s.watchers, id)
	}
}

func (s *Scheduler) setTransition(id, status string) {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	s.transitions[id] = status
}

func (s *Scheduler) clearTransition(id string) {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	delete(s.transitions, id)
}

func (s *Scheduler) transition(id string) string {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	return s.transitions[id]
}

func (s *Scheduler) settingFloat(ctx context.Context, key string, fallback float64) float64 {
	raw, err := s.settings.Get(ctx, key)
	if err != nil || raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func runtimeError(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", fmt.Sprintf(format, args...), err, gamehost.ErrRuntime)
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolvePlaceholders expands ${VAR} references against the process
// environment. Unset variables expand to the empty string.
func resolvePlaceholders(value string, lookup func(string) string) string {
	return envPlaceholder.ReplaceAllStringFunc(value, func(match string) string {
		return lookup(match[2 : len(match)-1])
	})
}
