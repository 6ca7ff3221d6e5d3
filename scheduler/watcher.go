package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aypapol/gamehost"
)

// registerWatcherLocked starts a crash watcher for the server, cancelling
// any earlier watcher for the same id. Caller holds s.mu.
func (s *Scheduler) registerWatcherLocked(id, serverName string) {
	if cancel, ok := s.watchers[id]; ok {
		cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.watchers[id] = cancel
	go s.watch(ctx, id, serverName)
}

// watch polls the container until it stops, then classifies the stop as
// intentional or a crash. The watcher is single-shot: it removes itself from
// the registry when it fires.
func (s *Scheduler) watch(ctx context.Context, id, serverName string) {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		detail, err := s.runtime.Inspect(ctx, s.ContainerName(id))
		if err != nil {
			if errors.Is(err, gamehost.ErrNotFound) {
				// A removed container stopped first.
				if s.settleStopped(ctx, id, serverName) {
					return
				}
			}
			// Transient engine errors are retried on the next tick.
			continue
		}

		if detail.Running {
			s.enforceAutoStop(ctx, id)
			continue
		}

		if s.settleStopped(ctx, id, serverName) {
			return
		}
	}
}

// settleStopped handles the transition to not-running. Returns true when the
// watcher should tear itself down.
func (s *Scheduler) settleStopped(ctx context.Context, id, serverName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent Start may have cancelled this watcher and registered a
	// fresh one; the registry entry is no longer ours to remove.
	if ctx.Err() != nil {
		return true
	}
	delete(s.watchers, id)

	if _, intentional := s.intentionalStops[id]; intentional {
		delete(s.intentionalStops, id)
		return true
	}

	if err := s.runs.Stop(ctx, id, s.now(), gamehost.StopReasonCrash); err != nil {
		s.log.Error("failed to close crashed run", "server_id", id, "error", err)
	}

	s.events.SessionCrashed(ctx, id)
	s.metrics.recordCrash(ctx, id)
	s.metrics.recordStop(ctx, id, gamehost.StopReasonCrash)
	s.log.Warn("server crashed", "server_id", id)

	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.Crash(notifyCtx, serverName); err != nil {
			s.log.Error("failed to send crash notification", "server_id", id, "error", err)
		}
	}()

	return true
}

// enforceAutoStop stops a running server whose open run has outlived the
// configured auto_stop_hours. A zero setting disables the check.
func (s *Scheduler) enforceAutoStop(ctx context.Context, id string) {
	hours := s.settingFloat(ctx, gamehost.SettingAutoStopHours, 0)
	if hours <= 0 {
		return
	}

	run, err := s.runs.Open(ctx, id)
	if err != nil || run == nil {
		return
	}

	if s.now().Sub(run.StartedAt) < time.Duration(hours*float64(time.Hour)) {
		return
	}

	s.log.Info("auto-stop threshold reached", "server_id", id, "hours", hours)
	if _, err := s.Stop(ctx, id); err != nil {
		s.log.Error("auto-stop failed", "server_id", id, "error", err)
	}
}
