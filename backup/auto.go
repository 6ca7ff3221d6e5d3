package backup

import (
	"context"
	"strconv"
	"time"

	"github.com/aypapol/gamehost"
)

// ActiveFunc reports the currently running game server id, or "" when none
// is running.
type ActiveFunc func(ctx context.Context) (string, error)

// AutoBackupLoop checks once per hour whether the active server is due for a
// backup. All errors are logged and swallowed; the loop never stops on its
// own.
func (e *Engine) AutoBackupLoop(ctx context.Context, active ActiveFunc) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.autoBackupTick(ctx, active)
		}
	}
}

// autoBackupTick runs one due-check. A backup is due when the interval
// setting is positive, a game is running, and the most recent backup for
// that server is older than the interval (or there is none).
func (e *Engine) autoBackupTick(ctx context.Context, active ActiveFunc) {
	interval := e.autoBackupInterval(ctx)
	if interval <= 0 {
		return
	}

	serverID, err := active(ctx)
	if err != nil {
		e.log.Error("auto-backup active query failed", "error", err)
		return
	}
	if serverID == "" {
		return
	}

	latest, err := e.backups.Latest(ctx, serverID)
	if err != nil {
		e.log.Error("auto-backup latest query failed", "server_id", serverID, "error", err)
		return
	}
	if latest != nil && e.now().Sub(latest.CreatedAt) < interval {
		return
	}

	e.log.Info("auto-backup due", "server_id", serverID)
	if _, err := e.Create(ctx, serverID); err != nil {
		e.log.Error("auto-backup failed", "server_id", serverID, "error", err)
	}
}

func (e *Engine) autoBackupInterval(ctx context.Context) time.Duration {
	raw, err := e.settings.Get(ctx, gamehost.SettingAutoBackupIntervalHours)
	if err != nil {
		return 0
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 {
		return 0
	}
	return time.Duration(hours * float64(time.Hour))
}
