// Package api is the HTTP control-plane surface: server CRUD, start/stop,
// telemetry streams, backups, settings and the auth front door.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aypapol/gamehost/backup"
	"github.com/aypapol/gamehost/config"
	"github.com/aypapol/gamehost/dockerapi"
	"github.com/aypapol/gamehost/notify"
	"github.com/aypapol/gamehost/repository"
	"github.com/aypapol/gamehost/scheduler"
	"github.com/aypapol/gamehost/telemetry"
)

// StreamSource is the engine surface the streaming and service handlers use.
// *dockerapi.Client satisfies it.
type StreamSource interface {
	Inspect(ctx context.Context, name string) (*dockerapi.ContainerDetail, error)
	ListByLabel(ctx context.Context, labelFilters map[string]string, includeStopped bool) ([]dockerapi.ContainerInfo, error)
	Restart(ctx context.Context, name string, graceSeconds int) error
	Logs(ctx context.Context, name string, follow bool, tail string, timestamps bool) (io.ReadCloser, error)
	Stats(ctx context.Context, name string, stream bool) (io.ReadCloser, error)
}

// Server bundles the control plane's collaborators behind the HTTP surface.
type Server struct {
	cfg       *config.Config
	repo      *repository.Repository
	engine    StreamSource
	scheduler *scheduler.Scheduler
	backups   *backup.Engine
	notifier  notify.Notifier
	auth      *Authenticator
	sampler   *telemetry.HostSampler
	log       *slog.Logger
	startedAt time.Time
}

// NewServer wires the HTTP surface.
func NewServer(cfg *config.Config, repo *repository.Repository, engine StreamSource, sched *scheduler.Scheduler, backups *backup.Engine, notifier notify.Notifier, auth *Authenticator, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		repo:      repo,
		engine:    engine,
		scheduler: sched,
		backups:   backups,
		notifier:  notifier,
		auth:      auth,
		sampler:   &telemetry.HostSampler{DataMount: cfg.DataDir},
		log:       logger,
		startedAt: time.Now(),
	}
}

// Handler builds the routed, CORS-wrapped, traced handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/health/status", s.handleHealthStatus)

	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("GET /api/servers/catalog", s.handleCatalog)
	mux.HandleFunc("POST /api/servers", s.auth.RequireUser(s.handleCreateServer))
	mux.HandleFunc("DELETE /api/servers/{id}", s.auth.RequireUser(s.handleDeleteServer))

	mux.HandleFunc("POST /api/servers/{id}/start", s.auth.RequireUserOrBot(s.handleStartServer))
	mux.HandleFunc("POST /api/servers/{id}/stop", s.auth.RequireUserOrBot(s.handleStopServer))

	mux.HandleFunc("GET /api/servers/{id}/logs", s.auth.RequireUser(s.handleServerLogs))
	mux.HandleFunc("GET /api/servers/{id}/stats", s.auth.RequireUser(s.handleServerStats))

	mux.HandleFunc("GET /api/servers/{id}/config", s.auth.RequireUser(s.handleGetServerConfig))
	mux.HandleFunc("PUT /api/servers/{id}/config", s.auth.RequireUser(s.handlePutServerConfig))
	mux.HandleFunc("GET /api/servers/{id}/history", s.auth.RequireUser(s.handleServerHistory))

	mux.HandleFunc("GET /api/servers/{id}/banner", s.handleGetBanner)
	mux.HandleFunc("POST /api/servers/{id}/banner", s.auth.RequireUser(s.handleUploadBanner))
	mux.HandleFunc("DELETE /api/servers/{id}/banner", s.auth.RequireUser(s.handleDeleteBanner))

	mux.HandleFunc("GET /api/servers/{id}/backups", s.auth.RequireUser(s.handleListBackups))
	mux.HandleFunc("POST /api/servers/{id}/backups", s.auth.RequireUser(s.handleCreateBackup))
	mux.HandleFunc("DELETE /api/servers/{id}/backups/{bid}", s.auth.RequireUser(s.handleDeleteBackup))
	mux.HandleFunc("POST /api/servers/{id}/backups/{bid}/restore", s.auth.RequireUser(s.handleRestoreBackup))
	mux.HandleFunc("GET /api/servers/{id}/backups/{bid}/download", s.auth.RequireUser(s.handleDownloadBackup))

	mux.HandleFunc("GET /api/settings", s.auth.RequireUserOrBot(s.handleGetSettings))
	mux.HandleFunc("PUT /api/settings", s.auth.RequireUser(s.handlePutSettings))
	mux.HandleFunc("GET /api/bot/settings", s.auth.RequireUser(s.handleGetBotSettings))
	mux.HandleFunc("PUT /api/bot/settings", s.auth.RequireUser(s.handlePutBotSettings))
	mux.HandleFunc("GET /api/bot/channels", s.auth.RequireUser(s.handleBotChannels))

	mux.HandleFunc("POST /api/notifications/error", s.auth.RequireUser(s.handleErrorNotification))

	mux.HandleFunc("POST /api/services/{name}/restart", s.auth.RequireUser(s.handleServiceRestart))
	mux.HandleFunc("GET /api/services/{name}/logs", s.auth.RequireUser(s.handleServiceLogs))
	mux.HandleFunc("GET /api/services/host/stats", s.auth.RequireUser(s.handleHostStats))
	mux.HandleFunc("GET /api/services/stats", s.auth.RequireUser(s.handleAggregateStats))

	mux.HandleFunc("GET /auth/login", s.auth.HandleLogin)
	mux.HandleFunc("GET /auth/callback", s.auth.HandleCallback)
	mux.HandleFunc("POST /auth/logout", s.auth.HandleLogout)
	mux.HandleFunc("GET /auth/me", s.auth.HandleMe)

	allowedOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if s.cfg.PublicURL != "" {
		allowedOrigins = append(allowedOrigins, s.cfg.PublicURL)
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", botKeyHeader},
		AllowCredentials: true,
	})

	return otelhttp.NewHandler(corsMiddleware.Handler(mux), "gamehost-api")
}
