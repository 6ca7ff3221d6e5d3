package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/telemetry"
)

type serverSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GameType string `json:"game_type"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.repo.Servers.GetAll(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]serverSummary, 0, len(servers))
	for _, server := range servers {
		out = append(out, serverSummary{
			ID:       server.ID,
			Name:     server.Name,
			GameType: server.GameType,
			Port:     server.Port,
			Status:   s.scheduler.Status(r.Context(), server.ID),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

type createServerRequest struct {
	TemplateID string            `json:"template_id"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Image      string            `json:"docker_image"`
	Port       int               `json:"port"`
	Env        map[string]string `json:"env_vars"`
	Volumes    map[string]string `json:"volumes"`
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	server := &gamehost.Server{
		ID:        req.ID,
		Name:      req.Name,
		Image:     req.Image,
		Port:      req.Port,
		Env:       req.Env,
		Volumes:   req.Volumes,
		CreatedAt: time.Now(),
	}

	if req.TemplateID != "" {
		tmpl := templateByID(req.TemplateID)
		if tmpl == nil {
			writeError(w, fmt.Errorf("unknown template %q: %w", req.TemplateID, gamehost.ErrNotFound))
			return
		}
		server.GameType = tmpl.GameType
		if server.Image == "" {
			server.Image = tmpl.Image
		}
		if server.Port == 0 {
			server.Port = tmpl.Port
		}
		if server.Env == nil {
			server.Env = tmpl.Env
		}
		if len(server.Volumes) == 0 && tmpl.DataPath != "" {
			server.Volumes = map[string]string{"/data/" + server.ID: tmpl.DataPath}
		}
	}

	if server.ID == "" || server.Name == "" || server.Image == "" || server.Port == 0 {
		writeErrorStatus(w, http.StatusBadRequest, "id, name, docker_image and port are required")
		return
	}
	if !gamehost.ServerIDPattern.MatchString(server.ID) {
		writeErrorStatus(w, http.StatusBadRequest, "server id must match [a-z0-9_-]+")
		return
	}

	if _, err := s.repo.Servers.GetByID(r.Context(), server.ID); err == nil {
		writeErrorStatus(w, http.StatusConflict, fmt.Sprintf("server %q already exists", server.ID))
		return
	} else if !errors.Is(err, gamehost.ErrNotFound) {
		writeError(w, err)
		return
	}

	if existing, err := s.repo.Servers.GetByPort(r.Context(), server.Port); err == nil {
		writeErrorStatus(w, http.StatusConflict, fmt.Sprintf("port %d is already used by %s", server.Port, existing.Name))
		return
	} else if !errors.Is(err, gamehost.ErrNotFound) {
		writeError(w, err)
		return
	}

	if err := s.repo.Servers.Insert(r.Context(), server); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("server created", "server_id", server.ID, "port", server.Port)
	writeOK(w)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.scheduler.Delete(r.Context(), id); err != nil {
		if errors.Is(err, gamehost.ErrConflict) {
			writeErrorStatus(w, http.StatusBadRequest, "cannot delete a running server")
			return
		}
		writeError(w, err)
		return
	}

	writeOK(w)
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.scheduler.Start(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, "Server started")
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	message, err := s.scheduler.Stop(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, message)
}

type serverConfig struct {
	Image       string            `json:"docker_image"`
	Env         map[string]string `json:"env_vars"`
	Volumes     map[string]string `json:"volumes"`
	AccentColor *string           `json:"accent_color,omitempty"`
	BannerPath  *string           `json:"banner_path,omitempty"`
}

func (s *Server) handleGetServerConfig(w http.ResponseWriter, r *http.Request) {
	server, err := s.repo.Servers.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, serverConfig{
		Image:       server.Image,
		Env:         server.Env,
		Volumes:     server.Volumes,
		AccentColor: server.AccentColor,
		BannerPath:  server.BannerPath,
	})
}

func (s *Server) handlePutServerConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	server, err := s.repo.Servers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	// Config edits apply on the next start; a running container would
	// silently diverge from its stored config.
	if s.scheduler.Status(r.Context(), id) == gamehost.StatusRunning {
		writeErrorStatus(w, http.StatusConflict, "cannot edit config while server is running")
		return
	}

	var req serverConfig
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.Image != "" {
		server.Image = req.Image
	}
	if req.Env != nil {
		server.Env = req.Env
	}
	if req.AccentColor != nil {
		server.AccentColor = req.AccentColor
	}

	if err := s.repo.Servers.Update(r.Context(), server); err != nil {
		writeError(w, err)
		return
	}

	writeOK(w)
}

type historyEntry struct {
	ID              int64   `json:"id"`
	StartedAt       int64   `json:"started_at"`
	StoppedAt       *int64  `json:"stopped_at"`
	DurationSeconds int64   `json:"duration_seconds"`
	StopReason      *string `json:"stop_reason"`
}

func (s *Server) handleServerHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.repo.Servers.GetByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	runs, err := s.repo.Runs.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	out := make([]historyEntry, 0, len(runs))
	for _, run := range runs {
		entry := historyEntry{
			ID:              run.ID,
			StartedAt:       run.StartedAt.Unix(),
			DurationSeconds: run.Duration(now),
			StopReason:      run.StopReason,
		}
		if run.StoppedAt != nil {
			stopped := run.StoppedAt.Unix()
			entry.StoppedAt = &stopped
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleServerLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.repo.Servers.GetByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	name := s.scheduler.ContainerName(id)
	detail, err := s.engine.Inspect(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	reader, err := s.engine.Logs(r.Context(), name, true, "500", true)
	if err != nil {
		// Fall back to speaking the logs protocol over the engine socket
		// directly; some engine versions stall SDK follow streams.
		s.log.Warn("engine log stream unavailable, using raw socket", "container", name, "error", err)
		reader, err = telemetry.OpenSocketLogs(r.Context(), s.cfg.DockerSocket, name, 500)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		reader.Close()
		writeErrorStatus(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Request cancellation tears the producer down via the shared context.
	lines := telemetry.StreamLogs(r.Context(), reader, detail.TTY)
	for line := range lines {
		if err := sse.Send(line); err != nil {
			return
		}
	}

	if r.Context().Err() == nil {
		sse.SendEnd("..stream ended..")
	}
}

func (s *Server) handleServerStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.repo.Servers.GetByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	reader, err := s.engine.Stats(r.Context(), s.scheduler.ContainerName(id), true)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		reader.Close()
		writeErrorStatus(w, http.StatusInternalServerError, err.Error())
		return
	}

	samples := telemetry.StreamStats(r.Context(), reader)
	for sample := range samples {
		if err := sse.Send(sample); err != nil {
			return
		}
	}

	if r.Context().Err() == nil {
		sse.SendEnd("..stream ended..")
	}
}
