package api

import (
	"net/http"
	"time"

	"github.com/aypapol/gamehost/dockerapi"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type serviceStatus struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Running bool   `json:"running"`
}

type healthStatus struct {
	Status        string          `json:"status"`
	BackendUptime int64           `json:"backendUptime"`
	Services      []serviceStatus `json:"services"`
	ActiveGame    *string         `json:"activeGame"`
	Timestamp     int64           `json:"timestamp"`
}

func (s *Server) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:        "operational",
		BackendUptime: int64(time.Since(s.startedAt).Seconds()),
		Services:      []serviceStatus{},
		Timestamp:     time.Now().Unix(),
	}

	services, err := s.infraServices(r)
	if err != nil {
		status.Status = "degraded"
	} else {
		for _, svc := range services {
			name := svc.Labels[dockerapi.ComposeServiceLabel]
			if name == "" {
				name = svc.Name
			}
			status.Services = append(status.Services, serviceStatus{
				Name:    name,
				State:   svc.State,
				Running: svc.Running(),
			})
			if !svc.Running() {
				status.Status = "degraded"
			}
		}
	}

	active, err := s.scheduler.ActiveGame(r.Context())
	if err == nil && active != nil {
		status.ActiveGame = &active.ServerID
	}

	writeJSON(w, http.StatusOK, status)
}
