package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/dockerapi"
	"github.com/aypapol/gamehost/telemetry"
)

// infraServices lists the panel's own orchestrated containers.
func (s *Server) infraServices(r *http.Request) ([]dockerapi.ContainerInfo, error) {
	return s.engine.ListByLabel(r.Context(), map[string]string{
		dockerapi.ComposeProjectLabel: s.cfg.ComposeProject,
	}, true)
}

// infraServiceByName resolves one orchestrated container by its compose
// service name.
func (s *Server) infraServiceByName(r *http.Request, name string) (*dockerapi.ContainerInfo, error) {
	services, err := s.infraServices(r)
	if err != nil {
		return nil, err
	}
	for _, svc := range services {
		if svc.Labels[dockerapi.ComposeServiceLabel] == name {
			return &svc, nil
		}
	}
	return nil, fmt.Errorf("service %s: %w", name, gamehost.ErrNotFound)
}

func (s *Server) handleServiceRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	svc, err := s.infraServiceByName(r, name)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.engine.Restart(r.Context(), svc.Name, 10); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("service restarted", "service", name)
	writeOK(w)
}

func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	svc, err := s.infraServiceByName(r, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}

	detail, err := s.engine.Inspect(r.Context(), svc.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	reader, err := s.engine.Logs(r.Context(), svc.Name, true, "500", true)
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

	for line := range telemetry.StreamLogs(r.Context(), reader, detail.TTY) {
		if err := sse.Send(line); err != nil {
			return
		}
	}

	if r.Context().Err() == nil {
		sse.SendEnd("..stream ended..")
	}
}

func (s *Server) handleHostStats(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, err.Error())
		return
	}

	for sample := range s.sampler.Stream(r.Context()) {
		if err := sse.Send(sample); err != nil {
			return
		}
	}
}

// taggedSample is one aggregate-stream record, tagged with the service it
// came from.
type taggedSample struct {
	Service string `json:"service"`
	telemetry.Sample
}

// handleAggregateStats fans every infrastructure service's stats stream into
// one response. The stream stays open until the client disconnects, even
// after individual producers settle.
func (s *Server) handleAggregateStats(w http.ResponseWriter, r *http.Request) {
	services, err := s.infraServices(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, err.Error())
		return
	}

	merged := make(chan taggedSample)
	var wg sync.WaitGroup

	for _, svc := range services {
		name := svc.Labels[dockerapi.ComposeServiceLabel]
		if name == "" {
			name = svc.Name
		}

		reader, err := s.engine.Stats(r.Context(), svc.Name, true)
		if err != nil {
			s.log.Debug("stats stream unavailable", "service", name, "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for sample := range telemetry.StreamStats(r.Context(), reader) {
				select {
				case merged <- taggedSample{Service: name, Sample: sample}:
				case <-r.Context().Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case sample, ok := <-merged:
			if !ok {
				// All producers settled; hold the response open for
				// the client.
				<-r.Context().Done()
				return
			}
			if err := sse.Send(sample); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
