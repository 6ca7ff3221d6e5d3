package api

import (
	"context"
	"net/http"
	"time"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/notify"
	"github.com/aypapol/gamehost/repository"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.repo.PanelSettings.GetAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s.putSettings(w, r, s.repo.PanelSettings, gamehost.PanelSettingKeys)
}

func (s *Server) handleGetBotSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.repo.BotSettings.GetAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	// The token is write-only through the API.
	if _, ok := settings[gamehost.BotSettingToken]; ok {
		settings[gamehost.BotSettingToken] = "********"
	}

	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutBotSettings(w http.ResponseWriter, r *http.Request) {
	s.putSettings(w, r, s.repo.BotSettings, gamehost.BotSettingKeys)
}

// putSettings applies a JSON bag against an allow-list. Unknown keys are
// dropped silently; an empty value unsets the key.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request, repo repository.SettingsRepository, allowed []string) {
	var body map[string]string
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	for _, key := range allowed {
		value, ok := body[key]
		if !ok {
			continue
		}
		var err error
		if value == "" {
			err = repo.Unset(r.Context(), key)
		} else {
			err = repo.Set(r.Context(), key, value)
		}
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeOK(w)
}

func (s *Server) handleBotChannels(w http.ResponseWriter, r *http.Request) {
	channels := make(map[string]string, 4)
	for _, key := range []string{
		gamehost.BotSettingAllowedChannel,
		gamehost.BotSettingErrorsChannel,
		gamehost.BotSettingCrashesChannel,
		gamehost.BotSettingLogsChannel,
	} {
		value, err := s.repo.BotSettings.Get(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		channels[key] = value
	}

	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleErrorNotification(w http.ResponseWriter, r *http.Request) {
	var report notify.ErrorReport
	if err := decodeBody(r, &report); err != nil {
		writeError(w, err)
		return
	}
	if report.Message == "" {
		writeErrorStatus(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 15*time.Second)
	defer cancel()

	sent := true
	if err := s.notifier.Error(ctx, report); err != nil {
		s.log.Warn("error notification delivery failed", "error", err)
		sent = false
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sent": sent})
}
