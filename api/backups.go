package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aypapol/gamehost"
)

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.repo.Servers.GetByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	backups, err := s.repo.Backups.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if backups == nil {
		backups = []*gamehost.Backup{}
	}

	writeJSON(w, http.StatusOK, backups)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := s.backups.Create(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, backup)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	backupID, err := backupIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.backups.Delete(r.Context(), r.PathValue("id"), backupID); err != nil {
		writeError(w, err)
		return
	}

	writeOK(w)
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	backupID, err := backupIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.backups.Restore(r.Context(), r.PathValue("id"), backupID); err != nil {
		if errors.Is(err, gamehost.ErrConflict) {
			writeErrorStatus(w, http.StatusBadRequest, "Cannot restore while server is running")
			return
		}
		writeError(w, err)
		return
	}

	writeOK(w)
}

func (s *Server) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	backupID, err := backupIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}

	backup, err := s.repo.Backups.GetByID(r.Context(), backupID)
	if err != nil {
		writeError(w, err)
		return
	}
	if backup.ServerID != r.PathValue("id") {
		writeErrorStatus(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", backup.Filename))
	w.Header().Set("Content-Type", "application/gzip")
	http.ServeFile(w, r, s.backups.Path(backup))
}

func backupIDFromPath(r *http.Request) (int64, error) {
	backupID, err := strconv.ParseInt(r.PathValue("bid"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad backup id: %w", gamehost.ErrValidation)
	}
	return backupID, nil
}
