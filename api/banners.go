package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aypapol/gamehost"
)

const maxBannerBytes = 5 << 20

// Upload sniffing accepts only raster formats browsers render natively.
var bannerExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

func (s *Server) bannersDir() string {
	return filepath.Join(s.cfg.DataDir, "banners")
}

func (s *Server) handleUploadBanner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	server, err := s.repo.Servers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBannerBytes)
	if err := r.ParseMultipartForm(maxBannerBytes); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "banner upload too large (max 5 MiB)")
		return
	}

	file, _, err := r.FormFile("banner")
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "missing banner file")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		writeErrorStatus(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	contentType := http.DetectContentType(head[:n])
	ext, ok := bannerExtensions[contentType]
	if !ok {
		writeErrorStatus(w, http.StatusBadRequest, "banner must be JPEG, PNG or WebP")
		return
	}

	if err := os.MkdirAll(s.bannersDir(), 0o755); err != nil {
		writeError(w, err)
		return
	}

	// A format change leaves the old file behind; drop it first.
	s.removeBannerFiles(id)

	target := filepath.Join(s.bannersDir(), id+ext)
	out, err := os.Create(target)
	if err != nil {
		writeError(w, err)
		return
	}
	defer out.Close()

	if _, err := out.Write(head[:n]); err != nil {
		writeError(w, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		writeError(w, err)
		return
	}

	bannerPath := fmt.Sprintf("/api/servers/%s/banner", id)
	if err := s.repo.Servers.UpdateTheme(r.Context(), server.ID, &bannerPath, nil); err != nil {
		writeError(w, err)
		return
	}

	writeOK(w)
}

func (s *Server) handleGetBanner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !gamehost.ServerIDPattern.MatchString(id) {
		writeErrorStatus(w, http.StatusBadRequest, "bad server id")
		return
	}

	for _, ext := range bannerExtensions {
		path := filepath.Join(s.bannersDir(), id+ext)
		if _, err := os.Stat(path); err == nil {
			http.ServeFile(w, r, path)
			return
		}
	}

	writeErrorStatus(w, http.StatusNotFound, "no banner")
}

func (s *Server) handleDeleteBanner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	server, err := s.repo.Servers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	s.removeBannerFiles(id)

	empty := ""
	if err := s.repo.Servers.UpdateTheme(r.Context(), server.ID, &empty, nil); err != nil {
		writeError(w, err)
		return
	}

	writeOK(w)
}

func (s *Server) removeBannerFiles(id string) {
	for _, ext := range bannerExtensions {
		path := filepath.Join(s.bannersDir(), id+ext)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Debug("banner removal", "path", path, "error", err)
		}
	}
}
