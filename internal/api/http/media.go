package http

import (
	"io"
	"net/http"
	"path"
	"path/filepath"

	"github.com/gorilla/mux"
	"loaner-backend/internal/logger"
)

var mediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ServeMedia streams a device photo saved at check-in.
func (s *Server) ServeMedia(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := path.Join(vars["assetTag"], vars["file"])

	file, err := s.media.ReadFile(key)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	contentType, ok := mediaTypes[filepath.Ext(key)]
	if !ok {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")

	if _, err := io.Copy(w, file); err != nil {
		logger.Warn("Failed to stream media", "key", key, "error", err)
	}
}
