package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/albumforge/albumforge/internal/session"
)

// DownloadHandler serves finished album archives.
type DownloadHandler struct {
	store  session.Store
	logger *zap.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(store session.Store, logger *zap.Logger) *DownloadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandler{
		store:  store,
		logger: logger,
	}
}

// Download serves the session's album ZIP. The archive only exists once the
// build has completed; earlier requests are rejected rather than serving a
// partial file.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}

	if s.Status() != session.StatusCompleted {
		respondError(w, http.StatusConflict, "album is not ready: the build has not completed")
		return
	}

	zipPath := s.ZipPath()
	if zipPath == "" {
		respondError(w, http.StatusConflict, "album is not ready: no archive was produced")
		return
	}

	h.logger.Info("serving album archive", zap.String("session_id", s.ID))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="album.zip"`)
	http.ServeFile(w, r, zipPath)
}
