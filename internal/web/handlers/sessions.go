package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/albumforge/albumforge/internal/pipeline"
	"github.com/albumforge/albumforge/internal/session"
	"github.com/albumforge/albumforge/internal/web/middleware"
)

// SessionsHandler handles session lifecycle endpoints.
type SessionsHandler struct {
	builder *pipeline.Builder
	store   session.Store
	logger  *zap.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(b *pipeline.Builder, store session.Store, logger *zap.Logger) *SessionsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionsHandler{
		builder: b,
		store:   store,
		logger:  logger,
	}
}

// fetchSession loads the session named in the URL, enforcing ownership.
// Writes the error response and returns nil when the session is unavailable.
func fetchSession(w http.ResponseWriter, r *http.Request, store session.Store) *session.Session {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return nil
	}

	s, err := store.Get(r.Context(), sessionID, middleware.GetUserID(r.Context()))
	if err != nil {
		respondSessionError(w, err)
		return nil
	}
	return s
}

// Create starts a new album session for the authenticated user.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	s, err := h.builder.StartSession(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	h.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("owner", sanitizeForLog(userID)))
	respondJSON(w, http.StatusCreated, s.Snapshot())
}

// Get returns the current session status.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

// Delete removes a session and its working files.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}

	if err := h.builder.Cleanup(r.Context(), s); err != nil {
		h.logger.Error("session cleanup failed", zap.String("session_id", s.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Duplicates reports groups of near-identical event photos in the session.
func (h *SessionsHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}

	groups := h.builder.Duplicates(s)
	respondJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}
