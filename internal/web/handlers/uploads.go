package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/albumforge/albumforge/internal/pipeline"
	"github.com/albumforge/albumforge/internal/session"
)

// UploadsHandler handles reference and event photo uploads.
type UploadsHandler struct {
	builder *pipeline.Builder
	store   session.Store
	logger  *zap.Logger
}

// NewUploadsHandler creates a new uploads handler.
func NewUploadsHandler(b *pipeline.Builder, store session.Store, logger *zap.Logger) *UploadsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadsHandler{
		builder: b,
		store:   store,
		logger:  logger,
	}
}

// readUpload loads one multipart file into memory with a sanitized filename.
func readUpload(fileHeader *multipart.FileHeader, personName string) (pipeline.Upload, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return pipeline.Upload{}, fmt.Errorf("failed to open file: %s", fileHeader.Filename)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Upload{}, fmt.Errorf("failed to read file: %s", fileHeader.Filename)
	}

	return pipeline.Upload{
		PersonName: personName,
		Filename:   filepath.Base(fileHeader.Filename),
		Data:       data,
	}, nil
}

// References handles reference photo uploads. Each multipart field name is a
// person's name and its files are that person's reference photos:
//
//	curl -F "Alice=@alice1.jpg" -F "Alice=@alice2.jpg" -F "Bob=@bob.jpg" ...
func (h *UploadsHandler) References(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	var uploads []pipeline.Upload
	for personName, files := range r.MultipartForm.File {
		for _, fileHeader := range files {
			up, err := readUpload(fileHeader, personName)
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			uploads = append(uploads, up)
		}
	}
	if len(uploads) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	report, err := h.builder.AddReferences(r.Context(), s, uploads)
	if err != nil {
		var stepErr *session.StepError
		if errors.As(err, &stepErr) {
			respondSessionError(w, err)
			return
		}
		// Every reference was rejected; the report names each failure.
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"failures": failuresOf(report),
		})
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// Events handles event photo uploads under the multipart field "photos".
func (h *UploadsHandler) Events(w http.ResponseWriter, r *http.Request) {
	s := fetchSession(w, r, h.store)
	if s == nil {
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	uploads := make([]pipeline.Upload, 0, len(files))
	for _, fileHeader := range files {
		up, err := readUpload(fileHeader, "")
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		uploads = append(uploads, up)
	}

	report, err := h.builder.AddEvents(r.Context(), s, uploads)
	if err != nil {
		var stepErr *session.StepError
		if errors.As(err, &stepErr) {
			respondSessionError(w, err)
			return
		}
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"failures": failuresOf(report),
		})
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// failuresOf extracts per-file failures from either report type, tolerating
// a nil report.
func failuresOf(report any) []pipeline.ItemFailure {
	switch rep := report.(type) {
	case *pipeline.ReferenceReport:
		if rep != nil {
			return rep.Failures
		}
	case *pipeline.EventReport:
		if rep != nil {
			return rep.Failures
		}
	}
	return nil
}
