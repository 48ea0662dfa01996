package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	middleware "github.com/markdave123-py/contexta/internal/api/middlewares"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/services"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

type DocumentHandler struct {
	docs      *services.DocumentService
	maxUpload int64
	log       zerolog.Logger
}

func NewDocumentHandler(docs *services.DocumentService, maxUpload int64, log zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxUpload: maxUpload, log: logger.Component(log, "documents")}
}

// UploadDocument stores a PDF and queues it for background processing.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Headroom for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		writeMessage(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "could not read file")
		return
	}
	if int64(len(data)) > h.maxUpload {
		writeMessage(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	doc, err := h.docs.Upload(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	documents, err := h.docs.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	doc, err := h.docs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.docs.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
