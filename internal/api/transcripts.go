package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/database"
	"github.com/snarg/voicenotes/internal/models"
)

type TranscriptsHandler struct {
	store TranscriptStore
	log   zerolog.Logger
}

func NewTranscriptsHandler(store TranscriptStore, log zerolog.Logger) *TranscriptsHandler {
	return &TranscriptsHandler{
		store: store,
		log:   log.With().Str("handler", "transcripts").Logger(),
	}
}

func (h *TranscriptsHandler) Routes(r chi.Router) {
	r.Get("/transcripts", h.List)
	r.Put("/transcripts/{id}", h.Update)
}

// List handles GET /transcripts, most recently updated first. An optional
// ?recording_id= narrows the list to one recording.
func (h *TranscriptsHandler) List(w http.ResponseWriter, r *http.Request) {
	recordingID, _, err := QueryInt64(r, "recording_id")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Invalid query", err.Error())
		return
	}
	ts, err := h.store.ListTranscripts(r.Context(), userID(r), recordingID)
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to fetch transcripts")
		return
	}
	WriteJSON(w, http.StatusOK, ts)
}

type updateTranscriptRequest struct {
	FullText string        `json:"full_text" label:"Full text" validate:"required"`
	Words    []models.Word `json:"words"` // nil keeps the stored words
}

// Update handles PUT /transcripts/{id}.
func (h *TranscriptsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusNotFound, "Transcript not found")
		return
	}
	var req updateTranscriptRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body", err.Error())
		return
	}
	if problems := validationProblems(req); problems != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Missing full_text", problems...)
		return
	}

	err = h.store.UpdateTranscript(r.Context(), userID(r), id, req.FullText, req.Words)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Transcript not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to update transcript")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
