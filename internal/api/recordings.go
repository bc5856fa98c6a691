package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/audio"
	"github.com/snarg/voicenotes/internal/database"
	"github.com/snarg/voicenotes/internal/metrics"
	"github.com/snarg/voicenotes/internal/models"
	"github.com/snarg/voicenotes/internal/storage"
	"github.com/snarg/voicenotes/internal/transcribe"
)

// RecordingsHandler serves recording upload and CRUD.
type RecordingsHandler struct {
	store       RecordingStore
	blobs       storage.BlobStore
	transcriber Transcriber
	maxUpload   int64
	now         func() time.Time
	log         zerolog.Logger
}

func NewRecordingsHandler(store RecordingStore, blobs storage.BlobStore, transcriber Transcriber, maxUpload int64, log zerolog.Logger) *RecordingsHandler {
	return &RecordingsHandler{
		store:       store,
		blobs:       blobs,
		transcriber: transcriber,
		maxUpload:   maxUpload,
		now:         time.Now,
		log:         log.With().Str("handler", "recordings").Logger(),
	}
}

func (h *RecordingsHandler) Routes(r chi.Router) {
	r.Route("/recordings", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Rename)
		r.Delete("/{id}", h.Delete)
	})
}

// uploadResponse reports the stored recording. TranscriptProcessing is true
// only when a deferred transcription job was queued. False means the client's
// transcript was stored, or the orchestrator refused the job; clients should
// not poll for a transcript then.
type uploadResponse struct {
	Success              bool   `json:"success"`
	AudioURL             string `json:"audio_url"`
	RecordingID          int64  `json:"recording_id"`
	TranscriptProcessing bool   `json:"transcript_processing"`
}

// Upload handles POST /recordings: multipart audio, label, and optionally a
// client-computed full_text and JSON words.
func (h *RecordingsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r, h.maxUpload) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	uid := userID(r)
	label := strings.TrimSpace(r.FormValue("label"))
	data, contentType, err := readAudio(r)
	if err != nil && !errors.Is(err, errMissingAudio) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "failed to read audio file")
		return
	}

	var problems []string
	if label == "" {
		problems = append(problems, "Label is required")
	}
	if data == nil {
		problems = append(problems, "Audio is required")
	}
	if problems != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Missing label or audio", problems...)
		return
	}
	metrics.UploadBytes.Observe(float64(len(data)))

	log := h.log.With().Int64("user_id", uid).Logger()

	ext := audio.ExtFromContentType(contentType)
	key := audio.ObjectKey(uid, h.now(), ext)
	if err := h.blobs.Save(r.Context(), key, data, audio.ContentType(ext)); err != nil {
		log.Error().Err(err).Str("key", key).Msg("audio upload failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "Failed to upload audio")
		return
	}
	audioURL := h.blobs.URL(key)

	rec, err := h.store.CreateRecording(r.Context(), uid, label, audioURL)
	if err != nil {
		if derr := h.blobs.Delete(r.Context(), key); derr != nil {
			log.Warn().Err(derr).Str("key", key).Msg("orphaned audio cleanup failed")
		}
		WriteStoreError(w, log, err, "Failed to save recording metadata")
		return
	}

	// The row is committed; only now may transcription start.
	processing := h.transcriber.Submit(r.Context(), transcribe.Upload{
		RecordingID: rec.ID,
		UserID:      uid,
		AudioURL:    audioURL,
		Audio:       data,
		ContentType: contentType,
		Provided:    providedTranscript(r),
	})

	log.Info().Int64("recording_id", rec.ID).Int("bytes", len(data)).Bool("transcript_processing", processing).Msg("recording uploaded")
	WriteJSON(w, http.StatusOK, uploadResponse{
		Success:              true,
		AudioURL:             audioURL,
		RecordingID:          rec.ID,
		TranscriptProcessing: processing,
	})
}

// providedTranscript returns the client's transcript, or nil if none was
// sent. Malformed words JSON is treated as no words.
func providedTranscript(r *http.Request) *transcribe.Provided {
	text := r.FormValue("full_text")
	if text == "" {
		return nil
	}
	p := &transcribe.Provided{FullText: text}
	if raw := r.FormValue("words"); raw != "" {
		var words []models.Word
		if err := json.Unmarshal([]byte(raw), &words); err == nil {
			p.Words = words
		}
	}
	return p
}

// List handles GET /recordings, newest first.
func (h *RecordingsHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListRecordings(r.Context(), userID(r))
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to fetch recordings")
		return
	}
	WriteJSON(w, http.StatusOK, recs)
}

// Get handles GET /recordings/{id}.
func (h *RecordingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusNotFound, "Recording not found")
		return
	}
	rec, err := h.store.GetRecording(r.Context(), userID(r), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Recording not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to fetch recording")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type renameRequest struct {
	Label string `json:"label" label:"Label" validate:"required"`
}

// Rename handles PUT /recordings/{id}. Recordings of other users are
// reported as not found.
func (h *RecordingsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusNotFound, "Recording not found")
		return
	}
	var req renameRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body", err.Error())
		return
	}
	trimAll(&req.Label)
	if problems := validationProblems(req); problems != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Missing label", problems...)
		return
	}

	err = h.store.RenameRecording(r.Context(), userID(r), id, req.Label)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Recording not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to rename recording")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Delete handles DELETE /recordings/{id}: the blob, the transcript and the
// recording row all go.
func (h *RecordingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusNotFound, "Recording not found")
		return
	}
	uid := userID(r)

	rec, err := h.store.GetRecording(r.Context(), uid, id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Recording not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to delete recording")
		return
	}

	if key, ok := h.blobs.KeyFromURL(rec.AudioURL); ok {
		if err := h.blobs.Delete(r.Context(), key); err != nil {
			h.log.Warn().Err(err).Int64("recording_id", id).Str("key", key).Msg("audio delete failed")
		}
	} else {
		h.log.Warn().Int64("recording_id", id).Str("audio_url", rec.AudioURL).Msg("audio url not in this store, blob left in place")
	}

	err = h.store.DeleteRecording(r.Context(), uid, id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Recording not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to delete recording")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
