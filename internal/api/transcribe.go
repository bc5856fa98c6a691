package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/models"
	"github.com/snarg/voicenotes/internal/transcribe"
)

// TranscribeHandler serves immediate transcription. Nothing is persisted.
type TranscribeHandler struct {
	transcriber Transcriber
	maxUpload   int64
	log         zerolog.Logger
}

func NewTranscribeHandler(transcriber Transcriber, maxUpload int64, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		transcriber: transcriber,
		maxUpload:   maxUpload,
		log:         log.With().Str("handler", "transcribe").Logger(),
	}
}

func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
}

type transcribeResponse struct {
	FullText string        `json:"full_text"`
	Words    []models.Word `json:"words"`
}

// Transcribe handles POST /transcribe with a multipart "audio" file.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r, h.maxUpload) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, contentType, err := readAudio(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Missing audio", "Audio is required")
		return
	}

	log := h.log.With().Int64("user_id", userID(r)).Int("bytes", len(data)).Str("content_type", contentType).Logger()
	start := time.Now()

	res, err := h.transcriber.TranscribeNow(r.Context(), data, contentType)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("immediate transcription failed")
		switch {
		case errors.Is(err, transcribe.ErrNotConfigured):
			WriteErrorWithCode(w, http.StatusNotImplemented, ErrTranscriptionUnconfigured, "Local transcription is not configured")
		case errors.Is(err, transcribe.ErrTimeout):
			WriteErrorWithCode(w, http.StatusGatewayTimeout, ErrTranscriptionTimeout, "Local transcription timed out")
		case errors.Is(err, transcribe.ErrBackendFailed):
			WriteErrorWithCode(w, http.StatusBadGateway, ErrTranscriptionFailed, "Local transcription failed")
		default:
			WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "Local transcription failed")
		}
		return
	}

	log.Info().Int("text_len", len(res.FullText)).Dur("elapsed", time.Since(start)).Msg("immediate transcription complete")
	WriteJSON(w, http.StatusOK, transcribeResponse{FullText: res.FullText, Words: res.Words})
}
