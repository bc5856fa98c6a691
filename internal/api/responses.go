package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/database"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// ErrorCode is the machine-readable kind of an API error.
type ErrorCode string

const (
	ErrValidation                ErrorCode = "validation_failed"
	ErrConflict                  ErrorCode = "conflict"
	ErrNotFound                  ErrorCode = "not_found"
	ErrUnauthorized              ErrorCode = "unauthorized"
	ErrForbidden                 ErrorCode = "forbidden"
	ErrInvalidBody               ErrorCode = "invalid_body"
	ErrMissingField              ErrorCode = "missing_field"
	ErrInvalidCredentials        ErrorCode = "invalid_credentials"
	ErrPayloadTooLarge           ErrorCode = "payload_too_large"
	ErrInternal                  ErrorCode = "internal"
	ErrTranscriptionUnconfigured ErrorCode = "transcription_unconfigured"
	ErrTranscriptionFailed       ErrorCode = "transcription_failed"
	ErrTranscriptionTimeout      ErrorCode = "transcription_timeout"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error   string    `json:"error"`
	Code    ErrorCode `json:"code"`
	Details []string  `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the default code for status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteErrorWithCode(w, status, codeForStatus(status), msg)
}

// WriteErrorWithCode writes a JSON error response with an explicit code and
// optional itemized details.
func WriteErrorWithCode(w http.ResponseWriter, status int, code ErrorCode, msg string, details ...string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code, Details: details})
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	default:
		return ErrInternal
	}
}

// constraintDetails maps known unique constraints to user-facing messages.
var constraintDetails = map[string]string{
	"users_username_key": "Username already taken",
	"users_email_key":    "Email already registered",
}

// WriteStoreError translates a store error into a response. Constraint
// violations and missing rows become 4xx with detail; anything else is logged
// and answered with a generic 500 carrying msg.
func WriteStoreError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	var ce *database.ConstraintError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case database.KindUnique:
			detail, ok := constraintDetails[ce.Constraint]
			if !ok {
				detail = "Duplicate value"
			}
			WriteErrorWithCode(w, http.StatusBadRequest, ErrConflict, "Conflict", detail)
			return
		case database.KindNotNull:
			col := ce.Column
			if col == "" {
				col = "unknown column"
			}
			WriteErrorWithCode(w, http.StatusBadRequest, ErrMissingField, "Missing required field", col+" was null or empty")
			return
		case database.KindForeignKey:
			WriteError(w, http.StatusNotFound, "Referenced record not found")
			return
		}
	}

	log.Error().Err(err).Msg(msg)
	WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, msg)
}

// QueryInt64 extracts an int64 query parameter. ok is false if missing;
// err is set if present but invalid.
func QueryInt64(r *http.Request, name string) (n int64, ok bool, err error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, true, fmt.Errorf("invalid %s %q: must be a positive integer", name, v)
	}
	return n, true, nil
}

// PathInt64 extracts a positive int64 from a chi URL parameter.
func PathInt64(r *http.Request, name string) (int64, error) {
	v := chi.URLParam(r, name)
	if v == "" {
		return 0, fmt.Errorf("missing path parameter: %s", name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("missing request body")
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("missing request body")
	}
	return err
}
