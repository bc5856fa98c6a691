package api

import (
	"errors"
	"io"
	"net/http"
)

var errMissingAudio = errors.New("missing audio")

// parseMultipart parses a multipart form of at most maxBytes and writes the
// error response itself when parsing fails.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return false
		}
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form", err.Error())
		return false
	}
	return true
}

// readAudio returns the bytes and declared content type of the "audio" file
// field. A missing or empty file yields errMissingAudio.
func readAudio(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, "", errMissingAudio
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errMissingAudio
	}
	return data, header.Header.Get("Content-Type"), nil
}
