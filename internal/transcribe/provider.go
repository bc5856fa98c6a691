package transcribe

import (
	"context"
	"errors"

	"github.com/snarg/voicenotes/internal/models"
)

var (
	// ErrNotConfigured means no backend is available to serve the call:
	// no script is configured or no interpreter could be launched.
	ErrNotConfigured = errors.New("transcription backend not configured")

	// ErrTimeout means the backend did not finish within its wall clock.
	ErrTimeout = errors.New("transcription timed out")

	// ErrBackendFailed wraps every other backend failure.
	ErrBackendFailed = errors.New("transcription failed")
)

// Source references the audio to transcribe. Backends use Data when it is
// set and fall back to URL otherwise.
type Source struct {
	URL  string
	Data []byte
	Ext  string // file extension without the dot, e.g. "webm"
}

// Result is the common transcription result from any backend.
type Result struct {
	FullText string
	Words    []models.Word // empty if the backend has no word timings
}

// Backend is the interface for speech-to-text backends.
type Backend interface {
	Transcribe(ctx context.Context, src Source) (*Result, error)
	Name() string // "local", "remote"
}
