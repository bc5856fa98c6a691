package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/snarg/voicenotes/internal/audio"
	"github.com/snarg/voicenotes/internal/models"
)

// DefaultRemoteTimeout bounds a single remote API request.
const DefaultRemoteTimeout = 90 * time.Second

// RemoteBackend calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
// The remote API returns text only, so results carry no word timings.
type RemoteBackend struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewRemoteBackend creates a remote API backend.
func NewRemoteBackend(url, apiKey, model string, timeout time.Duration) *RemoteBackend {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteBackend{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (rb *RemoteBackend) Name() string { return "remote" }

type remoteResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads src.Data as a typed multipart attachment. Every call uses
// a fresh upload filename so concurrent or retried uploads never collide.
func (rb *RemoteBackend) Transcribe(ctx context.Context, src Source) (*Result, error) {
	if rb.apiKey == "" || rb.url == "" {
		return nil, ErrNotConfigured
	}
	if len(src.Data) == 0 {
		return nil, fmt.Errorf("%w: remote backend needs audio bytes", ErrBackendFailed)
	}

	ext := src.Ext
	if ext == "" {
		ext = audio.DefaultExt
	}

	var buf bytes.Buffer
	contentType, err := writeUploadForm(&buf, src.Data, ext, rb.model)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rb.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+rb.apiKey)

	resp, err := rb.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: request: %v", ErrBackendFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendFailed, err)
	}

	var result remoteResponse
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && result.Error != nil && result.Error.Message != "" {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("%w: remote API status %d: %s", ErrBackendFailed, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackendFailed, decodeErr)
	}

	return &Result{FullText: strings.TrimSpace(result.Text), Words: []models.Word{}}, nil
}

// writeUploadForm encodes the multipart request body into dst and returns its
// Content-Type.
func writeUploadForm(dst io.Writer, data []byte, ext, model string) (string, error) {
	w := multipart.NewWriter(dst)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="upload-%s.%s"`, uuid.NewString(), ext))
	h.Set("Content-Type", audio.ContentType(ext))
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}
	if model != "" {
		if err := w.WriteField("model", model); err != nil {
			return "", fmt.Errorf("write model field: %w", err)
		}
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}
	return w.FormDataContentType(), nil
}
