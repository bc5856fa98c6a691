package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/voicenotes/internal/transcribe"
)

type HealthResponse struct {
	OK            bool              `json:"ok"`
	Uptime        float64           `json:"uptime"` // seconds
	Version       string            `json:"version,omitempty"`
	Checks        map[string]string `json:"checks"`
	Transcription *QueueStatus      `json:"transcription,omitempty"`
}

// QueueStatus is the orchestrator state reported by /healthz.
type QueueStatus struct {
	Mode string `json:"mode"`
	transcribe.QueueStats
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	db          healthChecker
	mqtt        Connectivity
	transcriber Transcriber
	version     string
	startTime   time.Time
}

func NewHealthHandler(db healthChecker, mqtt Connectivity, transcriber Transcriber, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:          db,
		mqtt:        mqtt,
		transcriber: transcriber,
		version:     version,
		startTime:   startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ok := true
	httpStatus := http.StatusOK

	// Database check
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.db.HealthCheck(ctx); err != nil {
		checks["database"] = "error"
		ok = false
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		OK:      ok,
		Uptime:  time.Since(h.startTime).Seconds(),
		Version: h.version,
		Checks:  checks,
	}

	// Transcription check
	if h.transcriber != nil {
		checks["transcription"] = "ok"
		resp.Transcription = &QueueStatus{
			Mode:       h.transcriber.Mode(),
			QueueStats: h.transcriber.Stats(),
		}
	} else {
		checks["transcription"] = "not_configured"
	}

	WriteJSON(w, httpStatus, resp)
}
