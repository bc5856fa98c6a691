package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/config"
	"github.com/snarg/voicenotes/internal/metrics"
	"github.com/snarg/voicenotes/internal/models"
	"github.com/snarg/voicenotes/internal/storage"
	"github.com/snarg/voicenotes/internal/transcribe"
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	FindConflicts(ctx context.Context, username, email string) ([]models.User, error)
	GetUserByLogin(ctx context.Context, identifier string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUsername(ctx context.Context, id int64, username string) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	DeleteUser(ctx context.Context, id int64) error
}

// RecordingStore persists recording metadata. Every call is scoped to the owner.
type RecordingStore interface {
	CreateRecording(ctx context.Context, userID int64, label, audioURL string) (*models.Recording, error)
	ListRecordings(ctx context.Context, userID int64) ([]models.Recording, error)
	GetRecording(ctx context.Context, userID, id int64) (*models.Recording, error)
	RenameRecording(ctx context.Context, userID, id int64, label string) error
	DeleteRecording(ctx context.Context, userID, id int64) error
	ListAudioURLs(ctx context.Context, userID int64) ([]string, error)
	DeleteRecordingsByUser(ctx context.Context, userID int64) error
}

// TranscriptStore reads and edits transcripts.
type TranscriptStore interface {
	ListTranscripts(ctx context.Context, userID, recordingID int64) ([]models.Transcript, error)
	UpdateTranscript(ctx context.Context, userID, id int64, fullText string, words []models.Word) error
	DeleteTranscriptsByUser(ctx context.Context, userID int64) error
}

// Store is everything the HTTP layer needs from the database.
type Store interface {
	UserStore
	RecordingStore
	TranscriptStore
	HealthCheck(ctx context.Context) error
}

// Transcriber is the transcription orchestrator as seen by handlers.
type Transcriber interface {
	Submit(ctx context.Context, u transcribe.Upload) bool
	TranscribeNow(ctx context.Context, data []byte, contentType string) (*transcribe.Result, error)
	Stats() transcribe.QueueStats
	Mode() string
}

// TokenService issues and verifies session tokens.
type TokenService interface {
	TokenVerifier
	Issue(u *models.User) (string, error)
}

// Connectivity reports whether an optional dependency is connected.
type Connectivity interface {
	IsConnected() bool
}

// ServerOptions wires the HTTP layer to its collaborators.
type ServerOptions struct {
	Config      *config.Config
	Store       Store
	Blobs       storage.BlobStore
	Transcriber Transcriber
	Tokens      TokenService
	MQTT        Connectivity // nil when event publishing is disabled
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the full route tree.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	log := opts.Log

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// Public routes
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	})
	health := NewHealthHandler(opts.Store, opts.MQTT, opts.Transcriber, opts.Version, opts.StartTime)
	r.Get("/healthz", health.ServeHTTP)
	r.Handle("/metrics", metrics.Handler())
	if fs, ok := opts.Blobs.(interface{ Handler() http.Handler }); ok {
		r.Handle("/audio/*", fs.Handler())
	}

	authH := NewAuthHandler(opts.Store, opts.Tokens, log)
	authH.Routes(r)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(opts.Tokens))

		authH.AuthedRoutes(r)
		NewRecordingsHandler(opts.Store, opts.Blobs, opts.Transcriber, cfg.MaxUploadBytes, log).Routes(r)
		NewTranscribeHandler(opts.Transcriber, cfg.MaxUploadBytes, log).Routes(r)
		NewTranscriptsHandler(opts.Store, log).Routes(r)
		NewAccountHandler(opts.Store, opts.Blobs, log).Routes(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "Not found")
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
