package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/api"
	"github.com/snarg/voicenotes/internal/auth"
	"github.com/snarg/voicenotes/internal/config"
	"github.com/snarg/voicenotes/internal/database"
	"github.com/snarg/voicenotes/internal/metrics"
	"github.com/snarg/voicenotes/internal/mqttclient"
	"github.com/snarg/voicenotes/internal/storage"
	"github.com/snarg/voicenotes/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address, overrides HTTP_ADDR")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "Postgres URL, overrides DATABASE_URL")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("transcribe_mode", cfg.Transcribe.Mode).Msg("voicenotes starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Open(ctx, cfg.DatabaseURL, cfg.Database, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	// Object storage
	blobs, err := storage.New(cfg.Storage, cfg.S3, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// MQTT (optional)
	var mqtt *mqttclient.Client
	var publish transcribe.EventPublishFunc
	if cfg.MQTT.Enabled() {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		publish = mqtt.PublishEvent
	} else {
		log.Info().Msg("MQTT_BROKER_URL not set, event publishing disabled")
	}

	// Transcription
	tc := cfg.Transcribe
	txLog := log.With().Str("component", "transcribe").Logger()
	local := transcribe.NewLocalBackend(transcribe.LocalOptions{
		Script:    tc.Script,
		Launchers: tc.Launchers(),
		Timeout:   tc.Timeout,
		Log:       txLog,
	})
	var remote transcribe.Backend
	if tc.Mode == transcribe.ModeRemote {
		remote = transcribe.NewRemoteBackend(tc.RemoteURL, tc.RemoteAPIKey, tc.RemoteModel, tc.RemoteTimeout)
	}
	orch := transcribe.NewOrchestrator(transcribe.Options{
		Mode:         tc.Mode,
		Local:        local,
		Remote:       remote,
		Store:        db,
		SettleDelay:  tc.SettleDelay,
		Retry:        transcribe.Policy{Attempts: tc.RemoteRetries, BaseDelay: tc.RemoteRetryDelay},
		Workers:      tc.Workers,
		QueueSize:    tc.QueueSize,
		PublishEvent: publish,
		Log:          txLog,
	})
	orch.Start()

	prometheus.MustRegister(metrics.NewCollector(db.Pool, orch))

	// HTTP Server
	opts := api.ServerOptions{
		Config:      cfg,
		Store:       db,
		Blobs:       blobs,
		Transcriber: orch,
		Tokens:      auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Version:     version,
		StartTime:   startTime,
		Log:         log.With().Str("component", "http").Logger(),
	}
	// A nil *Client must not become a non-nil interface.
	if mqtt != nil {
		opts.MQTT = mqtt
	}
	srv := api.NewServer(opts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	// Pending transcriptions get what is left of the shutdown window.
	orch.Stop(shutdownCtx)

	log.Info().Msg("voicenotes stopped")
}
