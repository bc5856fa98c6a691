package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string         `env:"DATABASE_URL,required"`
	Database    DatabaseConfig `envPrefix:"DATABASE_"`

	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":3001"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"200s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"33554432"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev_secret"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	Transcribe TranscribeConfig
	Storage    StorageConfig
	S3         S3Config   `envPrefix:"S3_"`
	MQTT       MQTTConfig `envPrefix:"MQTT_"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// TranscribeConfig selects and tunes the transcription backend.
type TranscribeConfig struct {
	Mode         string        `env:"TRANSCRIBE_MODE" envDefault:"local"`
	Script       string        `env:"TRANSCRIBE_SCRIPT" envDefault:"./transcription/wav2vec2_transcribe.py"`
	Interpreters []string      `env:"TRANSCRIBE_INTERPRETERS" envSeparator:"," envDefault:"python3,python,py -3"`
	Timeout      time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"180s"`
	SettleDelay  time.Duration `env:"TRANSCRIBE_SETTLE_DELAY" envDefault:"1200ms"`
	Workers      int           `env:"TRANSCRIBE_WORKERS" envDefault:"2"`
	QueueSize    int           `env:"TRANSCRIBE_QUEUE_SIZE" envDefault:"100"`

	RemoteURL        string        `env:"REMOTE_API_URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	RemoteAPIKey     string        `env:"REMOTE_API_KEY"`
	RemoteModel      string        `env:"REMOTE_MODEL" envDefault:"whisper-1"`
	RemoteTimeout    time.Duration `env:"REMOTE_TIMEOUT" envDefault:"90s"`
	RemoteRetries    int           `env:"REMOTE_RETRIES" envDefault:"3"`
	RemoteRetryDelay time.Duration `env:"REMOTE_RETRY_DELAY" envDefault:"800ms"`
}

// Launchers splits each interpreter entry into an executable and its leading
// arguments, e.g. "py -3" -> ["py", "-3"].
func (c TranscribeConfig) Launchers() [][]string {
	var out [][]string
	for _, entry := range c.Interpreters {
		if fields := strings.Fields(entry); len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out
}

// DatabaseConfig sizes the Postgres pool and controls schema migration at
// startup.
type DatabaseConfig struct {
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"2"`
	MaxConnIdleTime time.Duration `env:"MAX_CONN_IDLE" envDefault:"5m"`
	HealthTimeout   time.Duration `env:"HEALTH_TIMEOUT" envDefault:"2s"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"true"`
}

type StorageConfig struct {
	Backend       string `env:"STORAGE_BACKEND" envDefault:"local"`
	Bucket        string `env:"STORAGE_BUCKET" envDefault:"recordings"`
	AudioDir      string `env:"AUDIO_DIR" envDefault:"./audio"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3001"`
}

// S3Config configures an S3-compatible object store. Bucket comes from
// StorageConfig.
type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	PublicURL string `env:"PUBLIC_URL"`
}

type MQTTConfig struct {
	BrokerURL   string `env:"BROKER_URL"`
	ClientID    string `env:"CLIENT_ID" envDefault:"voicenotes"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
	TopicPrefix string `env:"TOPIC_PREFIX" envDefault:"voicenotes"`
}

// Enabled reports whether event publishing is configured.
func (c MQTTConfig) Enabled() bool { return c.BrokerURL != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// DATABASE_URL is required unless the CLI supplies it.
	opts := env.Options{}
	if overrides.DatabaseURL != "" {
		opts.Environment = env.ToMap(os.Environ())
		opts.Environment["DATABASE_URL"] = overrides.DatabaseURL
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transcribe.Mode {
	case "local":
	case "remote":
		if c.Transcribe.RemoteAPIKey == "" {
			errs = append(errs, errors.New("REMOTE_API_KEY is required when TRANSCRIBE_MODE=remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid TRANSCRIBE_MODE %q: must be local or remote", c.Transcribe.Mode))
	}

	switch c.Storage.Backend {
	case "local", "s3":
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_BACKEND %q: must be local or s3", c.Storage.Backend))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("STORAGE_BUCKET must not be empty"))
	}

	if c.Transcribe.Timeout <= 0 {
		errs = append(errs, errors.New("TRANSCRIBE_TIMEOUT must be positive"))
	}
	if c.Transcribe.RemoteRetries < 1 {
		errs = append(errs, errors.New("REMOTE_RETRIES must be >= 1"))
	}
	if c.Transcribe.Workers < 1 {
		errs = append(errs, errors.New("TRANSCRIBE_WORKERS must be >= 1"))
	}
	if len(c.Transcribe.Launchers()) == 0 {
		errs = append(errs, errors.New("TRANSCRIBE_INTERPRETERS must list at least one launcher"))
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, errors.New("DATABASE_MAX_CONNS must be >= 1"))
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("DATABASE_MIN_CONNS must be between 0 and DATABASE_MAX_CONNS (%d)", c.Database.MaxConns))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}

	return errors.Join(errs...)
}
