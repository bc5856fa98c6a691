package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/config"
)

// BlobStore abstracts the object store holding recording audio.
type BlobStore interface {
	// Save stores audio data under key.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// URL returns the stable public URL of key.
	URL(key string) string

	// KeyFromURL maps a URL produced by URL back to its key.
	KeyFromURL(url string) (string, bool)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Type returns "local" or "s3".
	Type() string
}

// New creates a BlobStore based on config. Returns an error if S3 is
// configured but unreachable.
func New(cfg config.StorageConfig, s3cfg config.S3Config, log zerolog.Logger) (BlobStore, error) {
	if cfg.Backend != "s3" {
		return NewLocalStore(cfg.AudioDir, cfg.Bucket, cfg.PublicBaseURL), nil
	}

	s3store, err := NewS3Store(s3cfg, cfg.Bucket, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, s3cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", s3cfg.Endpoint).Msg("S3 connection verified")

	return s3store, nil
}

// KeysFromURLs maps URLs to keys, skipping any the store does not recognise.
func KeysFromURLs(store BlobStore, urls []string) []string {
	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		if k, ok := store.KeyFromURL(u); ok {
			keys = append(keys, k)
		}
	}
	return keys
}
