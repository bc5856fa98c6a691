package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore stores audio files on the local filesystem under
// {audioDir}/{bucket}/ and serves them at {publicBase}/audio/{bucket}/{key}.
type LocalStore struct {
	audioDir   string
	bucket     string
	publicBase string
}

// NewLocalStore creates a local filesystem audio store.
func NewLocalStore(audioDir, bucket, publicBase string) *LocalStore {
	return &LocalStore{
		audioDir:   audioDir,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.audioDir, s.bucket, key), nil
}

func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(dir, ".audio-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	return s.publicBase + s.urlPrefix() + key
}

func (s *LocalStore) KeyFromURL(url string) (string, bool) {
	i := strings.Index(url, s.urlPrefix())
	if i < 0 {
		return "", false
	}
	key := url[i+len(s.urlPrefix()):]
	if _, err := s.path(key); err != nil {
		return "", false
	}
	return key, true
}

func (s *LocalStore) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		path, err := s.path(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *LocalStore) Type() string { return "local" }

// Handler serves stored blobs under /audio/{bucket}/. Only regular files in
// the bucket directory are reachable; listings, dot-files and anything
// outside the bucket answer 404.
func (s *LocalStore) Handler() http.Handler {
	root := blobFS{http.Dir(filepath.Join(s.audioDir, s.bucket))}
	return http.StripPrefix(s.urlPrefix(), http.FileServer(root))
}

// blobFS hides directories and dot-prefixed names, which covers in-progress
// ".audio-*.tmp" writes.
type blobFS struct {
	fs http.FileSystem
}

func (b blobFS) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, os.ErrNotExist
		}
	}
	f, err := b.fs.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

func (s *LocalStore) urlPrefix() string {
	return "/audio/" + s.bucket + "/"
}
