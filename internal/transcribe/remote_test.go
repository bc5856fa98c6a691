package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRemoteBackend_Transcribe(t *testing.T) {
	var mu sync.Mutex
	var filenames []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "RIFFdata" {
			t.Errorf("file content = %q", data)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("part Content-Type = %q", ct)
		}
		mu.Lock()
		filenames = append(filenames, hdr.Filename)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" hi there "}`)
	}))
	defer srv.Close()

	rb := NewRemoteBackend(srv.URL, "sk-test", "whisper-1", time.Second)
	for i := 0; i < 2; i++ {
		res, err := rb.Transcribe(context.Background(), Source{Data: []byte("RIFFdata"), Ext: "wav"})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if res.FullText != "hi there" {
			t.Errorf("FullText = %q", res.FullText)
		}
		if res.Words == nil || len(res.Words) != 0 {
			t.Errorf("Words = %v, want empty", res.Words)
		}
	}

	if len(filenames) != 2 {
		t.Fatalf("got %d uploads, want 2", len(filenames))
	}
	for _, name := range filenames {
		if !strings.HasPrefix(name, "upload-") || !strings.HasSuffix(name, ".wav") {
			t.Errorf("filename = %q", name)
		}
	}
	if filenames[0] == filenames[1] {
		t.Errorf("upload filenames should differ per attempt, both %q", filenames[0])
	}
}

func TestRemoteBackend_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	rb := NewRemoteBackend(srv.URL, "k", "", time.Second)
	_, err := rb.Transcribe(context.Background(), Source{Data: []byte("x")})
	if !errors.Is(err, ErrBackendFailed) {
		t.Fatalf("err = %v, want ErrBackendFailed", err)
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %q", err)
	}
}

func TestRemoteBackend_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	rb := NewRemoteBackend(srv.URL, "k", "", 50*time.Millisecond)
	_, err := rb.Transcribe(context.Background(), Source{Data: []byte("x")})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestRemoteBackend_NotConfigured(t *testing.T) {
	rb := NewRemoteBackend("http://unused", "", "", 0)
	if _, err := rb.Transcribe(context.Background(), Source{Data: []byte("x")}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if rb.client.Timeout != DefaultRemoteTimeout {
		t.Errorf("default timeout = %v", rb.client.Timeout)
	}
}

func TestRemoteBackend_RequiresBytes(t *testing.T) {
	rb := NewRemoteBackend("http://unused", "k", "", time.Second)
	if _, err := rb.Transcribe(context.Background(), Source{URL: "http://x/a.webm"}); !errors.Is(err, ErrBackendFailed) {
		t.Errorf("err = %v, want ErrBackendFailed", err)
	}
}

// failingWriter accepts n bytes and then fails every write.
type failingWriter struct {
	n int
}

var errDiskFull = errors.New("disk full")

func (f *failingWriter) Write(p []byte) (int, error) {
	if len(p) > f.n {
		written := f.n
		f.n = 0
		return written, errDiskFull
	}
	f.n -= len(p)
	return len(p), nil
}

func TestWriteUploadForm(t *testing.T) {
	t.Run("complete_body", func(t *testing.T) {
		var buf strings.Builder
		ct, err := writeUploadForm(&buf, []byte("RIFFdata"), "wav", "whisper-1")
		if err != nil {
			t.Fatalf("writeUploadForm: %v", err)
		}
		if !strings.HasPrefix(ct, "multipart/form-data; boundary=") {
			t.Errorf("content type = %q", ct)
		}
		body := buf.String()
		for _, want := range []string{`filename="upload-`, ".wav\"", "RIFFdata", `name="model"`, "whisper-1", `name="response_format"`} {
			if !strings.Contains(body, want) {
				t.Errorf("body missing %q", want)
			}
		}
		if !strings.HasSuffix(strings.TrimSpace(body), "--") {
			t.Error("body is missing the closing boundary")
		}
	})

	// Fail at every byte offset of a full encoding: each must surface an error
	// rather than a silently truncated body.
	var full strings.Builder
	if _, err := writeUploadForm(&full, []byte("RIFFdata"), "wav", "whisper-1"); err != nil {
		t.Fatal(err)
	}
	for n := 0; n < full.Len(); n += 7 {
		if _, err := writeUploadForm(&failingWriter{n: n}, []byte("RIFFdata"), "wav", "whisper-1"); !errors.Is(err, errDiskFull) {
			t.Fatalf("limit %d: err = %v, want errDiskFull", n, err)
		}
	}
}
