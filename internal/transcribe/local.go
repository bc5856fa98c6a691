package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/audio"
	"github.com/snarg/voicenotes/internal/models"
)

// DefaultLocalTimeout is the wall clock after which the script is killed.
const DefaultLocalTimeout = 180 * time.Second

// DefaultLaunchers are the interpreter invocations tried in order.
var DefaultLaunchers = [][]string{{"python3"}, {"python"}, {"py", "-3"}}

// LocalOptions configures the subprocess backend.
type LocalOptions struct {
	Script    string
	Launchers [][]string
	Timeout   time.Duration
	TempDir   string // parent of per-call work dirs; "" means os.TempDir()
	Log       zerolog.Logger
}

// LocalBackend runs a transcription script as a subprocess per call:
//
//	<launcher...> <script> <audio path or URL> <out.json>
//
// The script writes {"full_text", "words", "error"?} to out.json. On failure
// it may print {"error": "..."} to stdout and exit non-zero.
type LocalBackend struct {
	script    string
	launchers [][]string
	timeout   time.Duration
	tempDir   string
	log       zerolog.Logger
}

// NewLocalBackend creates a subprocess backend. Zero-value options fall back
// to DefaultLaunchers and DefaultLocalTimeout.
func NewLocalBackend(opts LocalOptions) *LocalBackend {
	if len(opts.Launchers) == 0 {
		opts.Launchers = DefaultLaunchers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLocalTimeout
	}
	return &LocalBackend{
		script:    opts.Script,
		launchers: opts.Launchers,
		timeout:   opts.Timeout,
		tempDir:   opts.TempDir,
		log:       opts.Log.With().Str("backend", "local").Logger(),
	}
}

func (b *LocalBackend) Name() string { return "local" }

// scriptOutput is the JSON document written to out.json, and optionally to
// stdout on failure.
type scriptOutput struct {
	FullText string        `json:"full_text"`
	Words    []models.Word `json:"words"`
	Error    string        `json:"error"`
}

func (b *LocalBackend) Transcribe(ctx context.Context, src Source) (*Result, error) {
	if b.script == "" {
		return nil, ErrNotConfigured
	}

	dir, err := os.MkdirTemp(b.tempDir, "w2v2-")
	if err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", ErrBackendFailed, err)
	}
	defer os.RemoveAll(dir)

	input := src.URL
	if len(src.Data) > 0 {
		ext := src.Ext
		if ext == "" {
			ext = audio.DefaultExt
		}
		input = filepath.Join(dir, "audio."+ext)
		if err := os.WriteFile(input, src.Data, 0o600); err != nil {
			return nil, fmt.Errorf("%w: write audio: %v", ErrBackendFailed, err)
		}
	}
	if input == "" {
		return nil, fmt.Errorf("%w: no audio data or URL", ErrBackendFailed)
	}
	outPath := filepath.Join(dir, "out.json")

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	stdout, stderr, err := b.run(runCtx, b.script, input, outPath)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, b.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s", ErrBackendFailed, failureMessage(stdout, stderr, exitErr))
		}
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrBackendFailed, err)
	}
	var out scriptOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode output: %v", ErrBackendFailed, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBackendFailed, out.Error)
	}
	if out.Words == nil {
		out.Words = []models.Word{}
	}
	return &Result{FullText: strings.TrimSpace(out.FullText), Words: out.Words}, nil
}

// run tries each launcher until one starts, then waits for it. The returned
// error is ErrNotConfigured if no launcher could be started.
func (b *LocalBackend) run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	var lastErr error
	for _, launcher := range b.launchers {
		if len(launcher) == 0 {
			continue
		}
		cmdArgs := append(append([]string{}, launcher[1:]...), args...)
		cmd := exec.CommandContext(ctx, launcher[0], cmdArgs...)
		var outBuf, errBuf bytes.Buffer
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
		// Grandchildren holding the pipes open must not outlive the kill.
		cmd.WaitDelay = 2 * time.Second

		if err := cmd.Start(); err != nil {
			lastErr = err
			b.log.Debug().Err(err).Str("launcher", launcher[0]).Msg("launcher unavailable, trying next")
			continue
		}
		err := cmd.Wait()
		return outBuf.Bytes(), errBuf.Bytes(), err
	}
	return nil, nil, fmt.Errorf("%w: no interpreter could be launched: %v", ErrNotConfigured, lastErr)
}

// failureMessage prefers a JSON {"error"} on stdout, then raw stderr, then
// raw stdout.
func failureMessage(stdout, stderr []byte, exitErr *exec.ExitError) string {
	var out scriptOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &out); err == nil && out.Error != "" {
		return out.Error
	}
	if s := strings.TrimSpace(string(stderr)); s != "" {
		return s
	}
	if s := strings.TrimSpace(string(stdout)); s != "" {
		return s
	}
	return exitErr.Error()
}
