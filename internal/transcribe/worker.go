package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/audio"
	"github.com/snarg/voicenotes/internal/database"
	"github.com/snarg/voicenotes/internal/metrics"
	"github.com/snarg/voicenotes/internal/models"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// EventTranscriptCreated is published after a deferred transcript is stored.
const EventTranscriptCreated = "transcript.created"

// TranscriptStore persists transcripts produced by the orchestrator.
type TranscriptStore interface {
	InsertTranscript(ctx context.Context, t *models.Transcript) (int64, error)
}

// EventPublishFunc is a callback for publishing per-user events.
type EventPublishFunc func(eventType string, userID int64, payload map[string]any)

// Provided is a transcript the client computed before uploading.
type Provided struct {
	FullText string
	Words    []models.Word
}

// Upload describes a recording that was just stored and committed.
type Upload struct {
	RecordingID int64
	UserID      int64
	AudioURL    string
	Audio       []byte
	ContentType string
	Provided    *Provided
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	InFlight  int   `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Options configures the orchestrator.
type Options struct {
	Mode         string  // ModeLocal or ModeRemote
	Local        Backend // deferred local mode and TranscribeNow
	Remote       Backend // deferred remote mode
	Store        TranscriptStore
	SettleDelay  time.Duration
	Retry        Policy // remote mode only
	Workers      int
	QueueSize    int
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

type job struct {
	Upload
	ext string
}

// Orchestrator turns uploaded recordings into stored transcripts. Deferred
// jobs run on a bounded worker pool and never report errors to the caller;
// failures end up in the log and the failed counter.
type Orchestrator struct {
	opts   Options
	log    zerolog.Logger
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	inFlight map[int64]struct{}

	completed atomic.Int64
	failed    atomic.Int64
}

// NewOrchestrator creates an orchestrator. Call Start to launch its workers.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Workers < 0 {
		opts.Workers = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:     opts,
		log:      opts.Log,
		jobs:     make(chan job, max(opts.QueueSize, 0)),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[int64]struct{}),
	}
}

// Start launches the worker goroutines.
func (o *Orchestrator) Start() {
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.log.Info().
		Str("mode", o.opts.Mode).
		Int("workers", o.opts.Workers).
		Int("queue_size", cap(o.jobs)).
		Msg("transcription orchestrator started")
}

// Stop rejects new jobs and waits for queued ones to finish. If ctx expires
// first, running backend calls are cancelled.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.jobs)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn().Int("pending", len(o.jobs)).Msg("transcription drain timed out, cancelling jobs")
		o.cancel()
		<-done
	}
	o.cancel()
	o.log.Info().
		Int64("completed", o.completed.Load()).
		Int64("failed", o.failed.Load()).
		Msg("transcription orchestrator stopped")
}

// Submit hands a committed recording to the orchestrator and reports whether
// a transcript is still being produced. A provided transcript is stored right
// away. Otherwise one deferred job is queued per recording; a duplicate
// submission, a full queue or a stopped pool returns false.
func (o *Orchestrator) Submit(ctx context.Context, u Upload) bool {
	log := o.log.With().Int64("recording_id", u.RecordingID).Int64("user_id", u.UserID).Logger()

	if u.Provided != nil && u.Provided.FullText != "" {
		words := u.Provided.Words
		if words == nil {
			words = []models.Word{}
		}
		_, err := o.opts.Store.InsertTranscript(ctx, &models.Transcript{
			UserID:      u.UserID,
			RecordingID: u.RecordingID,
			FullText:    u.Provided.FullText,
			Words:       words,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to store provided transcript")
		}
		return false
	}

	if o.deferredBackend() == nil {
		log.Warn().Str("mode", o.opts.Mode).Msg("no transcription backend for mode, skipping")
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		log.Warn().Msg("transcription orchestrator stopped, job rejected")
		metrics.TranscriptionJobsTotal.WithLabelValues("rejected").Inc()
		return false
	}
	if _, dup := o.inFlight[u.RecordingID]; dup {
		log.Warn().Msg("transcription already in flight for recording")
		return false
	}

	select {
	case o.jobs <- job{Upload: u, ext: audio.ExtFromContentType(u.ContentType)}:
		o.inFlight[u.RecordingID] = struct{}{}
		metrics.TranscriptionJobsTotal.WithLabelValues("enqueued").Inc()
		return true
	default:
		log.Warn().Int("queue_size", cap(o.jobs)).Msg("transcription queue full, job rejected")
		metrics.TranscriptionJobsTotal.WithLabelValues("rejected").Inc()
		return false
	}
}

// TranscribeNow runs the local backend synchronously on data. Nothing is
// persisted.
func (o *Orchestrator) TranscribeNow(ctx context.Context, data []byte, contentType string) (*Result, error) {
	if o.opts.Local == nil {
		return nil, ErrNotConfigured
	}
	return o.call(ctx, o.opts.Local, Source{Data: data, Ext: audio.ExtFromContentType(contentType)})
}

// Stats returns current queue statistics.
func (o *Orchestrator) Stats() QueueStats {
	return QueueStats{
		Pending:   o.Pending(),
		InFlight:  o.InFlight(),
		Completed: o.completed.Load(),
		Failed:    o.failed.Load(),
	}
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (o *Orchestrator) Pending() int { return len(o.jobs) }

// InFlight returns the number of recordings with a queued or running job.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}

// Mode returns the configured deferred mode.
func (o *Orchestrator) Mode() string { return o.opts.Mode }

func (o *Orchestrator) deferredBackend() Backend {
	if o.opts.Mode == ModeRemote {
		return o.opts.Remote
	}
	return o.opts.Local
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	log := o.log.With().Int("worker", id).Logger()

	for j := range o.jobs {
		jlog := log.With().Int64("recording_id", j.RecordingID).Int64("user_id", j.UserID).Logger()
		if err := o.process(jlog, j); err != nil {
			o.failed.Add(1)
			metrics.TranscriptionJobsTotal.WithLabelValues("failed").Inc()
			jlog.Warn().Err(err).Msg("transcription failed")
		} else {
			o.completed.Add(1)
			metrics.TranscriptionJobsTotal.WithLabelValues("completed").Inc()
		}

		o.mu.Lock()
		delete(o.inFlight, j.RecordingID)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) process(log zerolog.Logger, j job) error {
	// Let the blob become retrievable from the object store.
	if o.opts.SettleDelay > 0 {
		t := time.NewTimer(o.opts.SettleDelay)
		select {
		case <-t.C:
		case <-o.ctx.Done():
			t.Stop()
			return o.ctx.Err()
		}
	}

	backend := o.deferredBackend()
	var res *Result
	var err error

	switch o.opts.Mode {
	case ModeRemote:
		src := Source{URL: j.AudioURL, Data: j.Audio, Ext: j.ext}
		err = o.opts.Retry.Do(o.ctx, func(ctx context.Context, attempt int) error {
			r, err := o.call(ctx, backend, src)
			if err != nil {
				log.Warn().Err(err).Int("attempt", attempt).Str("backend", backend.Name()).Msg("transcription attempt failed")
				return err
			}
			res = r
			return nil
		})
	default:
		res, err = o.call(o.ctx, backend, Source{URL: j.AudioURL, Ext: j.ext})
	}
	if err != nil {
		return fmt.Errorf("%s backend: %w", backend.Name(), err)
	}

	id, err := o.opts.Store.InsertTranscript(o.ctx, &models.Transcript{
		UserID:      j.UserID,
		RecordingID: j.RecordingID,
		FullText:    res.FullText,
		Words:       res.Words,
	})
	if errors.Is(err, database.ErrTranscriptExists) {
		log.Info().Msg("recording already has a transcript, result discarded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}

	if o.opts.PublishEvent != nil {
		o.opts.PublishEvent(EventTranscriptCreated, j.UserID, map[string]any{
			"transcript_id": id,
			"recording_id":  j.RecordingID,
			"full_text":     res.FullText,
		})
	}

	log.Debug().
		Int64("transcript_id", id).
		Int("words", len(res.Words)).
		Msg("transcription complete")
	return nil
}

// call invokes one backend once and records its outcome.
func (o *Orchestrator) call(ctx context.Context, b Backend, src Source) (*Result, error) {
	start := time.Now()
	res, err := b.Transcribe(ctx, src)
	metrics.TranscriptionDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.TranscriptionAttemptsTotal.WithLabelValues(b.Name(), result).Inc()

	if res != nil && res.Words == nil {
		res.Words = []models.Word{}
	}
	return res, err
}
