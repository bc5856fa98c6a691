package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/auth"
	"github.com/snarg/voicenotes/internal/config"
	"github.com/snarg/voicenotes/internal/database"
	"github.com/snarg/voicenotes/internal/models"
	"github.com/snarg/voicenotes/internal/transcribe"
)

// ── fakeStore ──

// fakeStore is an in-memory Store with the same ownership and uniqueness
// rules as the Postgres store. calls records cascade-relevant operations.
type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	users       map[int64]*models.User
	recordings  map[int64]*models.Recording
	transcripts map[int64]*models.Transcript
	calls       []string

	healthErr     error
	deleteUserErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[int64]*models.User{},
		recordings:  map[int64]*models.Recording{},
		transcripts: map[int64]*models.Transcript{},
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) CreateUser(ctx context.Context, username, email, hash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, &database.ConstraintError{Kind: database.KindUnique, Constraint: "users_username_key"}
		}
		if strings.EqualFold(u.Email, email) {
			return nil, &database.ConstraintError{Kind: database.KindUnique, Constraint: "users_email_key"}
		}
	}
	u := &models.User{ID: s.id(), Username: username, Email: strings.ToLower(email), PasswordHash: hash, CreatedAt: time.Now()}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *fakeStore) FindConflicts(ctx context.Context, username, email string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if u.Username == username || (email != "" && strings.EqualFold(u.Email, email)) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *fakeStore) GetUserByLogin(ctx context.Context, identifier string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.Contains(identifier, "@") {
			if strings.EqualFold(u.Email, identifier) {
				cp := *u
				return &cp, nil
			}
		} else if u.Username == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) UpdateUsername(ctx context.Context, id int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return database.ErrNotFound
	}
	u.Username = username
	return nil
}

func (s *fakeStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return database.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *fakeStore) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete_user")
	if s.deleteUserErr != nil {
		return s.deleteUserErr
	}
	if _, ok := s.users[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *fakeStore) CreateRecording(ctx context.Context, userID int64, label, audioURL string) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &models.Recording{ID: s.id(), UserID: userID, Label: label, AudioURL: audioURL, CreatedAt: time.Now()}
	s.recordings[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListRecordings(ctx context.Context, userID int64) ([]models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Recording{}
	for _, r := range s.recordings {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *fakeStore) GetRecording(ctx context.Context, userID, id int64) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok || r.UserID != userID {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) RenameRecording(ctx context.Context, userID, id int64, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok || r.UserID != userID {
		return database.ErrNotFound
	}
	r.Label = label
	return nil
}

func (s *fakeStore) DeleteRecording(ctx context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok || r.UserID != userID {
		return database.ErrNotFound
	}
	for tid, t := range s.transcripts {
		if t.RecordingID == id {
			delete(s.transcripts, tid)
		}
	}
	delete(s.recordings, id)
	return nil
}

func (s *fakeStore) ListAudioURLs(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "list_audio")
	var out []string
	for _, r := range s.recordings {
		if r.UserID == userID {
			out = append(out, r.AudioURL)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) DeleteRecordingsByUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete_recordings")
	for id, r := range s.recordings {
		if r.UserID == userID {
			delete(s.recordings, id)
		}
	}
	return nil
}

func (s *fakeStore) InsertTranscript(ctx context.Context, t *models.Transcript) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transcripts {
		if existing.RecordingID == t.RecordingID {
			return 0, database.ErrTranscriptExists
		}
	}
	cp := *t
	cp.ID = s.id()
	cp.UpdatedAt = time.Now()
	if cp.Words == nil {
		cp.Words = []models.Word{}
	}
	s.transcripts[cp.ID] = &cp
	return cp.ID, nil
}

func (s *fakeStore) ListTranscripts(ctx context.Context, userID, recordingID int64) ([]models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Transcript{}
	for _, t := range s.transcripts {
		if t.UserID == userID && (recordingID == 0 || t.RecordingID == recordingID) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateTranscript(ctx context.Context, userID, id int64, fullText string, words []models.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok || t.UserID != userID {
		return database.ErrNotFound
	}
	t.FullText = fullText
	if words != nil {
		t.Words = words
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) DeleteTranscriptsByUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete_transcripts")
	for id, t := range s.transcripts {
		if t.UserID == userID {
			delete(s.transcripts, id)
		}
	}
	return nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) error { return s.healthErr }

// ── fakeBlobs ──

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	store   *fakeStore // records blob deletes into the shared call log
	saveErr error
}

func newFakeBlobs(store *fakeStore) *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}, store: store}
}

const blobBase = "http://blobs.test/recordings/"

func (b *fakeBlobs) Save(ctx context.Context, key string, data []byte, contentType string) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func (b *fakeBlobs) URL(key string) string { return blobBase + key }

func (b *fakeBlobs) KeyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, blobBase) {
		return "", false
	}
	return strings.TrimPrefix(url, blobBase), true
}

func (b *fakeBlobs) Delete(ctx context.Context, keys ...string) error {
	if b.store != nil {
		b.store.mu.Lock()
		b.store.calls = append(b.store.calls, "delete_blobs")
		b.store.mu.Unlock()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *fakeBlobs) Type() string { return "fake" }

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// ── fakeTranscriber ──

type fakeTranscriber struct {
	mu        sync.Mutex
	submitted []transcribe.Upload
	store     transcribe.TranscriptStore
	nowResult *transcribe.Result
	nowErr    error
	nowType   string
	rejectAll bool // deferred jobs are refused, as with a full queue
}

// Submit mirrors the orchestrator contract: a provided transcript is stored
// and reports false; a deferred job reports whether it was queued.
func (f *fakeTranscriber) Submit(ctx context.Context, u transcribe.Upload) bool {
	f.mu.Lock()
	f.submitted = append(f.submitted, u)
	f.mu.Unlock()
	if u.Provided != nil && u.Provided.FullText != "" {
		f.store.InsertTranscript(ctx, &models.Transcript{
			UserID:      u.UserID,
			RecordingID: u.RecordingID,
			FullText:    u.Provided.FullText,
			Words:       u.Provided.Words,
		})
		return false
	}
	return !f.rejectAll
}

func (f *fakeTranscriber) TranscribeNow(ctx context.Context, data []byte, contentType string) (*transcribe.Result, error) {
	f.mu.Lock()
	f.nowType = contentType
	f.mu.Unlock()
	return f.nowResult, f.nowErr
}

func (f *fakeTranscriber) Stats() transcribe.QueueStats { return transcribe.QueueStats{Pending: 1, Completed: 2} }

func (f *fakeTranscriber) Mode() string { return "local" }

// ── harness ──

type testEnv struct {
	store  *fakeStore
	blobs  *fakeBlobs
	tx     *fakeTranscriber
	tokens *auth.Issuer
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	env := &testEnv{
		store:  store,
		blobs:  newFakeBlobs(store),
		tx:     &fakeTranscriber{store: store},
		tokens: auth.NewIssuer("test-secret", time.Hour),
	}
	env.router = NewRouter(ServerOptions{
		Config: &config.Config{
			MaxUploadBytes: 1 << 20,
			CORSOrigins:    []string{"http://localhost:3000"},
		},
		Store:       store,
		Blobs:       env.blobs,
		Transcriber: env.tx,
		Tokens:      env.tokens,
		Version:     "test",
		StartTime:   time.Now(),
		Log:         zerolog.Nop(),
	})
	return env
}

// addUser stores a user with the given password and returns it with a token.
func (e *testEnv) addUser(t *testing.T, username, email, password string) (*models.User, string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	u, err := e.store.CreateUser(context.Background(), username, email, hash)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := e.tokens.Issue(u)
	if err != nil {
		t.Fatal(err)
	}
	return u, tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, path, token string, fields map[string]string, audio []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if audio != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="audio"; filename="blob"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(audio)
	}
	w.Close()

	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}
