package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/database"
)

func newRequestWithChiParam(key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	req := httptest.NewRequest("GET", "/", nil)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// ── QueryInt64 ───────────────────────────────────────────────────────

func TestQueryInt64(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    int64
		wantOK  bool
		wantErr bool
	}{
		{"missing", "", 0, false, false},
		{"valid", "recording_id=17", 17, true, false},
		{"large", "recording_id=9999999999", 9999999999, true, false},
		{"non_numeric", "recording_id=abc", 0, true, true},
		{"zero", "recording_id=0", 0, true, true},
		{"negative", "recording_id=-3", 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			got, ok, err := QueryInt64(req, "recording_id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// ── PathInt64 ────────────────────────────────────────────────────────

func TestPathInt64(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := newRequestWithChiParam("id", "9999999999")
		v, err := PathInt64(req, "id")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != 9999999999 {
			t.Errorf("got %d, want 9999999999", v)
		}
	})
	t.Run("missing", func(t *testing.T) {
		rctx := chi.NewRouteContext()
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		_, err := PathInt64(req, "id")
		if err == nil {
			t.Error("expected error for missing param")
		}
	})
	t.Run("non_numeric", func(t *testing.T) {
		req := newRequestWithChiParam("id", "abc")
		_, err := PathInt64(req, "id")
		if err == nil {
			t.Error("expected error for non-numeric param")
		}
	})
	t.Run("zero", func(t *testing.T) {
		req := newRequestWithChiParam("id", "0")
		_, err := PathInt64(req, "id")
		if err == nil {
			t.Error("expected error for non-positive id")
		}
	})
}

// ── WriteJSON ────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

// ── WriteError ───────────────────────────────────────────────────────

func TestWriteError(t *testing.T) {
	tests := []struct {
		status int
		code   ErrorCode
	}{
		{http.StatusBadRequest, ErrValidation},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusRequestEntityTooLarge, ErrPayloadTooLarge},
		{http.StatusInternalServerError, ErrInternal},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteError(rec, tt.status, "bad input")

		if rec.Code != tt.status {
			t.Errorf("status = %d, want %d", rec.Code, tt.status)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if body.Error != "bad input" {
			t.Errorf("Error = %q, want %q", body.Error, "bad input")
		}
		if body.Code != tt.code {
			t.Errorf("%d: Code = %q, want %q", tt.status, body.Code, tt.code)
		}
		if strings.Contains(rec.Body.String(), "details") {
			t.Errorf("details should be omitted when empty: %s", rec.Body.String())
		}
	}
}

func TestWriteErrorWithCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithCode(rec, http.StatusBadRequest, ErrConflict, "Conflict", "Username already taken", "Email already registered")

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	want := ErrorResponse{
		Error:   "Conflict",
		Code:    ErrConflict,
		Details: []string{"Username already taken", "Email already registered"},
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

// ── WriteStoreError ──────────────────────────────────────────────────

func TestWriteStoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		want       ErrorResponse
	}{
		{
			name:       "not_found",
			err:        database.ErrNotFound,
			wantStatus: http.StatusNotFound,
			want:       ErrorResponse{Error: "Not found", Code: ErrNotFound},
		},
		{
			name:       "duplicate_username",
			err:        &database.ConstraintError{Kind: database.KindUnique, Constraint: "users_username_key"},
			wantStatus: http.StatusBadRequest,
			want:       ErrorResponse{Error: "Conflict", Code: ErrConflict, Details: []string{"Username already taken"}},
		},
		{
			name:       "duplicate_email_wrapped",
			err:        errors.Join(errors.New("insert user"), &database.ConstraintError{Kind: database.KindUnique, Constraint: "users_email_key"}),
			wantStatus: http.StatusBadRequest,
			want:       ErrorResponse{Error: "Conflict", Code: ErrConflict, Details: []string{"Email already registered"}},
		},
		{
			name:       "duplicate_unknown",
			err:        &database.ConstraintError{Kind: database.KindUnique, Constraint: "something_else"},
			wantStatus: http.StatusBadRequest,
			want:       ErrorResponse{Error: "Conflict", Code: ErrConflict, Details: []string{"Duplicate value"}},
		},
		{
			name:       "not_null",
			err:        &database.ConstraintError{Kind: database.KindNotNull, Column: "label"},
			wantStatus: http.StatusBadRequest,
			want:       ErrorResponse{Error: "Missing required field", Code: ErrMissingField, Details: []string{"label was null or empty"}},
		},
		{
			name:       "foreign_key",
			err:        &database.ConstraintError{Kind: database.KindForeignKey, Constraint: "recordings_user_id_fkey"},
			wantStatus: http.StatusNotFound,
			want:       ErrorResponse{Error: "Referenced record not found", Code: ErrNotFound},
		},
		{
			name:       "unexpected",
			err:        errors.New("connection reset"),
			wantStatus: http.StatusInternalServerError,
			want:       ErrorResponse{Error: "Failed to save", Code: ErrInternal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteStoreError(rec, zerolog.Nop(), tt.err, "Failed to save")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("JSON decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, body); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// ── DecodeJSON ───────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(httptest.NewRecorder(), req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(httptest.NewRecorder(), req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("empty_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(""))
		var dst struct{}
		err := DecodeJSON(httptest.NewRecorder(), req, &dst)
		if err == nil || err.Error() != "missing request body" {
			t.Errorf("expected missing request body, got %v", err)
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(httptest.NewRecorder(), req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
	t.Run("oversized", func(t *testing.T) {
		big := `{"name":"` + strings.Repeat("a", maxJSONBody) + `"}`
		req := httptest.NewRequest("POST", "/", strings.NewReader(big))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(httptest.NewRecorder(), req, &dst); err == nil {
			t.Error("expected error for body over the limit")
		}
	})
}
