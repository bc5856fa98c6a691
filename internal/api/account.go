package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/auth"
	"github.com/snarg/voicenotes/internal/database"
	"github.com/snarg/voicenotes/internal/storage"
)

// AccountStore is what account management touches.
type AccountStore interface {
	UserStore
	ListAudioURLs(ctx context.Context, userID int64) ([]string, error)
	DeleteRecordingsByUser(ctx context.Context, userID int64) error
	DeleteTranscriptsByUser(ctx context.Context, userID int64) error
}

type AccountHandler struct {
	store AccountStore
	blobs storage.BlobStore
	log   zerolog.Logger
}

func NewAccountHandler(store AccountStore, blobs storage.BlobStore, log zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		store: store,
		blobs: blobs,
		log:   log.With().Str("handler", "account").Logger(),
	}
}

func (h *AccountHandler) Routes(r chi.Router) {
	r.Route("/account", func(r chi.Router) {
		r.Delete("/", h.Delete)
		r.Put("/username", h.UpdateUsername)
		r.Put("/password", h.UpdatePassword)
	})
}

type deleteAccountRequest struct {
	Password string `json:"password" label:"Password" validate:"required"`
}

// Delete handles DELETE /account. After the password is verified the cascade
// runs in order: blobs, transcripts, recordings, user. Only the user-row
// deletion decides the outcome; earlier steps are best effort and are not
// rolled back.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "Password required", err.Error())
		return
	}
	if problems := validationProblems(req); problems != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Password required", problems...)
		return
	}

	uid := userID(r)
	ctx := r.Context()
	log := h.log.With().Int64("user_id", uid).Logger()

	u, err := h.store.GetUser(ctx, uid)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		WriteStoreError(w, log, err, "Server error deleting account")
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidCredentials, "Incorrect password")
		return
	}

	urls, err := h.store.ListAudioURLs(ctx, uid)
	if err != nil {
		log.Error().Err(err).Msg("list recordings before account delete failed")
	}
	if keys := storage.KeysFromURLs(h.blobs, urls); len(keys) > 0 {
		if err := h.blobs.Delete(ctx, keys...); err != nil {
			log.Error().Err(err).Int("blobs", len(keys)).Msg("bulk audio delete failed")
		}
	}
	if err := h.store.DeleteTranscriptsByUser(ctx, uid); err != nil {
		log.Error().Err(err).Msg("delete transcripts failed")
	}
	if err := h.store.DeleteRecordingsByUser(ctx, uid); err != nil {
		log.Error().Err(err).Msg("delete recordings failed")
	}
	if err := h.store.DeleteUser(ctx, uid); err != nil {
		log.Error().Err(err).Msg("delete user failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "Failed to delete user")
		return
	}

	log.Info().Int("recordings", len(urls)).Msg("account deleted")
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type updateUsernameRequest struct {
	NewUsername string `json:"new_username" label:"Username" validate:"required,min=3"`
}

// UpdateUsername handles PUT /account/username.
func (h *AccountHandler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	var req updateUsernameRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body", err.Error())
		return
	}
	trimAll(&req.NewUsername)
	if problems := validationProblems(req); problems != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, problems[0], problems...)
		return
	}

	uid := userID(r)
	existing, err := h.store.FindConflicts(r.Context(), req.NewUsername, "")
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to update username")
		return
	}
	for _, u := range existing {
		if u.ID != uid && u.Username == req.NewUsername {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrConflict, "Username already taken", "Username already taken")
			return
		}
	}

	err = h.store.UpdateUsername(r.Context(), uid, req.NewUsername)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to update username")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "username": req.NewUsername})
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password" label:"Current password" validate:"required"`
	NewPassword     string `json:"new_password" label:"New password" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirm_password" label:"Confirm password" validate:"required,eqfield=NewPassword"`
}

// UpdatePassword handles PUT /account/password.
func (h *AccountHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body", err.Error())
		return
	}
	if problems := validationProblems(req); problems != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Validation failed", problems...)
		return
	}

	uid := userID(r)
	u, err := h.store.GetUser(r.Context(), uid)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Failed to update password")
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.CurrentPassword) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidCredentials, "Current password incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.log.Error().Err(err).Msg("password hash failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "Failed to update password")
		return
	}
	if err := h.store.UpdatePasswordHash(r.Context(), uid, hash); err != nil {
		WriteStoreError(w, h.log, err, "Failed to update password")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
