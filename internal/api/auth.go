package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/auth"
	"github.com/snarg/voicenotes/internal/database"
	"github.com/snarg/voicenotes/internal/models"
)

// AuthHandler serves registration, login and the caller's profile.
type AuthHandler struct {
	users  UserStore
	tokens TokenService
	log    zerolog.Logger
}

func NewAuthHandler(users UserStore, tokens TokenService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		tokens: tokens,
		log:    log.With().Str("handler", "auth").Logger(),
	}
}

// Routes registers the unauthenticated endpoints.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
}

// AuthedRoutes registers the endpoints that need a token.
func (h *AuthHandler) AuthedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
}

type registerRequest struct {
	Username string `json:"username" label:"Username" validate:"required,min=3"`
	Email    string `json:"email" label:"Email" validate:"required,email"`
	Password string `json:"password" label:"Password" validate:"required,min=6,max=72"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register handles POST /register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body", err.Error())
		return
	}
	trimAll(&req.Username, &req.Email)
	if problems := validationProblems(req); problems != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Validation failed", problems...)
		return
	}
	email := strings.ToLower(req.Email)

	existing, err := h.users.FindConflicts(r.Context(), req.Username, email)
	if err != nil {
		WriteStoreError(w, h.log, err, "Registration failed")
		return
	}
	if dups := conflictDetails(existing, req.Username, email); len(dups) > 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrConflict, "Conflict", dups...)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error().Err(err).Msg("password hash failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "Registration failed")
		return
	}

	// The unique constraints still catch a registration racing this one.
	u, err := h.users.CreateUser(r.Context(), req.Username, email, hash)
	if err != nil {
		WriteStoreError(w, h.log, err, "Registration failed")
		return
	}

	h.respondWithToken(w, u)
}

func conflictDetails(existing []models.User, username, email string) []string {
	var dups []string
	var userTaken, emailTaken bool
	for _, u := range existing {
		if u.Username == username {
			userTaken = true
		}
		if strings.EqualFold(u.Email, email) {
			emailTaken = true
		}
	}
	if userTaken {
		dups = append(dups, "Username already taken")
	}
	if emailTaken {
		dups = append(dups, "Email already registered")
	}
	return dups
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"` // older clients
	Password   string `json:"password"`
}

// Login handles POST /login. The identifier is an email if it contains "@",
// a username otherwise.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body", err.Error())
		return
	}
	id := strings.TrimSpace(req.Identifier)
	if id == "" {
		id = strings.TrimSpace(req.Username)
	}
	if id == "" || req.Password == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrValidation, "Missing credentials")
		return
	}

	u, err := h.users.GetUserByLogin(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidCredentials, "Invalid credentials")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Server error during login")
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidCredentials, "Invalid credentials")
		return
	}

	h.respondWithToken(w, u)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, u *models.User) {
	token, err := h.tokens.Issue(u)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", u.ID).Msg("token issue failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "Failed to issue token")
		return
	}
	WriteJSON(w, http.StatusOK, authResponse{Token: token, User: u})
}

// Me handles GET /me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), userID(r))
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		WriteStoreError(w, h.log, err, "Server error")
		return
	}
	WriteJSON(w, http.StatusOK, u)
}
