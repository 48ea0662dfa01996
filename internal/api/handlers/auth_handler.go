package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/services"
)

// TokenIssuer signs a session token for a user id.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

type AuthHandler struct {
	users  *services.UserService
	tokens TokenIssuer
	log    zerolog.Logger
}

func NewAuthHandler(users *services.UserService, tokens TokenIssuer, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, log: logger.Component(log, "auth")}
}

type signupRequest struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := h.users.Register(r.Context(), req.FirstName, req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respondWithToken(w, http.StatusCreated, user.ID)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respondWithToken(w, http.StatusOK, user.ID)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, userID string) {
	token, err := h.tokens.Issue(userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, UserID: userID})
}
