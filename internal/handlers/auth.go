package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/auth"
	"github.com/pratsy91/periskope-chat/internal/store"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Auth     *auth.Service
	TokenTTL time.Duration
	Logger   *zap.Logger
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if !decode(w, r, &creds) {
		return
	}

	res, err := h.Auth.SignUp(r.Context(), creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "Username already exists")
		return
	case err != nil:
		storeError(w, h.Logger, err)
		return
	}

	http.SetCookie(w, auth.SessionCookie(res.Token, h.TokenTTL))
	writeJSON(w, http.StatusCreated, res)
}

// Login signs in by username, creating the account on first use.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if !decode(w, r, &creds) {
		return
	}

	res, err := h.Auth.SignIn(r.Context(), creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		storeError(w, h.Logger, err)
		return
	}

	http.SetCookie(w, auth.SessionCookie(res.Token, h.TokenTTL))
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, auth.ClearedCookie())
	w.WriteHeader(http.StatusNoContent)
}
