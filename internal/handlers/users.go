package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store"
)

type UserHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

// SearchUsers matches usernames containing q, case-insensitively. The
// caller is always excluded.
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, []models.User{})
		return
	}

	exclude := callerID(r)
	if v := r.URL.Query().Get("exclude"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid exclude id")
			return
		}
		if id != 0 && id != exclude {
			writeError(w, http.StatusBadRequest, "Only the caller can be excluded")
			return
		}
	}

	users, err := h.Store.SearchUsers(r.Context(), query, exclude, 0)
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Memberships lists the caller's chat memberships joined to chats and labels.
func (h *UserHandler) Memberships(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	if userID != callerID(r) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	memberships, err := h.Store.UserMemberships(r.Context(), userID)
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	if memberships == nil {
		memberships = []models.Membership{}
	}
	writeJSON(w, http.StatusOK, memberships)
}
