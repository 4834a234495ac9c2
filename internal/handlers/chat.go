package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store"
)

type ChatHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

type CreateChatRequest struct {
	Name string `json:"name"`
}

type AddMembersRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

type LinkLabelRequest struct {
	LabelID int64 `json:"label_id"`
}

// authorize answers 404 or 403 and returns false unless the caller is a
// member of the chat.
func (h *ChatHandler) authorize(w http.ResponseWriter, r *http.Request, chatID int64) bool {
	return requireMember(w, r, h.Store, h.Logger, chatID)
}

func requireMember(w http.ResponseWriter, r *http.Request, s store.Store, logger *zap.Logger, chatID int64) bool {
	isMember, err := s.IsMember(r.Context(), chatID, callerID(r))
	if err != nil {
		storeError(w, logger, err)
		return false
	}
	if isMember {
		return true
	}
	if _, err := s.GetChat(r.Context(), chatID); err != nil {
		storeError(w, logger, err)
		return false
	}
	writeError(w, http.StatusForbidden, "Forbidden")
	return false
}

// CreateChat inserts a chat row. Memberships are added separately.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if !decode(w, r, &req) {
		return
	}

	chat, err := h.Store.CreateChat(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// DeleteChat removes the chat with its memberships, labels links and
// messages. Any member may delete.
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	if !h.authorize(w, r, chatID) {
		return
	}

	if err := h.Store.DeleteChat(r.Context(), chatID); err != nil {
		storeError(w, h.Logger, err)
		return
	}
	h.Logger.Info("Chat deleted", zap.Int64("chat_id", chatID), zap.Int64("user_id", callerID(r)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) OpenChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	if !h.authorize(w, r, chatID) {
		return
	}

	if err := h.Store.MarkChatOpened(r.Context(), chatID, time.Now().UTC()); err != nil {
		storeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	if !h.authorize(w, r, chatID) {
		return
	}

	members, err := h.Store.ChatMembers(r.Context(), chatID)
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	if members == nil {
		members = []models.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// AddMembers inserts memberships. Members may add anyone; a chat without
// members may be joined by its creator together with the initial members.
func (h *ChatHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	var req AddMembersRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "user_ids is required")
		return
	}

	ctx := r.Context()
	caller := callerID(r)
	if _, err := h.Store.GetChat(ctx, chatID); err != nil {
		storeError(w, h.Logger, err)
		return
	}
	isMember, err := h.Store.IsMember(ctx, chatID, caller)
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	if !isMember {
		members, err := h.Store.ChatMembers(ctx, chatID)
		if err != nil {
			storeError(w, h.Logger, err)
			return
		}
		if len(members) > 0 || !slices.Contains(req.UserIDs, caller) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
	}

	for _, id := range req.UserIDs {
		if _, err := h.Store.GetUserByID(ctx, id); errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Unknown user")
			return
		} else if err != nil {
			storeError(w, h.Logger, err)
			return
		}
	}

	if err := h.Store.AddMembers(ctx, chatID, req.UserIDs...); err != nil {
		storeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// IsMember reports whether the user is a member of the chat. Callers may
// check themselves or, as members, anyone.
func (h *ChatHandler) IsMember(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	if userID != callerID(r) && !h.authorize(w, r, chatID) {
		return
	}

	isMember, err := h.Store.IsMember(r.Context(), chatID, userID)
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"member": isMember})
}

func (h *ChatHandler) LinkLabel(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	var req LinkLabelRequest
	if !decode(w, r, &req) {
		return
	}
	if !h.authorize(w, r, chatID) {
		return
	}

	if err := h.Store.LinkLabel(r.Context(), chatID, req.LabelID); err != nil {
		storeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
