package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store"
)

type MessageHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

func (h *MessageHandler) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	if !requireMember(w, r, h.Store, h.Logger, chatID) {
		return
	}

	messages, err := h.Store.ChatMessages(r.Context(), chatID)
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// PostMessage inserts a message sent by the caller. Either content or an
// attachment is required.
func (h *MessageHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid chat id")
		return
	}
	var req models.NewMessage
	if !decode(w, r, &req) {
		return
	}

	caller := callerID(r)
	if req.SenderID != 0 && req.SenderID != caller {
		writeError(w, http.StatusForbidden, "Messages can only be sent as yourself")
		return
	}
	if req.ChatID != 0 && req.ChatID != chatID {
		writeError(w, http.StatusBadRequest, "Chat id mismatch")
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.AttachmentURL == "" {
		writeError(w, http.StatusBadRequest, "Message is empty")
		return
	}
	if !requireMember(w, r, h.Store, h.Logger, chatID) {
		return
	}

	msg := &models.Message{
		ChatID:         chatID,
		SenderID:       caller,
		Content:        req.Content,
		AttachmentURL:  req.AttachmentURL,
		AttachmentType: req.AttachmentType,
	}
	if err := h.Store.SaveMessage(r.Context(), msg); err != nil {
		storeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
