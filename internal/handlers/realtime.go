package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/realtime"
	"github.com/pratsy91/periskope-chat/internal/store"
)

type RealtimeHandler struct {
	Hub    *realtime.Hub
	Store  store.Store
	Logger *zap.Logger
}

// Subscribe upgrades to a websocket streaming the change events selected by
// the query. Message events require membership of the filtered chat and
// membership events must be scoped to the caller or one of their chats.
func (h *RealtimeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	sub, err := realtime.ParseSubscription(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := callerID(r)
	switch sub.Relation {
	case models.RelationMessages:
		chatID, ok := filterID(sub, "chat_id")
		if !ok {
			writeError(w, http.StatusForbidden, "Message subscriptions must be filtered by chat_id")
			return
		}
		if !requireMember(w, r, h.Store, h.Logger, chatID) {
			return
		}
	case models.RelationChatMembers:
		if userID, ok := filterID(sub, "user_id"); ok {
			if userID != caller {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			break
		}
		chatID, ok := filterID(sub, "chat_id")
		if !ok {
			writeError(w, http.StatusForbidden, "Membership subscriptions must be filtered by user_id or chat_id")
			return
		}
		if !requireMember(w, r, h.Store, h.Logger, chatID) {
			return
		}
	}

	h.Logger.Debug("Realtime subscription",
		zap.Int64("user_id", caller), zap.String("relation", sub.Relation), zap.Stringer("events", sub.Events))
	realtime.ServeWs(h.Hub, w, r, sub, h.Logger)
}

func filterID(sub models.Subscription, column string) (int64, bool) {
	if sub.Filter == nil || sub.Filter.Column != column {
		return 0, false
	}
	id, err := strconv.ParseInt(sub.Filter.Value, 10, 64)
	return id, err == nil
}
