package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/store"
)

type LabelHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

// UpsertLabel returns the label with the requested name, creating it once.
func (h *LabelHandler) UpsertLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Label name is required")
		return
	}

	label, err := h.Store.UpsertLabel(r.Context(), name)
	if err != nil {
		storeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, label)
}
