package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"path"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/blob"
	"github.com/pratsy91/periskope-chat/internal/store"
)

// maxUploadSize bounds a single stored object.
const maxUploadSize = 50 << 20

type StorageHandler struct {
	Blob   *blob.Store
	Store  store.Store
	Logger *zap.Logger
}

// Upload stores a new object. Attachments may only be written by members of
// the chat named by the key's first segment, and no object is replaced.
func (h *StorageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["path"]

	if bucket == blob.AttachmentsBucket {
		chatID, err := blob.AttachmentChat(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Attachment path must start with a chat id")
			return
		}
		if !requireMember(w, r, h.Store, h.Logger, chatID) {
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadSize)
	url, err := h.Blob.Upload(r.Context(), bucket, key, body)
	if errors.Is(err, blob.ErrInvalidPath) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, blob.ErrExists) {
		writeError(w, http.StatusConflict, "Object already exists")
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "Object too large")
		return
	}
	if err != nil {
		h.Logger.Error("Upload failed", zap.String("bucket", bucket), zap.String("path", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.Logger.Info("Object stored", zap.String("bucket", bucket), zap.String("path", key))
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// Download serves a stored object publicly.
func (h *StorageHandler) Download(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	f, err := h.Blob.Open(vars["bucket"], vars["path"])
	switch {
	case errors.Is(err, blob.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "Not found")
		return
	case err != nil:
		h.Logger.Error("Download failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	http.ServeContent(w, r, path.Base(vars["path"]), info.ModTime(), f)
}
