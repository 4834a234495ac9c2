package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/auth"
	"github.com/pratsy91/periskope-chat/internal/blob"
	"github.com/pratsy91/periskope-chat/internal/middleware"
	"github.com/pratsy91/periskope-chat/internal/realtime"
	"github.com/pratsy91/periskope-chat/internal/store"
)

// Deps are the collaborators of the chatd API. Store should be wrapped with
// realtime.Observe so that writes reach the hub.
type Deps struct {
	Store    store.Store
	Hub      *realtime.Hub
	Blob     *blob.Store
	Auth     *auth.Service
	TokenTTL time.Duration
	Logger   *zap.Logger
}

// NewRouter returns the chatd API.
func NewRouter(d Deps) *mux.Router {
	authHandler := &AuthHandler{Auth: d.Auth, TokenTTL: d.TokenTTL, Logger: d.Logger}
	userHandler := &UserHandler{Store: d.Store, Logger: d.Logger}
	chatHandler := &ChatHandler{Store: d.Store, Logger: d.Logger}
	messageHandler := &MessageHandler{Store: d.Store, Logger: d.Logger}
	labelHandler := &LabelHandler{Store: d.Store, Logger: d.Logger}
	storageHandler := &StorageHandler{Blob: d.Blob, Store: d.Store, Logger: d.Logger}
	realtimeHandler := &RealtimeHandler{Hub: d.Hub, Store: d.Store, Logger: d.Logger}

	protected := middleware.Auth(d.Auth.Tokens)
	secure := func(h http.HandlerFunc) http.Handler {
		return protected(h)
	}

	r := mux.NewRouter()
	r.Use(middleware.Logging(d.Logger))

	// Public endpoints
	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/logout", authHandler.Logout).Methods("POST")
	r.HandleFunc("/storage/{bucket}/{path:.+}", storageHandler.Download).Methods("GET")

	// API Endpoints
	r.Handle("/storage/{bucket}/{path:.+}", secure(storageHandler.Upload)).Methods("PUT")
	r.Handle("/users/search", secure(userHandler.SearchUsers)).Methods("GET")
	r.Handle("/users/{id}/chats", secure(userHandler.Memberships)).Methods("GET")
	r.Handle("/chats", secure(chatHandler.CreateChat)).Methods("POST")
	r.Handle("/chats/{id}", secure(chatHandler.DeleteChat)).Methods("DELETE")
	r.Handle("/chats/{id}/open", secure(chatHandler.OpenChat)).Methods("POST")
	r.Handle("/chats/{id}/members", secure(chatHandler.GetMembers)).Methods("GET")
	r.Handle("/chats/{id}/members", secure(chatHandler.AddMembers)).Methods("POST")
	r.Handle("/chats/{id}/members/{userID}", secure(chatHandler.IsMember)).Methods("GET")
	r.Handle("/chats/{id}/labels", secure(chatHandler.LinkLabel)).Methods("POST")
	r.Handle("/chats/{id}/messages", secure(messageHandler.GetChatMessages)).Methods("GET")
	r.Handle("/chats/{id}/messages", secure(messageHandler.PostMessage)).Methods("POST")
	r.Handle("/labels", secure(labelHandler.UpsertLabel)).Methods("POST")

	// WebSocket Endpoint
	r.Handle("/realtime", secure(realtimeHandler.Subscribe)).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	return r
}
