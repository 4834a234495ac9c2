package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/auth"
	"github.com/pratsy91/periskope-chat/internal/blob"
	"github.com/pratsy91/periskope-chat/internal/config"
	"github.com/pratsy91/periskope-chat/internal/handlers"
	"github.com/pratsy91/periskope-chat/internal/realtime"
	"github.com/pratsy91/periskope-chat/internal/store/sqlstore"
)

var configPath = flag.String("config", os.Getenv("CHATD_CONFIG"), "path to the server configuration file")

func main() {
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		panic(err)
	}
	logger, err := cfg.Log.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	base, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer base.Close()

	// Initialize change feed
	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	if cfg.Realtime.NatsURL != "" {
		bridge, err := realtime.NewBridge(cfg.Realtime.NatsURL, cfg.Realtime.SubjectPrefix, hub, logger)
		if err != nil {
			logger.Fatal("Failed to start realtime bridge", zap.Error(err))
		}
		defer bridge.Close()
	}

	st := realtime.Observe(base, hub)
	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	router := handlers.NewRouter(handlers.Deps{
		Store:    st,
		Hub:      hub,
		Blob:     &blob.Store{Root: cfg.Storage.Root, BaseURL: cfg.BaseURL},
		Auth:     &auth.Service{Store: st, Tokens: tokens, Logger: logger},
		TokenTTL: cfg.Auth.TokenTTL,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting server", zap.String("addr", cfg.Addr), zap.String("base_url", cfg.BaseURL))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
