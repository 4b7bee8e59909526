// Concept Lab chat bridge: drives streaming RAG chat sessions for a page shell.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/api"
	"github.com/ashureev/conceptlab-chat/internal/backend"
	"github.com/ashureev/conceptlab-chat/internal/bridge"
	"github.com/ashureev/conceptlab-chat/internal/chat"
	"github.com/ashureev/conceptlab-chat/internal/config"
	"github.com/ashureev/conceptlab-chat/internal/controller"
	"github.com/ashureev/conceptlab-chat/internal/identity"
	"github.com/ashureev/conceptlab-chat/internal/middleware"
	"github.com/ashureev/conceptlab-chat/internal/store"
	"github.com/ashureev/conceptlab-chat/internal/transcript"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting chat bridge", "port", cfg.Port, "backend_url", cfg.BackendURL, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorders []chat.Recorder

	// Archive is optional; repo stays a nil interface when disabled.
	var repo store.Repository
	if cfg.Archive.Enabled {
		sqliteStore, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqliteStore.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := sqliteStore.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.DBPath)

		repo = sqliteStore
		archiver := store.NewArchiver(repo, logger)
		defer archiver.Close()
		recorders = append(recorders, archiver)
		store.StartRetentionWorker(ctx, repo, cfg.Archive.Retention)
	}

	transcripts, err := transcript.NewLogger(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Warn("Failed to close transcript logger", "error", closeErr)
		}
	}()
	if transcripts.Enabled() {
		recorders = append(recorders, transcripts)
	}

	backendCfg := backend.DefaultClientConfig()
	backendCfg.BaseURL = cfg.BackendURL
	backendCfg.ConnectTimeout = cfg.BackendConnectTimeout
	client := backend.NewClient(backendCfg, logger)

	registry := bridge.NewRegistry(func(clientID, sessionID string) *controller.Controller {
		return controller.New(controller.Config{
			Chat:      client,
			Contexts:  client,
			Logger:    logger.With("client_id", clientID, "session_id", sessionID),
			ClientID:  clientID,
			SessionID: sessionID,
			Recorders: recorders,
		})
	})
	defer registry.CloseAll()

	baseHandler := api.NewHandler(repo, registry, cfg)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, registry, cfg)
	wsHandler := bridge.NewHandler(registry, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
