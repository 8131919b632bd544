// Package main is the entry point for the chat API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rpms-portal/messaging/internal/blob"
	"github.com/rpms-portal/messaging/internal/config"
	"github.com/rpms-portal/messaging/internal/handler"
	natsclient "github.com/rpms-portal/messaging/internal/nats"
	"github.com/rpms-portal/messaging/internal/service"
	"github.com/rpms-portal/messaging/internal/store"
	"github.com/rpms-portal/messaging/pkg/logger"
	"github.com/rpms-portal/messaging/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.Development {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "portal-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	if cfg.SeedFile != "" {
		if err := seedUsers(ctx, st, cfg.SeedFile); err != nil {
			log.Error("failed to seed users", zap.Error(err))
			os.Exit(1)
		}
	}

	files, err := blob.NewLocal(cfg.UploadDir, cfg.MaxUploadSize)
	if err != nil {
		log.Error("failed to prepare upload directory", zap.Error(err))
		os.Exit(1)
	}

	// Event publishing is optional. The health handler must see a nil
	// interface, not a nil *Client, when it is off.
	var (
		events      service.EventPublisher
		eventHealth interface{ IsConnected() bool }
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		events = streamManager
		eventHealth = natsClient
	} else {
		log.Info("NATS_URL not set, message events disabled")
	}

	chatSvc := service.NewChatService(st, files, events, cfg.PublicURL+handler.APIPrefix+"/chat/files", log.Named("chat"))
	healthHandler := handler.NewHealthHandler(st, eventHealth)

	r := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxUploadSize:     cfg.MaxUploadSize,
	}, chatSvc, healthHandler, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// openStore uses Postgres when DATABASE_URL is set and memory otherwise.
func openStore(ctx context.Context, cfg *config.Server, log *logger.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.AutoMigrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func seedUsers(ctx context.Context, st store.Store, path string) error {
	users, err := config.LoadSeedUsers(path)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := st.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	logger.Global().Info("seeded users", zap.Int("count", len(users)))
	return nil
}
