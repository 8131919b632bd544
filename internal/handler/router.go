package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rpms-portal/messaging/internal/middleware"
	"github.com/rpms-portal/messaging/internal/service"
	"github.com/rpms-portal/messaging/pkg/logger"
)

// APIPrefix is where the chat routes are mounted.
const APIPrefix = "/api/v1"

// RouterConfig holds the HTTP-facing settings of the chat service.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string
	MaxUploadSize     int64
}

// NewRouter wires middleware and routes for the chat service.
func NewRouter(cfg RouterConfig, chat *service.ChatService, health *HealthHandler, log *logger.Logger) http.Handler {
	chatHandler := NewChatHandler(chat, cfg.MaxUploadSize, log.Named("http"))

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route(APIPrefix+"/chat", func(r chi.Router) {
		// File keys are unguessable; attachments are opened by plain links.
		r.Get("/files/{key}", chatHandler.File)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			if cfg.RateLimitRequests > 0 {
				r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			}
			chatHandler.Routes(r)
		})
	})

	return r
}
