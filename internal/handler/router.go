package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailmind/assistant/internal/middleware"
	natsclient "github.com/mailmind/assistant/internal/nats"
	"github.com/mailmind/assistant/internal/service"
	"github.com/mailmind/assistant/pkg/logger"
)

// RouterConfig holds the dependencies of the HTTP surface.
type RouterConfig struct {
	Conversations *service.ConversationService
	Messages      *service.MessageService
	NATS          *natsclient.Client
	Synthesizer   string
	Logger        *logger.Logger

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter wires handlers and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.NATS, cfg.Synthesizer)
	conversationHandler := NewConversationHandler(cfg.Conversations, cfg.Logger)
	messageHandler := NewMessageHandler(cfg.Messages, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Conversations, cfg.Logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)

				r.Get("/stream", streamHandler.Stream)
			})
		})
	})

	return r
}
