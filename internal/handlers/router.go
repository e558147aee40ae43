package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joakey/joakey/backend/internal/store"
)

// RouterConfig collects everything the HTTP API is built from.
type RouterConfig struct {
	// Backend names the storage backend reported by /health
	Backend     string
	CorsOrigins []string
	Identity    store.IdentityResolver

	Chats    *ChatHandler
	Messages *MessageHandler
	Users    *UserHandler
	Orders   *OrderHandler

	// LiveChat serves /ws/chats/{id}
	LiveChat http.Handler

	// Metrics serves /metrics when set
	Metrics http.Handler
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	log.Printf("CORS allowed origins: %v", cfg.CorsOrigins)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", HealthCheck(cfg.Backend))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireUser(cfg.Identity))

		r.Route("/chats", func(r chi.Router) {
			r.Post("/", cfg.Chats.ResolveChat)
			r.Get("/{id}/messages", cfg.Messages.GetMessages)
			r.Post("/{id}/messages", cfg.Messages.SendMessage)
			r.Patch("/{id}/messages/{messageID}", cfg.Messages.EditMessage)
			r.Delete("/{id}/messages/{messageID}", cfg.Messages.DeleteMessage)
			r.Post("/{id}/attachments", cfg.Messages.UploadAttachment)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/{id}", cfg.Users.GetUser)
			r.Put("/{id}/follow", cfg.Users.Follow)
			r.Delete("/{id}/follow", cfg.Users.Unfollow)
		})

		r.Post("/orders/summary", cfg.Orders.Summary)
	})

	// Live conversation views
	if cfg.LiveChat != nil {
		r.With(RequireUser(cfg.Identity)).Method(http.MethodGet, "/ws/chats/{id}", cfg.LiveChat)
	}

	return r
}
