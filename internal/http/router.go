package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig wires handlers into the HTTP surface. Nil handlers leave their routes unmounted.
type RouterConfig struct {
	Availability   *AvailabilityHandler
	Memberships    *MembershipHandler
	Containers     *ContainerHandler
	Sessions       *SessionHandler
	ChangeLog      *ChangeLogHandler
	Tokens         *TokenVerifier
	AllowedOrigins []string
	Health         func(ctx context.Context) error
	Logger         *slog.Logger
	// Middleware runs after authentication, closest to the handlers.
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(cfg.AllowedOrigins))

	r.Get("/healthz", healthHandler(cfg.Health, logger))

	r.Group(func(r chi.Router) {
		if cfg.Tokens != nil {
			r.Use(RequireToken(cfg.Tokens, logger))
		}
		for _, mw := range cfg.Middleware {
			if mw != nil {
				r.Use(mw)
			}
		}

		if cfg.Availability != nil {
			r.Post("/availability/search", cfg.Availability.Search)
		}
		if cfg.Memberships != nil {
			r.Post("/memberships/moves", cfg.Memberships.Move)
			r.Put("/containers/{kind}/{id}/members", cfg.Memberships.Assign)
			r.Post("/participants", cfg.Memberships.RegisterParticipant)
			r.Delete("/participants/{id}/memberships", cfg.Memberships.RemoveFromAll)
		}
		if cfg.Containers != nil {
			r.Post("/containers", cfg.Containers.Create)
			r.Get("/containers/{kind}/{id}", cfg.Containers.Get)
			r.Patch("/containers/{kind}/{id}", cfg.Containers.Update)
			r.Delete("/containers/{kind}/{id}", cfg.Containers.Delete)
		}
		if cfg.Sessions != nil {
			r.Post("/sessions", cfg.Sessions.Create)
			r.Post("/sessions/{id}/participants", cfg.Sessions.AddParticipants)
			r.Get("/sessions/{id}/layout", cfg.Sessions.Layout)
		}
		if cfg.ChangeLog != nil {
			r.Get("/changelog", cfg.ChangeLog.List)
		}
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Google-Token", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	}
	return cors.Handler(opts)
}

func healthHandler(check func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	responder := newResponder(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				responder.loggerFor(r.Context()).ErrorContext(r.Context(), "health check failed", "error", err)
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
