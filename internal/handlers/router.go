package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	appMiddleware "github.com/tubequota/admin/internal/middleware"
	"github.com/tubequota/admin/internal/models"
)

type RouterConfig struct {
	Users *UsersHandler
	Stats *StatsHandler
	Logs  *LogsHandler
	Auth  *AuthHandler
	Usage *UsageHandler

	JWTSecret   string
	IsAdmin     func(email string) bool
	InternalKey string
	CORSOrigins []string

	// Ready backs /ready; nil means always ready.
	Ready   func(ctx context.Context) error
	Metrics http.Handler
	Log     zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(appMiddleware.RequestLogger(cfg.Log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, models.NewErrorResponse("데이터베이스에 연결할 수 없습니다"))
				return
			}
		}
		writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"status": "ready"}))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", cfg.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminAuth(cfg.JWTSecret, cfg.IsAdmin))

			r.Get("/auth/me", cfg.Auth.Me)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/users", cfg.Users.List)
				r.Post("/users", cfg.Users.BulkUpdate)
				r.Route("/users/{email}", func(r chi.Router) {
					r.Get("/", cfg.Users.Get)
					r.Patch("/", cfg.Users.Patch)
					r.Get("/usage", cfg.Users.Usage)
				})
				r.Get("/stats", cfg.Stats.Get)
				r.Get("/logs", cfg.Logs.List)
			})
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(appMiddleware.InternalKey(cfg.InternalKey))
			r.Get("/usage/{email}", cfg.Usage.Check)
			r.Post("/usage/{email}/increment", cfg.Usage.Increment)
		})
	})

	return r
}
