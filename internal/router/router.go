package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/handlers"
	"timetracker-backend/internal/middleware"
	"timetracker-backend/internal/websocket"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store         Pinger
	Auth          *middleware.IdentityAuth
	Limiter       *middleware.RateLimiter
	Timer         *handlers.TimerHandler
	Entries       *handlers.EntryHandler
	Users         *handlers.UserHandler
	Stream        *handlers.StreamHandler
	Hub           *websocket.Hub
	AllowedOrigin string
	Log           zerolog.Logger
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(middleware.CORS(d.AllowedOrigin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := d.Store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		limited := func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
		}

		// ──── User Routes ────
		r.Group(func(r chi.Router) {
			limited(r)
			r.Post("/users/sync", d.Users.Sync)
			r.Get("/time-entries", d.Entries.List)
			r.Post("/time-entries", d.Entries.Create)
		})

		// ──── Timer Routes ────
		r.Route("/timer", func(r chi.Router) {
			// Streams are long-lived and stay outside the rate limiter.
			r.Get("/stream", d.Stream.Events)
			r.Get("/ws", d.Hub.HandleWebSocket)

			r.Group(func(r chi.Router) {
				limited(r)
				r.Post("/start", d.Timer.Start)
				r.Post("/pause", d.Timer.Pause)
				r.Post("/reset", d.Timer.Reset)
				r.Post("/save", d.Timer.Save)
				r.Get("/session", d.Timer.Session)
				r.Put("/draft", d.Timer.SaveDraft)
				r.Get("/draft/{sessionId}", d.Timer.DraftStatus)
			})
		})
	})

	return r
}
