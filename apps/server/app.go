package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahaj/chatrelay/pkg/assistant"
	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/chat"
	"github.com/mahaj/chatrelay/pkg/config"
	"github.com/mahaj/chatrelay/pkg/gateway"
	"github.com/mahaj/chatrelay/pkg/metrics"
	"github.com/mahaj/chatrelay/pkg/presence"
	"github.com/mahaj/chatrelay/pkg/upload"
)

// app holds everything the HTTP handlers need.
type app struct {
	cfg      *config.Config
	svc      *chat.Service
	authn    *auth.Authenticator
	hub      *gateway.Hub
	gw       *gateway.Gateway
	presence presence.Store
	uploads  *upload.Disk
	// ai is nil when the assistant is disabled.
	ai *assistant.Client
	// sendPolicy applies to POST /api/messages.
	sendPolicy chat.Policy
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/uploads/*", a.uploads.Handler())
	r.Handle("/ws", a.gw)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if n := a.cfg.RateLimit.AuthRequests; n > 0 {
					r.Use(httprate.LimitByIP(n, a.cfg.RateLimit.Window))
				}
				r.Post("/register", a.register)
				r.Post("/login", a.login)
			})
			r.Group(func(r chi.Router) {
				r.Use(a.authn.Middleware)
				r.Get("/me", a.me)
				r.Post("/logout", a.logout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authn.Middleware)

			r.Route("/channels", func(r chi.Router) {
				r.Get("/", a.listChannels)
				r.Post("/", a.createChannel)
				r.Post("/{channelID}/join", a.joinChannel)
				r.Post("/{channelID}/leave", a.leaveChannel)
				r.Get("/{channelID}/messages", a.channelMessages)
				r.Get("/{channelID}/users", a.channelUsers)
				r.Post("/{channelID}/read", a.markRead)
			})
			r.Get("/unread", a.unread)

			r.Post("/messages", a.postMessage)
			r.Post("/messages/{messageID}/react", a.react)

			r.Post("/upload/file", a.uploadFile)
			r.Post("/ai/ask", a.ask)
		})
	})
	return r
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"connections": a.hub.ClientCount(),
		"time":        time.Now().UTC(),
	}
	if a.ai != nil {
		resp["assistant"] = a.ai.State()
	}
	writeJSON(w, http.StatusOK, resp)
}
