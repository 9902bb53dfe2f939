package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "botmaster/internal/api/v1"
	"botmaster/internal/api/ws"
	"botmaster/internal/config"
	"botmaster/internal/server/middleware"
	redisstore "botmaster/internal/store/redis"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router       chi.Router
	httpServer   *http.Server
	store        v1.DataStore
	pubsub       *redisstore.PubSub // nil when Redis is not configured
	wsHub        *ws.Hub            // nil when Redis is not configured
	orchestrator v1.AgentOrchestrator
	cfg          *config.Config
}

// New creates a Server with all routes wired. pubsub may be nil; the
// WebSocket event routes then answer 501.
func New(ctx context.Context, cfg *config.Config, store v1.DataStore, pubsub *redisstore.PubSub, orchestrator v1.AgentOrchestrator) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router:       router,
		store:        store,
		pubsub:       pubsub,
		orchestrator: orchestrator,
		cfg:          cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	if pubsub != nil {
		s.wsHub = ws.NewHub(pubsub)
	}

	// API routes on /api/v1, guarded by the static operator token.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Server.APIToken))
		r.Use(middleware.RateLimitByIP(ctx, 50, 100))

		apiConfig := huma.DefaultConfig("botMaster API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, store, orchestrator)
	})

	// WebSocket routes: live event tails, only available with Redis.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Server.APIToken))
		if s.wsHub != nil {
			registerWSRoutes(r, s.wsHub)
		} else {
			r.Get("/sessions/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotImplemented)
			})
			r.Get("/events", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotImplemented)
			})
		}
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
