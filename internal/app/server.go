package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/contexta/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/contexta/internal/api/middlewares"
	"github.com/markdave123-py/contexta/internal/config"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/metrics"
)

// Routes is everything the router dispatches to.
type Routes struct {
	Auth      *handlers.AuthHandler
	Documents *handlers.DocumentHandler
	Chat      *handlers.ChatHandler
	JWT       *appMiddleware.JWTAuth
	Health    func(ctx context.Context) error
	Gatherer  prometheus.Gatherer
	Metrics   *metrics.Metrics
}

// NewRouter builds and wires all routes.
func NewRouter(cfg *config.Config, rt Routes, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(logger.Component(log, "http"), rt.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if rt.Health != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := rt.Health(ctx); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	if rt.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", rt.Auth.Signup)
		api.Post("/login", rt.Auth.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(rt.JWT.Middleware)
			protected.Post("/documents/upload", rt.Documents.UploadDocument)
			protected.Get("/documents", rt.Documents.GetDocuments)
			protected.Get("/documents/{id}", rt.Documents.GetDocument)
			protected.Delete("/documents/{id}", rt.Documents.DeleteDocument)
			protected.Post("/chat/query", rt.Chat.QueryDocument)
		})
	})

	return r
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

func NewServer(cfg *config.Config, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.Component(log, "http"),
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
