// Package api provides the HTTP API server and handlers for the reader.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/listenup-reader/internal/http/response"
	"github.com/listenupapp/listenup-reader/internal/ratelimit"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/sse"
)

// Config controls the HTTP surface.
type Config struct {
	AllowedOrigins    []string
	RequestsPerSecond float64
	Burst             int
}

// Services are the application services exposed over HTTP.
type Services struct {
	Library  *service.LibraryService
	Sessions *service.SessionService
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	library    *service.LibraryService
	sessions   *service.SessionService
	sseHandler *sse.Handler
	limiter    *ratelimit.KeyedRateLimiter
	cfg        Config
	router     *chi.Mux
	logger     *slog.Logger
	startedAt  time.Time
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(services Services, sseHandler *sse.Handler, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		library:    services.Library,
		sessions:   services.Sessions,
		sseHandler: sseHandler,
		limiter:    ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		cfg:        cfg,
		router:     chi.NewRouter(),
		logger:     logger,
		startedAt:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the rate limiter.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.router.Use(middleware.Compress(5, "application/json"))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.limiter, s.logger))

		r.Get("/events", s.sseHandler.ServeHTTP)

		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.handleListBooks)
			r.Post("/", s.handleCreateBook)
			r.Post("/import", s.handleImportBook)
			r.Get("/{id}", s.handleGetBook)
			r.Delete("/{id}", s.handleDeleteBook)
			r.Get("/{id}/chapters", s.handleListChapters)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleOpenSession)
			r.Get("/", s.handleListSessions)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.withSession)
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleCloseSession)
				r.Get("/items", s.handleListItems)
				r.Post("/load/{intent}", s.handleLoad)
				r.Put("/position", s.handleUpdatePosition)
				r.Patch("/speech/settings", s.handleSpeechSettings)
				r.Post("/speech/{action}", s.handleSpeechAction)
				r.Put("/translation", s.handleSetTranslation)
				r.Get("/events", s.handleSessionEvents)
			})
		})
	})
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, HealthResponse{
		Status:   "healthy",
		Sessions: s.sessions.Count(),
		Uptime:   time.Since(s.startedAt).Truncate(time.Second).String(),
	}, s.logger)
}
