package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/openv0/openv0/pkg/config"
	"github.com/openv0/openv0/pkg/generation"
	"github.com/openv0/openv0/pkg/logging"
	"github.com/openv0/openv0/pkg/metrics"
	"github.com/openv0/openv0/pkg/preview"
	"github.com/openv0/openv0/pkg/projects"
	"github.com/openv0/openv0/pkg/share"
	"github.com/openv0/openv0/pkg/storage"
	"github.com/openv0/openv0/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// Options wires the server's collaborators
type Options struct {
	Config     *config.Config
	Store      *storage.RedisStore
	Projects   *projects.Repository
	Generation *generation.Service
	Previews   *preview.Service
	Shares     *share.Service
	Logger     *logrus.Logger
}

// Server represents the HTTP server for pages and the JSON API
type Server struct {
	config           *config.Config
	store            *storage.RedisStore
	projects         *projects.Repository
	generation       *generation.Service
	previews         *preview.Service
	shares           *share.Service
	logger           *logrus.Logger
	router           *mux.Router
	limiter          *RateLimiter
	metricsCollector *metrics.Collector
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// InfoResponse is returned by GET /api
type InfoResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// NewServer creates a new server and registers its routes
func NewServer(opts Options) *Server {
	s := &Server{
		config:           opts.Config,
		store:            opts.Store,
		projects:         opts.Projects,
		generation:       opts.Generation,
		previews:         opts.Previews,
		shares:           opts.Shares,
		logger:           opts.Logger,
		router:           mux.NewRouter(),
		limiter:          NewRateLimiter(opts.Config.RateLimitPerMinute, opts.Config.TrustedProxies...),
		metricsCollector: metrics.NewCollector(opts.Store, opts.Logger),
	}

	s.router.Use(instrument)
	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)

	// Pages
	s.page("/", s.Landing, http.MethodGet, http.MethodHead)
	s.page("/generator", s.GeneratorPage, http.MethodGet)
	s.page("/generator", s.SubmitGenerator, http.MethodPost)
	s.page("/generator/{session_id}", s.SessionPage, http.MethodGet)
	s.page("/shared/{token}", s.SharedPage, http.MethodGet)
	s.router.PathPrefix("/static/").Handler(staticHandler()).Methods(http.MethodGet, http.MethodHead)

	// Service info and operations
	s.router.HandleFunc("/api", s.Info).Methods("GET")
	s.router.HandleFunc("/health", s.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.Health).Methods("GET")
	s.router.Handle("/metrics", s.metricsHandler()).Methods("GET")

	// JSON API
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.limiter.Middleware(s.sendError))

	v1.HandleFunc("/csrf", s.GenerateCSRFToken).Methods("GET")

	v1.HandleFunc("/projects", s.ListProjects).Methods("GET")
	v1.HandleFunc("/projects", s.CreateProject).Methods("POST")
	v1.HandleFunc("/projects/{id}", s.GetProject).Methods("GET")
	v1.HandleFunc("/projects/{id}", s.UpdateProject).Methods("PUT")
	v1.HandleFunc("/projects/{id}", s.DeleteProject).Methods("DELETE")

	v1.HandleFunc("/generation/plan", s.GeneratePlan).Methods("POST")
	v1.HandleFunc("/generation/execute", s.ExecuteGeneration).Methods("POST")
	v1.HandleFunc("/generation/step", s.ExecuteStep).Methods("POST")
	v1.HandleFunc("/generation/status/{session_id}", s.GenerationStatus).Methods("GET")
	v1.HandleFunc("/generation/stream/{session_id}", s.StreamGeneration).Methods("GET")

	v1.HandleFunc("/preview/update", s.UpdatePreview).Methods("POST")
	v1.HandleFunc("/preview/refresh/{session_id}", s.RefreshPreview).Methods("POST")
	v1.HandleFunc("/preview/share/{session_id}", s.SharePreview).Methods("POST")
	v1.HandleFunc("/preview/{session_id}", s.GetPreview).Methods("GET")

	return s
}

func (s *Server) page(path string, h http.HandlerFunc, methods ...string) {
	s.router.Handle(path, securityHeaders(h)).Methods(methods...)
}

func staticHandler() http.Handler {
	static, err := fs.Sub(web.StaticFiles, "static")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(static)))
}

// RunBackground starts housekeeping goroutines tied to ctx
func (s *Server) RunBackground(ctx context.Context) {
	go s.limiter.Run(ctx)
}

// Info returns the service name and version
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, InfoResponse{
		Message: s.config.AppName + " API",
		Version: s.config.Version,
		Status:  "running",
	})
}

// Health handles health check requests
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// Check Redis health
	if err := s.store.Health(ctx); err != nil {
		s.logError(r, err, "Redis health check failed")
		s.sendError(w, http.StatusServiceUnavailable, "Redis unhealthy", err.Error())
		return
	}

	// Check database health
	if err := s.projects.Ping(ctx); err != nil {
		s.logError(r, err, "Database health check failed")
		s.sendError(w, http.StatusServiceUnavailable, "Database unhealthy", err.Error())
		return
	}

	resp := map[string]string{
		"status":   "healthy",
		"redis":    "connected",
		"database": "connected",
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// Handler returns the router wrapped in the outer middleware chain
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedHosts,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return s.requestLogging(s.recovery(c.Handler(s.router)))
}

// metricsHandler returns an HTTP handler for Prometheus metrics
// It updates metrics from storage on each scrape to ensure fresh data
func (s *Server) metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Update metrics from current storage state
		s.metricsCollector.UpdateMetrics()
		// Serve Prometheus metrics
		promhttp.Handler().ServeHTTP(w, r)
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api") {
		s.sendError(w, http.StatusNotFound, "Not found", "No route for "+r.URL.Path)
		return
	}
	s.renderNotFound(w, r, "The page you are looking for does not exist.")
}

// Helper methods
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) sendError(w http.ResponseWriter, status int, error, message string) {
	resp := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.sendJSON(w, status, resp)
}

// sendServiceError maps domain errors to status codes. Unknown errors are
// logged and answered with a generic 500 carrying fallback.
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, generation.ErrInvalidPrompt),
		errors.Is(err, projects.ErrInvalidName),
		errors.Is(err, projects.ErrInvalidPaging):
		s.sendError(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, generation.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Session not found", "")
	case errors.Is(err, generation.ErrStepNotFound):
		s.sendError(w, http.StatusNotFound, "Step not found", "")
	case errors.Is(err, projects.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Project not found", "")
	case errors.Is(err, preview.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Preview not found", "")
	case errors.Is(err, generation.ErrSessionBusy):
		s.sendError(w, http.StatusConflict, "Session busy", err.Error())
	case errors.Is(err, generation.ErrLLMUnavailable):
		s.sendError(w, http.StatusServiceUnavailable, "Generation unavailable", err.Error())
	default:
		s.logError(r, err, fallback)
		s.sendError(w, http.StatusInternalServerError, fallback, "")
	}
}

func (s *Server) logError(r *http.Request, err error, msg string) {
	logging.FromContext(r.Context(), s.logger).WithError(err).Error(msg)
}
