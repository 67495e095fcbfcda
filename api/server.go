// Package api exposes the HTTP interface used by the dashboard and by trusted services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/realtime"
	"github.com/docutag/curator/storage"
)

// Store is the persistence the API reads and writes
type Store interface {
	CreateContent(ctx context.Context, item *models.ContentItem) error
	GetContent(ctx context.Context, userID, id string) (*models.ContentItem, error)
	ListContent(ctx context.Context, userID string, filter models.ContentFilter) ([]*models.ContentItem, error)
	CountContent(ctx context.Context, userID string, filter models.ContentFilter) (int, error)
	DeleteContent(ctx context.Context, userID, id string) error
	ToggleFavorite(ctx context.Context, userID, id string) (*models.ContentItem, error)

	CreateCollection(ctx context.Context, c *models.Collection) error
	ListCollections(ctx context.Context, userID string) ([]*models.Collection, error)
	GetCollection(ctx context.Context, userID, id string) (*models.Collection, error)
	DeleteCollection(ctx context.Context, userID, id string) error
	AddToCollection(ctx context.Context, userID, collectionID string, contentIDs []string) (int, error)
	RemoveFromCollection(ctx context.Context, userID, collectionID, contentID string) error
}

// Processor runs the enrichment pipeline
type Processor interface {
	Process(ctx context.Context, req models.ProcessRequest) (*models.Analysis, error)
}

// ThumbnailExtractor finds a preview image for a URL
type ThumbnailExtractor interface {
	Extract(ctx context.Context, rawURL, hint string) (string, bool)
}

// InsightsGenerator answers insight requests
type InsightsGenerator interface {
	Generate(ctx context.Context, req models.InsightsRequest) (*models.InsightsResponse, error)
}

// pinger is implemented by stores that can report connectivity
type pinger interface {
	Ping(ctx context.Context) error
}

// Config contains server configuration
type Config struct {
	Addr           string
	CORSOrigins    []string
	JWTSecret      string
	ServiceKey     string
	ProcessTimeout time.Duration // budget for one asynchronous enrichment
	MaxUploadBytes int64
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		CORSOrigins:    []string{"*"},
		ProcessTimeout: 2 * time.Minute,
		MaxUploadBytes: 5 * 1024 * 1024,
	}
}

// Dependencies are the collaborators of a Server. Storage may be nil, which
// disables uploads and mirrored thumbnail serving.
type Dependencies struct {
	Store      Store
	Processor  Processor
	Thumbnails ThumbnailExtractor
	Insights   InsightsGenerator
	Bus        realtime.Bus
	Storage    storage.Backend
}

// Server represents the API server
type Server struct {
	config Config
	deps   Dependencies
	auth   *Authenticator
	router chi.Router
	server *http.Server

	// closing is closed when shutdown begins so change streams end
	closing     chan struct{}
	closingOnce sync.Once

	// background enrichments started by content creation
	jobs       sync.WaitGroup
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
}

// NewServer creates a new API server
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil || deps.Processor == nil || deps.Bus == nil {
		return nil, errors.New("store, processor and bus are required")
	}
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = defaults.CORSOrigins
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = defaults.ProcessTimeout
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaults.MaxUploadBytes
	}

	jobsCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		deps:       deps,
		auth:       NewAuthenticator(config.JWTSecret, config.ServiceKey),
		closing:    make(chan struct{}),
		jobsCtx:    jobsCtx,
		cancelJobs: cancel,
	}
	s.router = s.routes()

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           otelhttp.NewHandler(s.router, "curator-api"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// WriteTimeout stays zero so /api/changes streams are not cut off
	}

	s.server.RegisterOnShutdown(s.closeStreams)

	return s, nil
}

func (s *Server) closeStreams() {
	s.closingOnce.Do(func() { close(s.closing) })
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(recordMetrics)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get(thumbnailRoute, s.handleServeThumbnail)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/process", s.handleProcess)
		r.Post("/thumbnail", s.handleThumbnail)
		r.Post("/insights", s.handleInsights)

		r.Route("/content", func(r chi.Router) {
			r.Get("/", s.handleListContent)
			r.Post("/", s.handleCreateContent)
			r.Post("/upload", s.handleUploadContent)
			r.Get("/{id}", s.handleGetContent)
			r.Delete("/{id}", s.handleDeleteContent)
			r.Post("/{id}/favorite", s.handleToggleFavorite)
		})

		r.Route("/collections", func(r chi.Router) {
			r.Get("/", s.handleListCollections)
			r.Post("/", s.handleCreateCollection)
			r.Delete("/{id}", s.handleDeleteCollection)
			r.Get("/{id}/items", s.handleListCollectionItems)
			r.Post("/{id}/items", s.handleAddCollectionItems)
			r.Delete("/{id}/items/{contentId}", s.handleRemoveCollectionItem)
		})

		r.Get("/changes", s.handleChanges)
	})

	return r
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server
func (s *Server) Start() error {
	slog.Info("starting API server", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight enrichments.
// Enrichments still running when ctx expires are cancelled; their records
// are marked failed by the pipeline.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down API server")
	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("cancelling in-flight enrichments")
		s.cancelJobs()
		<-done
	}
	s.cancelJobs()
	return err
}

// enrich runs the pipeline for item in the background
func (s *Server) enrich(item *models.ContentItem) {
	req := models.ProcessRequest{URL: item.URL, UserID: item.UserID, ContentID: item.ID}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		ctx, cancel := context.WithTimeout(s.jobsCtx, s.config.ProcessTimeout)
		defer cancel()

		if _, err := s.deps.Processor.Process(ctx, req); err != nil {
			slog.Warn("background enrichment failed", "content_id", req.ContentID, "error", err)
		}
	}()
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.deps.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  "database unreachable",
				"time":   time.Now().UTC(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// publish notifies the user's subscribers; failures are logged only
func (s *Server) publish(ctx context.Context, userID, table string, op realtime.Op, rowID string) {
	if err := s.deps.Bus.Publish(ctx, realtime.NewChange(userID, table, op, rowID)); err != nil {
		slog.Warn("failed to publish change", "table", table, "row_id", rowID, "error", err)
	}
}

// decodeJSON reads a JSON request body
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
