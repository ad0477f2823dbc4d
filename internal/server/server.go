// Package server provides the HTTP API for newsvault.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/newsvault/internal/config"
	"github.com/hyperjump/newsvault/internal/indexer"
	"github.com/hyperjump/newsvault/internal/search"
	"github.com/hyperjump/newsvault/internal/storage"
	"github.com/hyperjump/newsvault/internal/store"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 32 << 20

// VectorIndex is the part of the vector store the API reports on and resets.
type VectorIndex interface {
	Stats() store.Stats
	Clear(ctx context.Context) error
}

// WatchService manages the inbox directories. *watcher.Watcher satisfies it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, sync bool) error
}

// Server is the HTTP server for the newsvault API.
type Server struct {
	engine  *search.Engine
	indexer *indexer.Indexer
	storage storage.Storage
	vectors VectorIndex
	config  *config.Config
	logger  *zap.Logger

	watch      WatchService
	configPath string
	configMu   sync.Mutex

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWatcher exposes inbox directory management. Added directories are
// written back to the config file at configPath when it is non-empty.
func WithWatcher(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	db storage.Storage,
	vectors VectorIndex,
	cfg *config.Config,
	opts ...Option,
) *Server {
	s := &Server{
		engine:  engine,
		indexer: idx,
		storage: db,
		vectors: vectors,
		config:  cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Post("/", s.handleIndexDocument)
			r.Post("/batch", s.handleIndexBatch)
			r.Post("/upload", s.handleUpload)
			r.Post("/batch-delete", s.handleDeleteBatch)
			r.Get("/{id}", s.handleGetDocument)
			r.Put("/{id}", s.handleUpdateDocument)
			r.Delete("/{id}", s.handleDeleteDocument)
		})

		r.Post("/search", s.handleSearch)
		r.Get("/search/history", s.handleSearchHistory)
		r.Delete("/search/history/{id}", s.handleDeleteSearchHistory)

		r.Get("/analysis/stats", s.handleAnalysisStats)
		r.Get("/analysis/time-trend", s.handleTimeTrend)

		r.Post("/index/rebuild", s.handleRebuild)
		r.Delete("/index", s.handleClearIndex)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
