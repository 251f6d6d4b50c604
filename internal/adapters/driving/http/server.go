package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-typesense/internal/metrics"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	authService       driving.AuthService
	collectionService driving.CollectionService
	syncService       driving.SyncService
	changeService     driving.RecordChangeService
	searchService     driving.SearchService

	// Infrastructure
	taskQueue driven.TaskQueue
	checks    map[string]Pinger
	metrics   *metrics.Metrics
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
	Logger  *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Dependencies are the services and infrastructure the routes call into.
type Dependencies struct {
	Auth        driving.AuthService
	Collections driving.CollectionService
	Sync        driving.SyncService
	Changes     driving.RecordChangeService
	Search      driving.SearchService
	TaskQueue   driven.TaskQueue
	// Checks are run by /ready, keyed by component name
	Checks  map[string]Pinger
	Metrics *metrics.Metrics // optional
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:            http.NewServeMux(),
		version:           cfg.Version,
		logger:            logger,
		authService:       deps.Auth,
		collectionService: deps.Collections,
		syncService:       deps.Sync,
		changeService:     deps.Changes,
		searchService:     deps.Search,
		taskQueue:         deps.TaskQueue,
		checks:            deps.Checks,
		metrics:           deps.Metrics,
	}

	s.setupRoutes()

	mws := []middleware{recoverer(logger), requestLogger(logger)}
	if s.metrics != nil {
		mws = append(mws, s.metrics.Middleware)
	}
	handler := chain(s.router, mws...)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	guard := func(p domain.Permission, h http.HandlerFunc) http.Handler {
		return chain(h, authenticate(s.authService), requirePermission(p))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwaggerDoc)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}

	// Auth endpoints (public)
	s.router.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	// Collection endpoints
	s.router.Handle("GET /api/v1/collections",
		guard(domain.PermissionView, s.handleListCollections))
	s.router.Handle("POST /api/v1/collections",
		guard(domain.PermissionManage, s.handleCreateCollection))
	s.router.Handle("GET /api/v1/collections/{name}",
		guard(domain.PermissionView, s.handleGetCollection))
	s.router.Handle("PUT /api/v1/collections/{name}",
		guard(domain.PermissionManage, s.handleUpdateCollection))
	s.router.Handle("DELETE /api/v1/collections/{name}",
		guard(domain.PermissionManage, s.handleDeleteCollection))
	s.router.Handle("POST /api/v1/collections/{name}/enable",
		guard(domain.PermissionManage, s.handleEnableCollection))
	s.router.Handle("POST /api/v1/collections/{name}/disable",
		guard(domain.PermissionManage, s.handleDisableCollection))

	// Sync endpoints
	s.router.Handle("POST /api/v1/collections/{name}/reindex",
		guard(domain.PermissionReindex, s.handleReindex))
	s.router.Handle("POST /api/v1/collections/{name}/sync",
		guard(domain.PermissionManage, s.handleStartSync))
	s.router.Handle("GET /api/v1/collections/{name}/sync",
		guard(domain.PermissionView, s.handleGetSyncState))
	s.router.Handle("POST /api/v1/collections/{name}/sync/retry",
		guard(domain.PermissionReindex, s.handleRetrySync))
	s.router.Handle("GET /api/v1/collections/{name}/tasks",
		guard(domain.PermissionView, s.handleListCollectionTasks))
	s.router.Handle("GET /api/v1/sync-states",
		guard(domain.PermissionView, s.handleListSyncStates))

	// Task endpoints
	s.router.Handle("GET /api/v1/tasks/{id}",
		guard(domain.PermissionView, s.handleGetTask))
	s.router.Handle("DELETE /api/v1/tasks/{id}",
		guard(domain.PermissionManage, s.handleCancelTask))
	s.router.Handle("GET /api/v1/queue/stats",
		guard(domain.PermissionView, s.handleQueueStats))

	// Record change intake
	s.router.Handle("POST /api/v1/records/changes",
		guard(domain.PermissionRecordChanges, s.handleRecordChange))

	// Search endpoints
	s.router.Handle("POST /api/v1/search",
		guard(domain.PermissionView, s.handleSearch))
	s.router.Handle("GET /api/v1/search/key",
		guard(domain.PermissionView, s.handleSearchKey))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
