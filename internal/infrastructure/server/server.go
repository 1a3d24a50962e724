package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	api "github.com/wckdouglas/rodeo/internal/api/http"
	"github.com/wckdouglas/rodeo/internal/api/middleware"
	"github.com/wckdouglas/rodeo/internal/api/ws"
	"github.com/wckdouglas/rodeo/internal/artifacts"
	"github.com/wckdouglas/rodeo/internal/history"
	"github.com/wckdouglas/rodeo/internal/infrastructure/config"
	"github.com/wckdouglas/rodeo/internal/infrastructure/logging"
	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/infrastructure/tracing"
	"github.com/wckdouglas/rodeo/internal/interpreters"
	"github.com/wckdouglas/rodeo/internal/kernel"
	"github.com/wckdouglas/rodeo/internal/kernel/embedded"
	"github.com/wckdouglas/rodeo/internal/pipeline"
	"github.com/wckdouglas/rodeo/internal/session"
	"github.com/wckdouglas/rodeo/internal/terminal"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	httpSrv  *http.Server
	sessions *session.Manager
	terms    *terminal.Manager
	registry *interpreters.Registry
	store    *artifacts.Store
	hist     *history.Store
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else if l, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		OutputPaths: []string{"stdout"},
	}); err == nil {
		logger = l
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing rodeo server",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	// Initialize tracing
	tracer := tracing.New("rodeo", logger.Logger)

	// Artifact store backs the event transform pipeline
	store, err := artifacts.New(cfg.Artifacts.Dir, logger.Logger, metrics)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}
	logger.Info("Artifact store ready", zap.String("dir", store.Dir()))

	transformer := pipeline.New(store, logger.Logger, metrics)

	// Execution history (optional)
	var hist *history.Store
	if cfg.History.Enabled {
		path := cfg.History.Path
		if path == "" {
			path = defaultHistoryPath()
		}
		h, err := history.Open(path, logger.Logger)
		if err != nil {
			logger.Warn("Execution history disabled", zap.Error(err))
		} else {
			hist = h
			logger.Info("Execution history enabled", zap.String("path", h.Path()))
		}
	}

	// Kernel launcher handles both subprocess interpreters and the
	// in-process JavaScript runtime
	launcher := kernel.NewLauncher(kernel.Config{
		StartupTimeout: time.Duration(cfg.Kernel.StartupTimeout),
		KillGrace:      time.Duration(cfg.Kernel.KillGrace),
		EventBuffer:    cfg.Kernel.EventBuffer,
		MaxLineBytes:   cfg.Kernel.MaxLineBytes,
	}, logger.Logger, embedded.Factory(logger.Logger))

	sessions := session.NewManager(cfg.Session, launcher, transformer, hist, logger.Logger, metrics)

	// Interpreter registry (optional)
	registry, err := interpreters.NewRegistry(cfg.Interpreters.Registry, logger.Logger)
	if err != nil {
		logger.Warn("Interpreter registry disabled", zap.Error(err))
		registry, _ = interpreters.NewRegistry("", logger.Logger)
	}

	prober := interpreters.NewProber(launcher, time.Duration(cfg.Interpreters.ProbeTimeout), logger.Logger, metrics)

	terms := terminal.NewManager(cfg.Terminal, logger.Logger, metrics)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS())
	router.Use(middleware.Gzip())
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	// Create handlers
	handlers := api.NewHandlers(sessions, store, hist, registry, prober, terms, metrics, logger.Logger)
	wsHandler := ws.NewHandler(sessions, logger.Logger, metrics)

	api.RegisterRoutes(router, handlers, wsHandler.Stream)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized")

	return &Server{
		router:   router,
		httpSrv:  httpSrv,
		sessions: sessions,
		terms:    terms,
		registry: registry,
		store:    store,
		hist:     hist,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Run starts the HTTP server and blocks until Shutdown or failure.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight HTTP requests. Call Close afterwards to
// tear down sessions and terminals.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Draining HTTP connections")
	return s.httpSrv.Shutdown(ctx)
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Kernels first: their event pumps feed the pipeline and history
	s.sessions.Close(ctx)
	s.logger.Info("Closed kernel sessions")

	s.terms.CloseAll()
	s.logger.Info("Closed terminals")

	if err := s.registry.Close(); err != nil {
		s.logger.Warn("Failed to close interpreter registry", zap.Error(err))
	}

	if s.hist != nil {
		if err := s.hist.Close(); err != nil {
			s.logger.Error("Failed to close history store", zap.Error(err))
			return fmt.Errorf("failed to close history store: %w", err)
		}
	}

	s.tracer.Close()
	s.metrics.Close()

	// Sync logger before exit
	s.logger.Sync()

	return nil
}

// defaultHistoryPath puts the history database under the user cache
// directory, next to where other desktop tools keep theirs.
func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "rodeo", "history.db")
}
