package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/fastql/server/internal/api/middleware"
	"github.com/fastql/server/internal/composer"
	apihttp "github.com/fastql/server/internal/http"
	"github.com/fastql/server/internal/infrastructure/config"
	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/infrastructure/monitoring"
	"github.com/fastql/server/internal/interceptor"
	"github.com/fastql/server/internal/process"
	"github.com/fastql/server/internal/session"
	"github.com/fastql/server/internal/storage"
	"github.com/fastql/server/internal/version"
	"github.com/fastql/server/internal/workspace"
	"github.com/fastql/server/internal/ws"
)

const readHeaderTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics

	router    *gin.Engine
	http      *http.Server
	sessions  *session.Manager
	wsHandler *ws.Handler
	workspace *workspace.Workspace
	version   *version.Checker
}

// Option configures a Server.
type Option func(*options)

type options struct {
	spawner process.Spawner
	fs      storage.FS
	metrics *monitoring.Metrics
}

// WithSpawner replaces the PTY spawner.
func WithSpawner(s process.Spawner) Option {
	return func(o *options) {
		o.spawner = s
	}
}

// WithFS replaces the local filesystem used for control commands and
// composer scripts.
func WithFS(fs storage.FS) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithMetrics uses an existing metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// NewServer builds the router and every component behind it.
func NewServer(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	workDir, err := filepath.Abs(cfg.Paths.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	outputDir := cfg.OutputPath()
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(workDir, cfg.Paths.OutputDir)
	}
	publicDir := cfg.Paths.PublicDir
	if !filepath.IsAbs(publicDir) {
		publicDir = filepath.Join(workDir, publicDir)
	}

	logger.Info("Initializing FaStQL server",
		zap.String("addr", cfg.Addr()),
		zap.String("sqlcl_path", cfg.Process.Path),
		zap.String("work_dir", workDir),
		zap.String("output_dir", outputDir),
		zap.String("public_dir", publicDir),
	)

	if o.spawner == nil {
		o.spawner = process.NewPTYSpawner()
	}
	if o.fs == nil {
		o.fs = storage.NewAFS(workDir)
	}
	if o.metrics == nil {
		o.metrics = monitoring.NewMetrics()
	}
	metrics := o.metrics

	outputTree := workspace.New(outputDir, o.fs, logger.Component("workspace"))

	ic := interceptor.New(o.fs,
		interceptor.WithTimeout(cfg.Control.SideEffectTimeout),
		interceptor.WithLogger(logger.Component("interceptor")),
	)

	sessions := session.NewManager(o.spawner, ic, session.Config{
		Tool: cfg.Process.Name,
		Spec: process.Spec{
			Path: cfg.Process.Path,
			Args: cfg.Process.Args,
			Dir:  workDir,
			Term: cfg.Process.Term,
			Cols: cfg.Process.Cols,
			Rows: cfg.Process.Rows,
		},
		SpawnTimeout: cfg.Process.SpawnTimeout,
	}, session.WithLogger(logger.Component("session")), session.WithMetrics(metrics))

	checker := version.NewChecker(cfg.Version.URL, cfg.Version.Timeout,
		version.WithLogger(logger.Component("version")))

	scripts := composer.NewStore(outputTree.ComposerDir(), o.fs)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.CORSOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(sessions, scripts, checker, metrics, logger.Component("http"))
	wsHandler := ws.NewHandler(sessions, ws.WithLogger(logger.Component("ws")), ws.WithMetrics(metrics))

	router.GET("/status", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/version", handlers.Version)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/composer", middleware.NoCache(), handlers.ListScripts)
	router.GET("/composer/:filename", middleware.NoCache(), handlers.GetScript)
	router.POST("/composer", handlers.SaveScript)

	router.GET("/socket", wsHandler.HandleConnection)

	static := gzhttp.GzipHandler(http.FileServer(http.Dir(publicDir)))
	router.NoRoute(middleware.NoCache(), gin.WrapH(static))

	logger.Info("Server initialized successfully")

	return &Server{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		router:    router,
		sessions:  sessions,
		wsHandler: wsHandler,
		workspace: outputTree,
		version:   checker,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Workspace returns the output tree.
func (s *Server) Workspace() *workspace.Workspace {
	return s.workspace
}

// Prepare creates the output tree, empties the scratch directory and starts
// the background version refresh.
func (s *Server) Prepare(ctx context.Context) error {
	if err := s.workspace.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	if err := s.version.Start(s.config.Version.Refresh); err != nil {
		s.logger.Warn("Version refresh disabled", zap.Error(err))
	}
	return nil
}

// Run listens until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return nil
}

// Shutdown closes every socket, ends every session, stops the listener and
// clears the scratch directory.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.wsHandler.Shutdown()

	var errs []error
	if err := s.sessions.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to end sessions", zap.Error(err))
		errs = append(errs, err)
	}
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	s.version.Stop()

	if n, err := s.workspace.ClearTemp(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("Failed to clear temp dir", zap.Error(err))
		errs = append(errs, err)
	} else {
		s.logger.Info("Cleared temp dir", zap.Int("removed", n))
	}

	s.logger.Sync()
	return errors.Join(errs...)
}
