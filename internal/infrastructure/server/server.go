package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/termstack/internal/api/http"
	"github.com/GriffinCanCode/termstack/internal/api/middleware"
	"github.com/GriffinCanCode/termstack/internal/api/ws"
	"github.com/GriffinCanCode/termstack/internal/domain/environment"
	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/domain/orchestrator"
	"github.com/GriffinCanCode/termstack/internal/domain/palette"
	"github.com/GriffinCanCode/termstack/internal/domain/settings"
	"github.com/GriffinCanCode/termstack/internal/domain/shell"
	"github.com/GriffinCanCode/termstack/internal/domain/terminal"
	"github.com/GriffinCanCode/termstack/internal/infrastructure/config"
	"github.com/GriffinCanCode/termstack/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termstack/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termstack/internal/infrastructure/storage"
	"github.com/GriffinCanCode/termstack/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termstack/internal/realtime"
	"github.com/GriffinCanCode/termstack/internal/shared/paths"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	orch     *orchestrator.Orchestrator
	hub      *realtime.Hub
	history  *history.Store
	settings *settings.Store
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer loads persisted state and builds the router
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)

	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	logger.Info("Initializing termstack",
		zap.String("addr", cfg.Addr()),
		zap.String("data_dir", dataDir),
	)

	layout := paths.New(dataDir)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New(logger.Logger)

	store, err := storage.NewFileStore(dataDir, logger.Logger)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	hist, err := history.Open(layout.History(), logger.Logger)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	prefs, err := settings.New(storage.NewBlob(layout.Settings()), logger.Logger)
	if err != nil {
		_ = hist.Close()
		tracer.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	hub := realtime.NewHub(logger.Logger)
	orch := orchestrator.New(orchestrator.Options{
		Store:     store,
		Env:       environment.NewStore(),
		History:   hist,
		Runner:    shell.NewRunner(0),
		Publisher: hub,
		Metrics:   metrics,
		Config:    paletteConfig(cfg),
		Logger:    logger.Logger,
	})

	ctx := context.Background()
	if err := orch.Load(ctx); err != nil {
		_ = hist.Close()
		tracer.Close()
		return nil, err
	}
	if err := orch.Init(ctx); err != nil {
		// the loaded state is live; a failed first save is retried on the next change
		logger.Warn("Initial save failed", zap.Error(err))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Logger))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
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

	handlers := api.NewHandlers(orch, prefs, metrics, hub, nil, logger.Logger).WithLayout(layout)
	handlers.Register(router)

	wsHandler := ws.NewHandler(orch, hub, hist, metrics, tracer, logger.Logger)
	router.GET("/ws", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s := &Server{
		router:   router,
		orch:     orch,
		hub:      hub,
		history:  hist,
		settings: prefs,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}

	if prefs.Bool("stacks.start_on_launch") {
		s.startAll()
	}

	logger.Info("Server initialized successfully", zap.Int("stacks", len(orch.Palettes())))
	return s, nil
}

func paletteConfig(cfg *config.Config) palette.Config {
	return palette.Config{
		Rerun: terminal.RerunConfig{
			Backoff:    cfg.Rerun.Backoff,
			MinUptime:  cfg.Rerun.MinUptime,
			MaxCrashes: cfg.Rerun.MaxCrashes,
			Cooldown:   cfg.Rerun.Cooldown,
		},
		ReplyDelay: cfg.Sequencer.ReplyDelay,
		Cols:       cfg.Terminal.Cols,
		Rows:       cfg.Terminal.Rows,
		Interval:   cfg.Scheduler.Interval,
		Limit:      cfg.Scheduler.Limit,
	}
}

func (s *Server) startAll() {
	for _, p := range s.orch.Palettes() {
		if _, err := s.orch.ToggleStack(p.ID()); err != nil {
			s.logger.Warn("Failed to start stack", zap.String("stack", p.ID()), zap.Error(err))
		}
	}
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	addr := s.config.Addr()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, saves, and stops every terminal
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
		}
	}
	if err := s.orch.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.hub.Close()
	if err := s.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close history: %w", err))
	}
	s.tracer.Close()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
		_ = s.logger.Sync()
		return err
	}
	s.logger.Info("Shutdown complete")
	_ = s.logger.Sync()
	return nil
}
