package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/matchbot/reconcile/internal/config"
	"github.com/matchbot/reconcile/internal/handler"
	"github.com/matchbot/reconcile/internal/middleware"
	"github.com/matchbot/reconcile/pkg/logger"
)

type Server struct {
	echo          *echo.Echo
	cfg           *config.Config
	logger        *logger.Logger
	fileHandler   *handler.FileHandler
	jobHandler    *handler.JobHandler
	healthHandler *handler.HealthHandler
}

func New(
	cfg *config.Config,
	log *logger.Logger,
	fileHandler *handler.FileHandler,
	jobHandler *handler.JobHandler,
	healthHandler *handler.HealthHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Server{
		echo:          e,
		cfg:           cfg,
		logger:        log,
		fileHandler:   fileHandler,
		jobHandler:    jobHandler,
		healthHandler: healthHandler,
	}
}

func (s *Server) Start() error {
	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info(context.Background(), "Starting HTTP server",
		"address", addr,
	)

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echoMiddleware.Recover())
	s.echo.Use(echoMiddleware.CORS())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Logging(s.logger))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler.Check)

	s.echo.POST("/files", s.fileHandler.Register)
	s.echo.POST("/files/:id/uploaded", s.fileHandler.Uploaded)
	s.echo.POST("/files/:id/confirm", s.fileHandler.Confirm)
	s.echo.GET("/files/:id", s.fileHandler.Get)
	s.echo.POST("/files/:id/cancel", s.fileHandler.CancelExtraction)
	s.echo.DELETE("/files/:id", s.fileHandler.Delete)

	s.echo.POST("/jobs", s.jobHandler.Create)
	s.echo.POST("/jobs/:id/run", s.jobHandler.Run)
	s.echo.GET("/jobs/:id", s.jobHandler.Get)
	s.echo.POST("/jobs/:id/cancel", s.jobHandler.Cancel)
	s.echo.GET("/jobs/:id/result", s.jobHandler.LatestResult)
	s.echo.GET("/jobs/:id/results", s.jobHandler.ResultHistory)
}

func (s *Server) Handler() *echo.Echo {
	s.setupMiddleware()
	s.setupRoutes()
	return s.echo
}
