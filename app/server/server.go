package server

import (
	"context"
	"log/slog"
	"time"

	"visionrag/app/api"
	"visionrag/app/middleware"
	"visionrag/bootstrap"
	"visionrag/config"
	"visionrag/store"

	"github.com/gofiber/fiber/v2"
)

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
	stack      *bootstrap.Stack
}

// NewServer connects every backend and prepares the routes. The index is
// created or checked against the configured dimension here.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		listenAddr: cfg.Server.Addr,
		logger:     logger,
		app:        NewApp(stack.Pipeline, stack.Pipeline, stack.Documents, cfg.Server.BodyLimit, logger),
		stack:      stack,
	}, nil
}

// NewApp registers the HTTP surface on a new fiber app.
func NewApp(answerer api.Answerer, ingester api.Ingester, documents store.DocumentStore, bodyLimitMB int, logger *slog.Logger) *fiber.App {
	var (
		app = fiber.New(fiber.Config{
			ErrorHandler: api.NewErrorHandler(logger),
			BodyLimit:    bodyLimitMB * 1024 * 1024,
		})
		checkHandler    = api.NewCheckHandler()
		requestHandler  = api.NewRequestHandler(answerer)
		fileHandler     = api.NewFileHandler(ingester)
		documentHandler = api.NewDocumentHandler(documents)
	)
	app.Use(middleware.RequestLogger(logger))

	var (
		check = app.Group("/check")
		apiv1 = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/qa", requestHandler.HandleQA)
	apiv1.Post("/upload", fileHandler.HandleUpload)
	apiv1.Get("/documents/:id", documentHandler.HandleGetDocument)

	return app
}

func (s *Server) Run() {
	s.logger.Info("server started", "addr", s.listenAddr)
	if err := s.app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
	}
}

func (s *Server) Stop() {
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		s.logger.Error("error to shutdown server", "error", err.Error())
	}
	if err := s.stack.Close(); err != nil {
		s.logger.Error("error to close backends", "error", err.Error())
	}
	s.logger.Info("server stopped")
}
