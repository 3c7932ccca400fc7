// Package server exposes the refresh engine over HTTP. The engine produces
// semantic statuses; only this layer maps them to transport codes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/refresh"
)

// RefreshService is the engine contract the server calls into
type RefreshService interface {
	Refresh(ctx context.Context, datasetID string, force bool) refresh.Result
	RefreshAll(ctx context.Context, force bool) []refresh.Result
}

// Service defines the HTTP API service
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app      *fiber.App
	server   *http.Server
	config   *config.APIConfig
	handlers *Handlers
	log      logrus.FieldLogger
}

// NewService creates the HTTP API service
func NewService(cfg *config.APIConfig, handlers *Handlers, log logrus.FieldLogger) Service {
	return &service{
		config:   cfg,
		handlers: handlers,
		log:      log.WithField("service", "api"),
	}
}

// Start initializes and starts the API server
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")

		return nil
	}

	s.app = fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "Refresher API",
	})

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	apiV1 := s.app.Group("/api/v1")
	apiV1.Get("/refresh", s.handlers.HandleRefresh)
	apiV1.Post("/refresh", s.handlers.HandleRefresh)
	apiV1.Get("/datasets", s.handlers.HandleListDatasets)

	s.app.Get("/healthz", func(c fiber.Ctx) error {
		return c.SendString("OK")
	})

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("API server failed")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	return nil
}

// errorHandler provides consistent error responses
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
