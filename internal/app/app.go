package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/database"
	"github.com/temcen/hyprec/internal/handlers"
	"github.com/temcen/hyprec/internal/middleware"
	"github.com/temcen/hyprec/internal/services"
	"github.com/temcen/hyprec/internal/validation"
	"github.com/temcen/hyprec/pkg/models"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	cancelConsumer context.CancelFunc
	consumerDone   sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: NewLogger(cfg.Logging),
	}

	recConfig, err := config.LoadRecommenderConfig(cfg.Recommender.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load recommender configuration: %w", err)
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svc, err := services.New(cfg, recConfig, app.logger, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	app.handlers = handlers.New(app.logger, svc.Recommender, svc.Auth, svc.Health, svc.Metrics)

	if err := app.setupRouter(); err != nil {
		db.Close()
		return nil, err
	}

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Logger() *logrus.Logger {
	return a.logger
}

func (a *App) Recommender() *services.RecommenderService {
	return a.services.Recommender
}

// Serve runs the HTTP server and the background work until ctx is done,
// then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + a.config.Server.Port,
		Handler: a.router,
	}

	a.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.logger.WithField("port", a.config.Server.Port).Info("Server started")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := a.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}

	a.logger.Info("Server exited")
	return serveErr
}

// Start launches the background work of the service: the rating consumer
// when Kafka is enabled and, if configured, an initial training job.
func (a *App) Start(ctx context.Context) {
	if a.services.RatingConsumer != nil {
		consumerCtx, cancel := context.WithCancel(ctx)
		a.cancelConsumer = cancel
		a.consumerDone.Add(1)
		go func() {
			defer a.consumerDone.Done()
			if err := a.services.RatingConsumer.Run(consumerCtx); err != nil {
				a.logger.WithError(err).Error("Rating consumer stopped with error")
			}
		}()
	}

	if a.config.Training.OnStartup {
		job, err := a.services.Recommender.StartTraining(ctx, models.TrainingRequest{})
		if err != nil && !errors.Is(err, services.ErrTrainingInProgress) {
			a.logger.WithError(err).Error("Failed to start initial training")
			return
		}
		if job != nil {
			a.logger.WithField("job_id", job.ID).Info("Initial training started")
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancelConsumer != nil {
		a.cancelConsumer()
		a.consumerDone.Wait()
	}

	var errs []error
	if err := a.services.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing services")
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() error {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return fmt.Errorf("failed to load request schemas: %w", err)
	}
	validate := middleware.NewValidationMiddleware(validator)

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))
	router.Use(middleware.Metrics(a.services.Metrics))

	// Health check and metrics endpoints (no auth required)
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", a.handlers.Metrics.Serve)

	api := router.Group("/api/v1")
	{
		api.Use(middleware.RateLimit(a.services.RateLimit, a.logger))

		api.POST("/auth/token", a.handlers.Auth.Token)

		api.GET("/recommendations/:userId", validate.ValidateParams(), a.handlers.Recommendation.Get)
		api.GET("/predictions/:userId", validate.ValidateParams(), middleware.Compression(), a.handlers.Recommendation.Predictions)
		api.POST("/ratings", validate.ValidateRating(), a.handlers.Rating.Create)
		api.GET("/documents/:docId/topics", validate.ValidateParams(), a.handlers.Document.Topics)

		admin := api.Group("/admin")
		admin.Use(middleware.Auth(a.services.Auth, a.logger))
		admin.Use(middleware.RequireRole(services.RoleAdmin))
		{
			admin.POST("/train", a.handlers.Admin.Train)
			admin.GET("/jobs/:jobId", validate.ValidateParams(), a.handlers.Admin.GetJob)
			admin.GET("/evaluation", a.handlers.Admin.Evaluation)
			admin.GET("/status", a.handlers.Admin.Status)
			admin.GET("/config", a.handlers.Admin.GetConfig)
		}
	}

	a.router = router
	return nil
}
