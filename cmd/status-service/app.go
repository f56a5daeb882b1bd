package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/internal/notifier"
	"chat4all/internal/status"
	"chat4all/pkg/bootstrap"
	"chat4all/pkg/health"
	"chat4all/pkg/logging"
	"chat4all/pkg/metrics"
	"chat4all/pkg/middleware"
	"chat4all/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	mongoClient    *mongo.Client
	hub            *notifier.Hub
	consumer       *status.Consumer
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("status-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb uri is required for the status service")
	}
	a.mongoClient = mongoClient

	if err := a.InitBroker("status-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	databaseName := a.Config.Database.MongoDB.Database
	if databaseName == "" {
		databaseName = constants.DefaultMongoDBName
	}
	collection := a.mongoClient.Database(databaseName).Collection(constants.MessageStatusCollection)
	repository := status.NewMongoRepository(collection)

	a.hub = notifier.NewHub(a.Logger)
	a.consumer = status.NewConsumer(repository, a.hub, a.Logger)

	tp, err := tracing.Init(a.Config.Tracing, "status-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterStatusMetrics()
	metrics.RegisterBrokerMetrics()

	a.initHTTPServer()
	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("status-service"))
	}

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	streamHandler := notifier.NewWebSocketHandler(a.hub, a.Logger)
	router.GET("/v1/status/stream", streamHandler.Handle)

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	statusTopic := a.Config.Broker.Kafka.StatusTopic
	if statusTopic == "" {
		statusTopic = constants.DefaultStatusTopic
	}

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting status update consumer", "topic", statusTopic)
		return a.Consumer.Consume(gCtx, statusTopic, a.consumer.HandleMessage)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "status-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down status service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.hub != nil {
			a.hub.CloseAll()
		}

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, nil, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
