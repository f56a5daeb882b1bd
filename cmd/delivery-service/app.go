package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"chat4all/internal/channel"
	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/dedup"
	"chat4all/internal/delivery"
	"chat4all/internal/dispatcher"
	"chat4all/internal/dlq"
	"chat4all/internal/identity"
	"chat4all/internal/logger"
	"chat4all/internal/status"
	"chat4all/pkg/bootstrap"
	"chat4all/pkg/health"
	"chat4all/pkg/logging"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
	"chat4all/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	postgresDB     *sql.DB
	adapters       *channel.Registry
	dispatcher     *dispatcher.Dispatcher
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("delivery-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if err := a.initPostgreSQL(ctx); err != nil {
		initCtx := logging.WithServiceName(ctx, "delivery-service")
		a.Logger.WarnwCtx(initCtx, "PostgreSQL initialization failed, DLQ fallback store will be disabled",
			"error", err,
		)
	}

	if err := a.InitBroker("delivery-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "delivery-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDeliveryMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	return nil
}

func (a *App) initPostgreSQL(ctx context.Context) error {
	postgresDB, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if postgresDB != nil {
		a.postgresDB = postgresDB
	}
	return nil
}

// initPipeline assembles dedup store, identity resolver, channel adapters,
// status publisher, dead-letter handler and the delivery router into the
// dispatcher that the consume loop feeds.
func (a *App) initPipeline(ctx context.Context) error {
	var dedupRepo dedup.Repository = dedup.NewRepository(a.redis)
	if a.Config.CircuitBreaker.Enabled {
		dedupRepo = dedup.NewCircuitBreakerRepository(dedupRepo, a.Config.CircuitBreaker)
	}
	store := dedup.NewStore(dedupRepo, a.Config.Deduplication, a.Logger)

	statusTopic := a.Config.Broker.Kafka.StatusTopic
	if statusTopic == "" {
		statusTopic = constants.DefaultStatusTopic
	}
	statuses := status.NewPublisher(a.Producer, statusTopic, constants.SourceDeliveryService, a.Logger)

	// Mock adapters feed simulated receipts straight back into the status
	// topic, the same path real connector webhooks take.
	receipts := func(messageID string, newStatus models.MessageStatus) {
		statuses.Publish(context.Background(), messageID, newStatus, "")
	}
	adapters, err := channel.NewRegistry(a.Config.Channels, receipts, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build channel registry: %w", err)
	}
	a.adapters = adapters

	// A connector with bad credentials should surface at startup, not on its
	// first delivery. Deliveries still proceed: the connector may recover.
	validateCtx, cancelValidate := context.WithTimeout(ctx, constants.DefaultDeliveryTimeout)
	for ch, credErr := range adapters.ValidateCredentials(validateCtx) {
		a.Logger.Warnw("Channel connector failed credentials validation",
			"channel", ch,
			"error", credErr,
		)
	}
	cancelValidate()

	dlqTopic := a.Config.Broker.Kafka.DLQTopic
	if dlqTopic == "" {
		dlqTopic = constants.DefaultDLQTopic
	}
	var fallback dlq.FallbackRepository
	if a.postgresDB != nil {
		pgFallback := dlq.NewPostgresFallbackRepository(a.postgresDB)
		if err := pgFallback.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare DLQ fallback table: %w", err)
		}
		fallback = pgFallback
	} else {
		fallback = dlq.NewLoggingFallbackRepository(a.Logger)
	}
	deadLetters := dlq.NewHandler(a.Producer, fallback, dlqTopic, a.Logger)

	resolver := identity.NewResolver(a.Config.Resolver, a.Logger)
	router := delivery.NewRouter(a.Config.Delivery, resolver, adapters, statuses, deadLetters, a.Logger)

	a.dispatcher = dispatcher.New(store, router, a.Logger)
	return nil
}

func (a *App) initHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	if a.postgresDB != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.postgresDB))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	messagesTopic := a.Config.Broker.Kafka.MessagesTopic
	if messagesTopic == "" {
		messagesTopic = constants.DefaultMessagesTopic
	}

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting message event consumer", "topic", messagesTopic)
		return a.Consumer.Consume(gCtx, messagesTopic, a.dispatcher.HandleMessage)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "delivery-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down delivery service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.adapters != nil {
			a.adapters.Close()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgresDB, nil)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
